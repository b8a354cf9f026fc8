package auth

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"hash"
	"regexp"
	"strconv"

	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/ident"
)

var (
	ErrMalformedToken = errors.New("malformed bearer token")
	ErrUnknownVersion = errors.New("unknown token version")
)

// bearerTokenPattern is the exact accepted shape
// "<version>.<id_b64url>.<secret_b64url>". Anything else is rejected before
// any decoding is attempted.
var bearerTokenPattern = regexp.MustCompile(
	`^(\d)\.([A-Za-z0-9_-]+={0,2})\.([A-Za-z0-9_-]+={0,2})$`)

// Version selects the digest algorithm of the stored secret hash.
type Version int

const (
	VersionSHA256 Version = 0
	VersionSHA384 Version = 1
	VersionSHA512 Version = 2
)

func (v Version) digest() (func() hash.Hash, error) {
	switch v {
	case VersionSHA256:
		return sha256.New, nil
	case VersionSHA384:
		return sha512.New384, nil
	case VersionSHA512:
		return sha512.New, nil
	}

	return nil, errs.Wrapf(ErrUnknownVersion, strconv.Itoa(int(v)))
}

// Token is a parsed bearer credential. The secret stays private to this
// package; callers only ever see digests and verification outcomes.
type Token struct {
	Version Version
	ID      ident.Identifier

	secret []byte
}

// ParseToken validates the wire shape and decodes both parts.
func ParseToken(bearer string) (*Token, error) {
	match := bearerTokenPattern.FindStringSubmatch(bearer)
	if match == nil {
		return nil, ErrMalformedToken
	}

	version, err := strconv.Atoi(match[1])
	if err != nil {
		return nil, errs.Wrap(ErrMalformedToken, err)
	}

	if _, err := Version(version).digest(); err != nil {
		return nil, err
	}

	idRaw, err := ident.DecodeBytes(match[2], ident.FormatBase64URL)
	if err != nil {
		return nil, errs.Wrap(ErrMalformedToken, err)
	}

	id, err := ident.FromRaw(idRaw)
	if err != nil {
		return nil, errs.Wrap(ErrMalformedToken, err)
	}

	secret, err := ident.DecodeBytes(match[3], ident.FormatBase64URL)
	if err != nil {
		return nil, errs.Wrap(ErrMalformedToken, err)
	}

	return &Token{
		Version: Version(version),
		ID:      id,
		secret:  secret,
	}, nil
}

// HashedSecret digests the secret with the version-selected algorithm. This
// is what gets persisted when a key is minted.
func (t *Token) HashedSecret() []byte {
	newHash, err := t.Version.digest()
	if err != nil {
		return nil
	}

	h := newHash()
	h.Write(t.secret)

	return h.Sum(nil)
}

// VerifySecret compares the secret's digest against the stored hash in
// constant time. The comparison never branches on which byte differs.
func (t *Token) VerifySecret(storedHash []byte) bool {
	computed := t.HashedSecret()
	if computed == nil || len(computed) != len(storedHash) {
		return false
	}

	return subtle.ConstantTimeCompare(computed, storedHash) == 1
}
