package kdf

import (
	"crypto/sha1" //nolint:gosec // legacy alias support, never used for new material
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
	"strings"

	"github.com/keyward/keyward/internal/errs"
)

var ErrUnsupportedHash = errors.New("unsupported hash algorithm")

// Hash is a normalized digest algorithm name.
type Hash string

const (
	SHA1   Hash = "SHA-1"
	SHA256 Hash = "SHA-256"
	SHA384 Hash = "SHA-384"
	SHA512 Hash = "SHA-512"
)

// hashAliases is the legacy catalogue of spellings accepted from stored
// keyring policies and from request payloads.
var hashAliases = map[string]Hash{
	"sha1":     SHA1,
	"sha-1":    SHA1,
	"sha_1":    SHA1,
	"sha256":   SHA256,
	"sha-256":  SHA256,
	"sha_256":  SHA256,
	"sha2-256": SHA256,
	"sha384":   SHA384,
	"sha-384":  SHA384,
	"sha_384":  SHA384,
	"sha2-384": SHA384,
	"sha512":   SHA512,
	"sha-512":  SHA512,
	"sha_512":  SHA512,
	"sha2-512": SHA512,
}

// NormalizeHash maps a legacy hash spelling onto the fixed catalogue.
func NormalizeHash(name string) (Hash, error) {
	h, ok := hashAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", errs.Wrapf(ErrUnsupportedHash, name)
	}

	return h, nil
}

// New returns the constructor for the underlying digest.
func (h Hash) New() func() hash.Hash {
	switch h {
	case SHA1:
		return sha1.New
	case SHA384:
		return sha512.New384
	case SHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// Size returns the digest length in bytes.
func (h Hash) Size() int {
	return h.New()().Size()
}

func (h Hash) String() string {
	return string(h)
}
