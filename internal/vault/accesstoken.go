package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/keyward/keyward/internal/errs"
)

var ErrInvalidAccessToken = errors.New("invalid vault access token")

// accessTokenContext is the fixed context string of the vault's access-token
// key-stretch step.
const accessTokenContext = "bitwarden-accesstoken"

const accessTokenVersion = "0"

// AccessToken is the compound machine credential
// "0.client_id.client_secret:encryption_key_fragment".
type AccessToken struct {
	ClientID     string
	ClientSecret string

	encryptionKey []byte
}

// ParseAccessToken validates the compound token shape and decodes the key
// fragment.
func ParseAccessToken(value string) (*AccessToken, error) {
	credentials, fragment, found := strings.Cut(value, ":")
	if !found {
		return nil, errs.Wrapf(ErrInvalidAccessToken, "missing encryption key fragment")
	}

	parts := strings.Split(credentials, ".")
	if len(parts) != 3 {
		return nil, errs.Wrapf(ErrInvalidAccessToken, "expected version.client_id.client_secret")
	}

	if parts[0] != accessTokenVersion {
		return nil, errs.Wrapf(ErrInvalidAccessToken, "unknown token version")
	}

	if parts[1] == "" || parts[2] == "" {
		return nil, errs.Wrapf(ErrInvalidAccessToken, "empty credential part")
	}

	key, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidAccessToken, err)
	}

	if len(key) != 16 {
		return nil, errs.Wrapf(ErrInvalidAccessToken, "key fragment must be 16 bytes")
	}

	return &AccessToken{
		ClientID:      parts[1],
		ClientSecret:  parts[2],
		encryptionKey: key,
	}, nil
}

// StretchKey derives the variant 2 payload key from the token's encryption
// key fragment: HMAC-SHA-256 over the fixed context keyed by the fragment,
// then HKDF-expanded to 64 bytes.
func (t *AccessToken) StretchKey() (SymmetricKey, error) {
	mac := hmac.New(sha256.New, t.encryptionKey)
	mac.Write([]byte(accessTokenContext))
	prk := mac.Sum(nil)

	stretched := make([]byte, 64)

	_, err := io.ReadFull(hkdf.Expand(sha256.New, prk, nil), stretched)
	if err != nil {
		return SymmetricKey{}, errs.Wrap(ErrInvalidAccessToken, err)
	}

	return NewSymmetricKey(stretched, VariantAES256MAC)
}
