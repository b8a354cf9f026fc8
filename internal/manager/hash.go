package manager

import (
	"encoding/hex"
	"errors"
	"io"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/kdf"
)

var ErrHashInput = errors.New("failed to read hash input")

// HashManager computes keyless digests. The capability is gated like the
// keyed operations even though no key material is involved.
type HashManager struct{}

func NewHashManager() *HashManager {
	return &HashManager{}
}

// Digest returns the hex digest of the input under the named algorithm.
func (*HashManager) Digest(permissions auth.Permissions, algorithm string, input []byte) (string, error) {
	hash, err := checkHash(permissions, algorithm)
	if err != nil {
		return "", err
	}

	digest := hash.New()()
	digest.Write(input)

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// DigestReader streams the reader through the digest, for file uploads.
func (*HashManager) DigestReader(permissions auth.Permissions, algorithm string, r io.Reader) (string, error) {
	hash, err := checkHash(permissions, algorithm)
	if err != nil {
		return "", err
	}

	digest := hash.New()()

	_, err = io.Copy(digest, r)
	if err != nil {
		return "", errs.Wrap(ErrHashInput, err)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

func checkHash(permissions auth.Permissions, algorithm string) (kdf.Hash, error) {
	if !permissions.Allows(func(g auth.KeyringPermissions) bool { return g.Hash }) {
		return "", errs.Wrapf(ErrNotPermitted, "hash")
	}

	return kdf.NormalizeHash(algorithm)
}
