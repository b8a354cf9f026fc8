package kdf

import (
	"crypto/rand"
	"errors"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"

	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrKeyDerivation       = errors.New("failed to derive key material")
	ErrUnsupportedStrength = errors.New("unsupported bit strength")
)

// Params carries everything needed to rebuild one generation's working keys
// from its stored material.
type Params struct {
	KeyType KeyType
	KeySize *int
	Hash    string

	// PrivateKey and PublicKey are the serialized JWKs fetched from the
	// vault. PublicKey may be empty.
	PrivateKey []byte
	PublicKey  []byte

	Salt    []byte
	MacInfo []byte

	// BitStrength selects the encryption key length, one of 128/192/256.
	BitStrength int
}

// Material is the pair of purpose-separated working keys for one call. Both
// stay in memory only; neither is ever persisted.
type Material struct {
	EncryptionKey []byte
	MACKey        []byte
	Hash          Hash
}

// Derive rebuilds the encryption and MAC keys from a generation's stored
// material. Two expansions share the same salt: an empty info yields the
// encryption key, the stored mac-info yields the MAC key. One private blob
// plus two small public parameters is all that must be persisted per
// generation.
func Derive(p Params) (Material, error) {
	hash, err := NormalizeHash(p.Hash)
	if err != nil {
		return Material{}, err
	}

	switch p.BitStrength {
	case 128, 192, 256:
	default:
		return Material{}, errs.Wrapf(ErrUnsupportedStrength, strconv.Itoa(p.BitStrength))
	}

	family, err := FamilyFor(p.KeyType)
	if err != nil {
		return Material{}, err
	}

	secret, err := family.DeriveKeyMaterial(p.PrivateKey, p.PublicKey, hash, p.KeySize)
	if err != nil {
		return Material{}, err
	}

	encKey, err := expand(hash, secret, p.Salt, nil, p.BitStrength/8)
	if err != nil {
		return Material{}, err
	}

	macKey, err := expand(hash, secret, p.Salt, p.MacInfo, hash.Size())
	if err != nil {
		return Material{}, err
	}

	return Material{
		EncryptionKey: encKey,
		MACKey:        macKey,
		Hash:          hash,
	}, nil
}

// Generate mints a fresh key pair for the family tagged on a keyring.
func Generate(keyType KeyType, hashName string, keySize *int) (KeyPair, error) {
	hash, err := NormalizeHash(hashName)
	if err != nil {
		return KeyPair{}, err
	}

	family, err := FamilyFor(keyType)
	if err != nil {
		return KeyPair{}, err
	}

	return family.GenerateKeyPair(hash, keySize)
}

// NewSalt returns random bytes sized to the digest length of the hash.
func NewSalt(hashName string) ([]byte, error) {
	hash, err := NormalizeHash(hashName)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, hash.Size())

	_, err = rand.Read(salt)
	if err != nil {
		return nil, errs.Wrap(ErrKeyDerivation, err)
	}

	return salt, nil
}

func expand(hash Hash, secret, salt, info []byte, size int) ([]byte, error) {
	out := make([]byte, size)

	_, err := io.ReadFull(hkdf.New(hash.New(), secret, salt, info), out)
	if err != nil {
		return nil, errs.Wrap(ErrKeyDerivation, err)
	}

	return out, nil
}
