package kdf

import (
	"errors"
	"strings"

	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	ErrUnsupportedKeySize = errors.New("unsupported key size")
	ErrKeyGeneration      = errors.New("failed to generate key pair")
	ErrKeyMaterial        = errors.New("failed to obtain key material")
	ErrMissingPrivateKey  = errors.New("private key is required")
)

// KeyType tags an algorithm family stored on a keyring.
type KeyType string

const (
	KeyTypeRSA    KeyType = "RSA"
	KeyTypeECDSA  KeyType = "ECDSA"
	KeyTypeECDH   KeyType = "ECDH"
	KeyTypeOKP    KeyType = "OKP"
	KeyTypeHMAC   KeyType = "HMAC"
	KeyTypeAES    KeyType = "AES"
	KeyTypeMLKEM  KeyType = "ML-KEM"
	KeyTypeMLDSA  KeyType = "ML-DSA"
	KeyTypeSLHDSA KeyType = "SLH-DSA"
)

// KeyPair is the serialized JSON Web Key pair a family produces. Private is
// always set; Public is nil for symmetric families.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// Family is one algorithm family of the derivation catalogue. Implementations
// turn stored JWKs back into raw secret bytes and mint fresh generations.
type Family interface {
	// DeriveKeyMaterial extracts the raw secret bytes private‖public from
	// the serialized JWK pair.
	DeriveKeyMaterial(private, public []byte, hash Hash, keySize *int) ([]byte, error)

	// GenerateKeyPair mints a fresh key pair. When keySize is nil the
	// family infers its size tier from the hash.
	GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error)
}

var families = map[KeyType]Family{
	KeyTypeRSA:    rsaFamily{},
	KeyTypeECDSA:  ecFamily{},
	KeyTypeECDH:   ecFamily{},
	KeyTypeOKP:    okpFamily{},
	KeyTypeHMAC:   hmacFamily{},
	KeyTypeAES:    aesFamily{},
	KeyTypeMLKEM:  kemFamily{},
	KeyTypeMLDSA:  mldsaFamily{},
	KeyTypeSLHDSA: slhdsaFamily{},
}

// FamilyFor resolves the family registered for a key type tag.
func FamilyFor(keyType KeyType) (Family, error) {
	f, ok := families[KeyType(strings.ToUpper(string(keyType)))]
	if !ok {
		return nil, errs.Wrapf(ErrUnsupportedKeyType, string(keyType))
	}

	return f, nil
}
