package kdf

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/go-jose/go-jose/v4"

	"github.com/keyward/keyward/internal/errs"
)

// rsaFamily covers RSA-PSS, RSA-OAEP and PKCS1 shaped keys. They share one
// import/export path; the padding scheme is a property of use, not of the
// stored material.
type rsaFamily struct{}

func (rsaFamily) DeriveKeyMaterial(private, public []byte, _ Hash, _ *int) ([]byte, error) {
	return nativeKeyMaterial(private, public)
}

func (rsaFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	bits, err := rsaBits(hash, keySize)
	if err != nil {
		return KeyPair{}, err
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return marshalNativePair(key, &key.PublicKey)
}

func rsaBits(hash Hash, keySize *int) (int, error) {
	if keySize != nil {
		switch *keySize {
		case 2048, 3072, 4096:
			return *keySize, nil
		default:
			return 0, errs.Wrapf(ErrUnsupportedKeySize, hash.String())
		}
	}

	switch hash {
	case SHA1, SHA256:
		return 2048, nil
	case SHA384:
		return 3072, nil
	case SHA512:
		return 4096, nil
	}

	return 0, errs.Wrapf(ErrUnsupportedKeySize, hash.String())
}

// ecFamily covers ECDSA and ECDH. Both store NIST-curve keys; the agreement
// versus signature use does not change derivation.
type ecFamily struct{}

func (ecFamily) DeriveKeyMaterial(private, public []byte, _ Hash, _ *int) ([]byte, error) {
	return nativeKeyMaterial(private, public)
}

func (ecFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	curve, err := ecCurve(hash, keySize)
	if err != nil {
		return KeyPair{}, err
	}

	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return marshalNativePair(key, &key.PublicKey)
}

func ecCurve(hash Hash, keySize *int) (elliptic.Curve, error) {
	size := 0
	if keySize != nil {
		size = *keySize
	} else {
		switch hash {
		case SHA1, SHA256:
			size = 256
		case SHA384:
			size = 384
		case SHA512:
			size = 521
		}
	}

	switch size {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	}

	return nil, errs.Wrapf(ErrUnsupportedKeySize, hash.String())
}

// okpFamily stores Ed25519 keys. There is exactly one size tier, keySize is
// ignored.
type okpFamily struct{}

func (okpFamily) DeriveKeyMaterial(private, public []byte, _ Hash, _ *int) ([]byte, error) {
	return nativeKeyMaterial(private, public)
}

func (okpFamily) GenerateKeyPair(_ Hash, _ *int) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return marshalNativePair(priv, pub)
}

// hmacFamily stores a raw symmetric secret sized to the digest length.
type hmacFamily struct{}

func (hmacFamily) DeriveKeyMaterial(private, _ []byte, _ Hash, _ *int) ([]byte, error) {
	return symmetricKeyMaterial(private)
}

func (hmacFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	size := hash.Size()
	if keySize != nil {
		size = *keySize / 8
	}

	return generateSymmetric(size)
}

// aesFamily stores a raw symmetric secret of 128, 192 or 256 bits.
type aesFamily struct{}

func (aesFamily) DeriveKeyMaterial(private, _ []byte, _ Hash, _ *int) ([]byte, error) {
	return symmetricKeyMaterial(private)
}

func (aesFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	bits := 0
	if keySize != nil {
		bits = *keySize
	} else {
		switch hash {
		case SHA1, SHA256:
			bits = 128
		case SHA384:
			bits = 192
		case SHA512:
			bits = 256
		}
	}

	switch bits {
	case 128, 192, 256:
		return generateSymmetric(bits / 8)
	}

	return KeyPair{}, errs.Wrapf(ErrUnsupportedKeySize, hash.String())
}

// nativeKeyMaterial imports the JWK pair through the platform key encoding
// and returns private‖public raw bytes.
func nativeKeyMaterial(private, public []byte) ([]byte, error) {
	if len(private) == 0 {
		return nil, ErrMissingPrivateKey
	}

	var privJWK jose.JSONWebKey

	err := privJWK.UnmarshalJSON(private)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	material, err := x509.MarshalPKCS8PrivateKey(privJWK.Key)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	if len(public) == 0 {
		return material, nil
	}

	var pubJWK jose.JSONWebKey

	err = pubJWK.UnmarshalJSON(public)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	pubRaw, err := x509.MarshalPKIXPublicKey(pubJWK.Key)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	return append(material, pubRaw...), nil
}

func symmetricKeyMaterial(private []byte) ([]byte, error) {
	if len(private) == 0 {
		return nil, ErrMissingPrivateKey
	}

	var jwk jose.JSONWebKey

	err := jwk.UnmarshalJSON(private)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	secret, ok := jwk.Key.([]byte)
	if !ok {
		return nil, errs.Wrapf(ErrKeyMaterial, "not a symmetric key")
	}

	return secret, nil
}

func generateSymmetric(size int) (KeyPair, error) {
	secret := make([]byte, size)

	_, err := rand.Read(secret)
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	privJSON, err := (&jose.JSONWebKey{Key: secret}).MarshalJSON()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return KeyPair{Private: privJSON}, nil
}

func marshalNativePair(private any, public any) (KeyPair, error) {
	privJSON, err := (&jose.JSONWebKey{Key: private}).MarshalJSON()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	pubJSON, err := (&jose.JSONWebKey{Key: public}).MarshalJSON()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return KeyPair{Private: privJSON, Public: pubJSON}, nil
}
