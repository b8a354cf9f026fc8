package kdf

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	kemschemes "github.com/cloudflare/circl/kem/schemes"
	signschemes "github.com/cloudflare/circl/sign/schemes"
	"github.com/cloudflare/circl/sign/slhdsa"

	"github.com/keyward/keyward/internal/errs"
)

// pqcJWK is the non-standard JWK shape used for post-quantum families: alg
// carries the family name, crv the concrete parameter set, and x/d pack the
// raw public/private key bytes base64url.
type pqcJWK struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	X   string `json:"x,omitempty"`
	D   string `json:"d,omitempty"`
}

const pqcKeyType = "PQK"

// kemFamily mints and unpacks ML-KEM keys through the scheme registry.
type kemFamily struct{}

func (kemFamily) DeriveKeyMaterial(private, public []byte, _ Hash, _ *int) ([]byte, error) {
	return pqcKeyMaterial(private, public)
}

func (kemFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	tier := 0
	if keySize != nil {
		tier = *keySize
	} else {
		switch hash {
		case SHA1, SHA256:
			tier = 512
		case SHA384:
			tier = 768
		case SHA512:
			tier = 1024
		}
	}

	name := fmt.Sprintf("ML-KEM-%d", tier)

	scheme := kemschemes.ByName(name)
	if scheme == nil {
		return KeyPair{}, errs.Wrapf(ErrUnsupportedKeySize, name)
	}

	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	privRaw, err := priv.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	pubRaw, err := pub.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return marshalPQCPair("ML-KEM", name, privRaw, pubRaw)
}

// mldsaFamily mints and unpacks ML-DSA keys through the scheme registry.
type mldsaFamily struct{}

func (mldsaFamily) DeriveKeyMaterial(private, public []byte, _ Hash, _ *int) ([]byte, error) {
	return pqcKeyMaterial(private, public)
}

func (mldsaFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	tier := 0
	if keySize != nil {
		tier = *keySize
	} else {
		switch hash {
		case SHA1, SHA256:
			tier = 44
		case SHA384:
			tier = 65
		case SHA512:
			tier = 87
		}
	}

	switch tier {
	case 44, 65, 87:
	default:
		return KeyPair{}, errs.Wrapf(ErrUnsupportedKeySize, strconv.Itoa(tier))
	}

	name := fmt.Sprintf("ML-DSA-%d", tier)

	scheme := signschemes.ByName(name)
	if scheme == nil {
		return KeyPair{}, errs.Wrapf(ErrUnsupportedKeySize, name)
	}

	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	privRaw, err := priv.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	pubRaw, err := pub.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return marshalPQCPair("ML-DSA", name, privRaw, pubRaw)
}

// slhdsaFamily mints and unpacks SLH-DSA keys. The parameter sets are
// addressed directly; the generic scheme registry does not carry them.
type slhdsaFamily struct{}

func (slhdsaFamily) DeriveKeyMaterial(private, public []byte, _ Hash, _ *int) ([]byte, error) {
	return pqcKeyMaterial(private, public)
}

func (slhdsaFamily) GenerateKeyPair(hash Hash, keySize *int) (KeyPair, error) {
	tier := 0
	if keySize != nil {
		tier = *keySize
	} else {
		switch hash {
		case SHA1, SHA256:
			tier = 128
		case SHA384:
			tier = 192
		case SHA512:
			tier = 256
		}
	}

	var id slhdsa.ID

	switch tier {
	case 128:
		id = slhdsa.SHA2_128s
	case 192:
		id = slhdsa.SHA2_192s
	case 256:
		id = slhdsa.SHA2_256s
	default:
		return KeyPair{}, errs.Wrapf(ErrUnsupportedKeySize, strconv.Itoa(tier))
	}

	pub, priv, err := slhdsa.GenerateKey(rand.Reader, id)
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	privRaw, err := priv.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	pubRaw, err := pub.MarshalBinary()
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return marshalPQCPair("SLH-DSA", id.String(), privRaw, pubRaw)
}

// pqcKeyMaterial decodes the x/d packed raw bytes and returns
// private‖public.
func pqcKeyMaterial(private, public []byte) ([]byte, error) {
	if len(private) == 0 {
		return nil, ErrMissingPrivateKey
	}

	var priv pqcJWK

	err := json.Unmarshal(private, &priv)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	material, err := base64.RawURLEncoding.DecodeString(priv.D)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	if len(material) == 0 {
		return nil, ErrMissingPrivateKey
	}

	if len(public) == 0 {
		return material, nil
	}

	var pub pqcJWK

	err = json.Unmarshal(public, &pub)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	pubRaw, err := base64.RawURLEncoding.DecodeString(pub.X)
	if err != nil {
		return nil, errs.Wrap(ErrKeyMaterial, err)
	}

	return append(material, pubRaw...), nil
}

func marshalPQCPair(family, scheme string, privRaw, pubRaw []byte) (KeyPair, error) {
	privJSON, err := json.Marshal(pqcJWK{
		Kty: pqcKeyType,
		Alg: family,
		Crv: scheme,
		D:   base64.RawURLEncoding.EncodeToString(privRaw),
	})
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	pubJSON, err := json.Marshal(pqcJWK{
		Kty: pqcKeyType,
		Alg: family,
		Crv: scheme,
		X:   base64.RawURLEncoding.EncodeToString(pubRaw),
	})
	if err != nil {
		return KeyPair{}, errs.Wrap(ErrKeyGeneration, err)
	}

	return KeyPair{Private: privJSON, Public: pubJSON}, nil
}
