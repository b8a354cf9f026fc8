package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrInvalidEncString   = errors.New("invalid encrypted string")
	ErrInvalidSecretKey   = errors.New("invalid symmetric key material")
	ErrMACMismatch        = errors.New("encrypted string MAC mismatch")
	ErrUnexpectedMACKey   = errors.New("variant 0 does not take a MAC key")
	ErrEncStringEncrypt   = errors.New("failed to encrypt value")
	ErrEncStringDecrypt   = errors.New("failed to decrypt value")
	ErrUnsupportedVariant = errors.New("unsupported encrypted string variant")
)

// EncString variants. The variant selects cipher width and MAC presence.
const (
	VariantAES256NoMAC = 0
	VariantAES128MAC   = 1
	VariantAES256MAC   = 2
)

// EncString is the vault's client-side symmetric envelope:
// "<variant>.<iv_b64>|<data_b64>[|<mac_b64>]".
type EncString struct {
	Variant int
	IV      []byte
	Data    []byte
	MAC     []byte
}

// ParseEncString splits the wire form into its parts.
func ParseEncString(value string) (*EncString, error) {
	head, rest, found := strings.Cut(value, ".")
	if !found {
		return nil, errs.Wrapf(ErrInvalidEncString, "missing variant tag")
	}

	variant, err := strconv.Atoi(head)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEncString, err)
	}

	parts := strings.Split(rest, "|")

	switch variant {
	case VariantAES256NoMAC:
		if len(parts) != 2 {
			return nil, errs.Wrapf(ErrInvalidEncString, "variant 0 takes 2 parts")
		}
	case VariantAES128MAC, VariantAES256MAC:
		if len(parts) != 3 {
			return nil, errs.Wrapf(ErrInvalidEncString, "variants 1 and 2 take 3 parts")
		}
	default:
		return nil, errs.Wrapf(ErrUnsupportedVariant, head)
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEncString, err)
	}

	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEncString, err)
	}

	enc := &EncString{Variant: variant, IV: iv, Data: data}

	if len(parts) == 3 {
		enc.MAC, err = base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return nil, errs.Wrap(ErrInvalidEncString, err)
		}
	}

	return enc, nil
}

// String renders the wire form.
func (e *EncString) String() string {
	parts := []string{
		base64.StdEncoding.EncodeToString(e.IV),
		base64.StdEncoding.EncodeToString(e.Data),
	}

	if e.MAC != nil {
		parts = append(parts, base64.StdEncoding.EncodeToString(e.MAC))
	}

	return fmt.Sprintf("%d.%s", e.Variant, strings.Join(parts, "|"))
}

// SymmetricKey is the split key material backing an EncString variant.
// MACKey is nil for variant 0.
type SymmetricKey struct {
	EncKey []byte
	MACKey []byte
}

// NewSymmetricKey splits a raw key blob per variant convention: variant 0
// takes 32 bytes with no MAC, variant 1 splits 32 bytes 16/16, variant 2
// splits 64 bytes 32/32.
func NewSymmetricKey(raw []byte, variant int) (SymmetricKey, error) {
	switch variant {
	case VariantAES256NoMAC:
		if len(raw) != 32 {
			return SymmetricKey{}, errs.Wrapf(ErrInvalidSecretKey, "variant 0 takes 32 bytes")
		}

		return SymmetricKey{EncKey: raw}, nil
	case VariantAES128MAC:
		if len(raw) != 32 {
			return SymmetricKey{}, errs.Wrapf(ErrInvalidSecretKey, "variant 1 takes 32 bytes")
		}

		return SymmetricKey{EncKey: raw[:16], MACKey: raw[16:]}, nil
	case VariantAES256MAC:
		if len(raw) != 64 {
			return SymmetricKey{}, errs.Wrapf(ErrInvalidSecretKey, "variant 2 takes 64 bytes")
		}

		return SymmetricKey{EncKey: raw[:32], MACKey: raw[32:]}, nil
	}

	return SymmetricKey{}, errs.Wrapf(ErrUnsupportedVariant, strconv.Itoa(variant))
}

// Decrypt opens the envelope with the given key. For MACed variants the MAC
// over iv‖ciphertext is verified before any decryption. Supplying a MAC key
// for variant 0 is a protocol violation and fails.
func (e *EncString) Decrypt(key SymmetricKey) ([]byte, error) {
	switch e.Variant {
	case VariantAES256NoMAC:
		if key.MACKey != nil {
			return nil, ErrUnexpectedMACKey
		}
	case VariantAES128MAC, VariantAES256MAC:
		if key.MACKey == nil {
			return nil, errs.Wrapf(ErrInvalidSecretKey, "MAC key required")
		}

		if !hmac.Equal(macSum(key.MACKey, e.IV, e.Data), e.MAC) {
			return nil, ErrMACMismatch
		}
	default:
		return nil, errs.Wrapf(ErrUnsupportedVariant, strconv.Itoa(e.Variant))
	}

	block, err := aes.NewCipher(key.EncKey)
	if err != nil {
		return nil, errs.Wrap(ErrEncStringDecrypt, err)
	}

	if len(e.IV) != aes.BlockSize ||
		len(e.Data) == 0 || len(e.Data)%aes.BlockSize != 0 {
		return nil, errs.Wrapf(ErrEncStringDecrypt, "bad block length")
	}

	padded := make([]byte, len(e.Data))
	cipher.NewCBCDecrypter(block, e.IV).CryptBlocks(padded, e.Data)

	plaintext, err := unpadPKCS7(padded)
	if err != nil {
		return nil, ErrEncStringDecrypt
	}

	return plaintext, nil
}

// Encrypt seals plaintext as variant 2 with a fresh IV. Uploads always use
// the strongest variant.
func Encrypt(key SymmetricKey, plaintext []byte) (*EncString, error) {
	if len(key.EncKey) != 32 || len(key.MACKey) != 32 {
		return nil, errs.Wrapf(ErrInvalidSecretKey, "variant 2 key required")
	}

	iv := make([]byte, aes.BlockSize)

	_, err := rand.Read(iv)
	if err != nil {
		return nil, errs.Wrap(ErrEncStringEncrypt, err)
	}

	block, err := aes.NewCipher(key.EncKey)
	if err != nil {
		return nil, errs.Wrap(ErrEncStringEncrypt, err)
	}

	padded := padPKCS7(plaintext)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	return &EncString{
		Variant: VariantAES256MAC,
		IV:      iv,
		Data:    data,
		MAC:     macSum(key.MACKey, iv, data),
	}, nil
}

func macSum(key, iv, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(iv)
	mac.Write(data)

	return mac.Sum(nil)
}

func padPKCS7(plaintext []byte) []byte {
	n := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+n)
	copy(padded, plaintext)

	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(n)
	}

	return padded
}

func unpadPKCS7(padded []byte) ([]byte, error) {
	if len(padded) == 0 {
		return nil, ErrEncStringDecrypt
	}

	n := int(padded[len(padded)-1])
	if n == 0 || n > aes.BlockSize || n > len(padded) {
		return nil, ErrEncStringDecrypt
	}

	for _, b := range padded[len(padded)-n:] {
		if int(b) != n {
			return nil, ErrEncStringDecrypt
		}
	}

	return padded[:len(padded)-n], nil
}
