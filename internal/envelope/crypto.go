package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"errors"

	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/kdf"
)

var (
	ErrIntegrity  = errors.New("integrity check failed")
	ErrEncryption = errors.New("encryption failed")
	ErrDecryption = errors.New("decryption failed")
	ErrKeyLength  = errors.New("key length does not match bit strength")
)

const (
	gcmIVSize = 12
	blockSize = aes.BlockSize
)

// encrypt produces the mode-specific preamble and ciphertext.
func encrypt(algorithm Algorithm, key, plaintext []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, errs.Wrap(ErrEncryption, err)
	}

	switch algorithm {
	case AESGCM:
		iv, err := randomBytes(gcmIVSize)
		if err != nil {
			return nil, nil, err
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, nil, errs.Wrap(ErrEncryption, err)
		}

		return iv, gcm.Seal(nil, iv, plaintext, nil), nil

	case AESCBC:
		iv, err := randomBytes(blockSize)
		if err != nil {
			return nil, nil, err
		}

		padded := pad(plaintext)
		ciphertext := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

		return iv, ciphertext, nil

	case AESCTR:
		// The preamble is the full random initial counter block. Per
		// NIST SP 800-38A the counter occupies the right 64 bits of the
		// block; the stream cipher increments from there.
		counterBlock, err := randomBytes(blockSize)
		if err != nil {
			return nil, nil, err
		}

		ciphertext := make([]byte, len(plaintext))
		cipher.NewCTR(block, counterBlock).XORKeyStream(ciphertext, plaintext)

		return counterBlock, ciphertext, nil
	}

	return nil, nil, errs.Wrapf(ErrUnsupportedAlgorithm, algorithm.String())
}

// decrypt reverses encrypt. Callers must have verified the signature first.
func decrypt(algorithm Algorithm, key, preamble, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(ErrDecryption, err)
	}

	switch algorithm {
	case AESGCM:
		if len(preamble) != gcmIVSize {
			return nil, errs.Wrapf(ErrDecryption, "bad IV length")
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errs.Wrap(ErrDecryption, err)
		}

		plaintext, err := gcm.Open(nil, preamble, ciphertext, nil)
		if err != nil {
			return nil, ErrIntegrity
		}

		return plaintext, nil

	case AESCBC:
		if len(preamble) != blockSize ||
			len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
			return nil, errs.Wrapf(ErrDecryption, "bad block length")
		}

		padded := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(block, preamble).CryptBlocks(padded, ciphertext)

		return unpad(padded)

	case AESCTR:
		if len(preamble) != blockSize {
			return nil, errs.Wrapf(ErrDecryption, "bad counter block length")
		}

		plaintext := make([]byte, len(ciphertext))
		cipher.NewCTR(block, preamble).XORKeyStream(plaintext, ciphertext)

		return plaintext, nil
	}

	return nil, errs.Wrapf(ErrUnsupportedAlgorithm, algorithm.String())
}

// sign computes the HMAC over preamble‖ciphertext. Every mode is signed
// uniformly, including GCM, guarding against a mis-derived or substituted
// key.
func sign(material kdf.Material, preamble, ciphertext []byte) []byte {
	mac := hmac.New(material.Hash.New(), material.MACKey)
	mac.Write(preamble)
	mac.Write(ciphertext)

	return mac.Sum(nil)
}

// verify recomputes the signature and compares in constant time.
func verify(material kdf.Material, preamble, ciphertext, signature []byte) error {
	if !hmac.Equal(sign(material, preamble, ciphertext), signature) {
		return ErrIntegrity
	}

	return nil
}

func checkKeyLength(key []byte, bitStrength int) error {
	if len(key)*8 != bitStrength {
		return ErrKeyLength
	}

	return nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)

	_, err := rand.Read(b)
	if err != nil {
		return nil, errs.Wrap(ErrEncryption, err)
	}

	return b, nil
}

// pad applies PKCS#7 padding to a full block multiple.
func pad(plaintext []byte) []byte {
	n := blockSize - len(plaintext)%blockSize
	padded := make([]byte, len(plaintext)+n)
	copy(padded, plaintext)

	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(n)
	}

	return padded
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 {
		return nil, ErrDecryption
	}

	n := int(padded[len(padded)-1])
	if n == 0 || n > blockSize || n > len(padded) {
		return nil, ErrDecryption
	}

	for _, b := range padded[len(padded)-n:] {
		if int(b) != n {
			return nil, ErrDecryption
		}
	}

	return padded[:len(padded)-n], nil
}
