package envelope

import (
	"errors"
	"strconv"
	"strings"

	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/kdf"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Version tags the envelope wire format, reserved for future changes.
const Version = 1

const fieldCount = 7

// Envelope is the version-tagged serialized bundle binding a ciphertext to
// the data key generation that produced it. Wire value only, never
// persisted.
type Envelope struct {
	Version     int
	DataKeyID   ident.Identifier
	Algorithm   Algorithm
	BitStrength int
	Preamble    []byte
	Ciphertext  []byte
	Signature   []byte
}

// Seal encrypts plaintext under the derived material and signs the result.
func Seal(
	dataKeyID ident.Identifier,
	algorithm Algorithm,
	bitStrength int,
	material kdf.Material,
	plaintext []byte,
) (*Envelope, error) {
	err := checkKeyLength(material.EncryptionKey, bitStrength)
	if err != nil {
		return nil, err
	}

	preamble, ciphertext, err := encrypt(algorithm, material.EncryptionKey, plaintext)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version:     Version,
		DataKeyID:   dataKeyID,
		Algorithm:   algorithm,
		BitStrength: bitStrength,
		Preamble:    preamble,
		Ciphertext:  ciphertext,
		Signature:   sign(material, preamble, ciphertext),
	}, nil
}

// Open verifies the signature over preamble‖ciphertext and only then
// decrypts. A mismatch fails closed before any decryption is attempted.
func (e *Envelope) Open(material kdf.Material) ([]byte, error) {
	err := checkKeyLength(material.EncryptionKey, e.BitStrength)
	if err != nil {
		return nil, err
	}

	err = verify(material, e.Preamble, e.Ciphertext, e.Signature)
	if err != nil {
		return nil, err
	}

	return decrypt(e.Algorithm, material.EncryptionKey, e.Preamble, e.Ciphertext)
}

// Serialize renders the ordered dot-joined wire form, binary fields encoded
// in the requested format.
func (e *Envelope) Serialize(format ident.Format) (string, error) {
	switch format {
	case ident.FormatHex, ident.FormatBase64, ident.FormatBase64URL:
	default:
		return "", errs.Wrapf(ErrInvalidEnvelope, "unsupported output format")
	}

	fields := []string{strconv.Itoa(e.Version)}

	binary := [][]byte{e.DataKeyID.Raw(), e.Preamble, e.Ciphertext, e.Signature}
	encoded := make([]string, len(binary))

	for i, b := range binary {
		s, err := ident.EncodeBytes(b, format)
		if err != nil {
			return "", errs.Wrap(ErrInvalidEnvelope, err)
		}

		encoded[i] = s
	}

	fields = append(fields,
		encoded[0],
		e.Algorithm.String(),
		strconv.Itoa(e.BitStrength),
		encoded[1],
		encoded[2],
		encoded[3],
	)

	return strings.Join(fields, "."), nil
}

// Parse splits the wire form by position. The format must match the one the
// envelope was serialized with.
func Parse(value string, format ident.Format) (*Envelope, error) {
	fields := strings.Split(value, ".")
	if len(fields) != fieldCount {
		return nil, errs.Wrapf(ErrInvalidEnvelope, "expected 7 fields")
	}

	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	dkRaw, err := ident.DecodeBytes(fields[1], format)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	dataKeyID, err := ident.FromRaw(dkRaw)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	algorithm, err := ParseAlgorithm(fields[2])
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	bitStrength, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	preamble, err := ident.DecodeBytes(fields[4], format)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	ciphertext, err := ident.DecodeBytes(fields[5], format)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	signature, err := ident.DecodeBytes(fields[6], format)
	if err != nil {
		return nil, errs.Wrap(ErrInvalidEnvelope, err)
	}

	return &Envelope{
		Version:     version,
		DataKeyID:   dataKeyID,
		Algorithm:   algorithm,
		BitStrength: bitStrength,
		Preamble:    preamble,
		Ciphertext:  ciphertext,
		Signature:   signature,
	}, nil
}
