package ident

import (
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUnknownFormat     = errors.New("unknown encoding format")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Format names the byte encodings used across storage and wire values.
type Format string

const (
	FormatRaw       Format = "raw"
	FormatHex       Format = "hex"
	FormatBase64    Format = "base64"
	FormatBase64URL Format = "base64url"
	FormatUTF8      Format = "utf8"
)

// ParseFormat validates a caller-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatRaw, FormatHex, FormatBase64, FormatBase64URL, FormatUTF8:
		return Format(s), nil
	default:
		return "", ErrUnknownFormat
	}
}

// EncodeBytes renders arbitrary bytes in the given format.
// FormatUTF8 passes the bytes through unchanged.
func EncodeBytes(b []byte, f Format) (string, error) {
	switch f {
	case FormatHex:
		return hex.EncodeToString(b), nil
	case FormatBase64:
		return base64.StdEncoding.EncodeToString(b), nil
	case FormatBase64URL:
		return base64.RawURLEncoding.EncodeToString(b), nil
	case FormatRaw, FormatUTF8:
		return string(b), nil
	default:
		return "", ErrUnknownFormat
	}
}

// DecodeBytes is the inverse of EncodeBytes. Base64url accepts both padded
// and unpadded input because callers copy values from either convention.
func DecodeBytes(s string, f Format) ([]byte, error) {
	switch f {
	case FormatHex:
		return hex.DecodeString(s)
	case FormatBase64:
		return base64.StdEncoding.DecodeString(s)
	case FormatBase64URL:
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return base64.URLEncoding.DecodeString(s)
		}

		return b, nil
	case FormatRaw, FormatUTF8:
		return []byte(s), nil
	default:
		return nil, ErrUnknownFormat
	}
}

// Identifier is a 128-bit id (tenant, keyring, datakey, api-key) that must
// render identically whichever of the supported encodings a caller uses.
type Identifier struct {
	id uuid.UUID
}

func New() Identifier {
	return Identifier{id: uuid.New()}
}

func FromUUID(u uuid.UUID) Identifier {
	return Identifier{id: u}
}

func FromRaw(b []byte) (Identifier, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Identifier{}, ErrInvalidIdentifier
	}

	return Identifier{id: u}, nil
}

// Parse accepts any supported identifier shape: canonical UUID with
// separators, bare 32-char hex, standard base64 or base64url (padded or not).
func Parse(s string) (Identifier, error) {
	if u, err := uuid.Parse(s); err == nil {
		return Identifier{id: u}, nil
	}

	for _, f := range []Format{FormatHex, FormatBase64URL, FormatBase64} {
		b, err := DecodeBytes(s, f)
		if err != nil || len(b) != 16 {
			continue
		}

		return FromRaw(b)
	}

	return Identifier{}, ErrInvalidIdentifier
}

func (i Identifier) UUID() uuid.UUID {
	return i.id
}

func (i Identifier) Raw() []byte {
	b := i.id
	return b[:]
}

// UTF8 is the canonical lower-case dashed rendering.
func (i Identifier) UTF8() string {
	return i.id.String()
}

func (i Identifier) Hex() string {
	return hex.EncodeToString(i.Raw())
}

func (i Identifier) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Raw())
}

func (i Identifier) Base64URL() string {
	return base64.RawURLEncoding.EncodeToString(i.Raw())
}

// Encode renders the identifier in the requested format.
func (i Identifier) Encode(f Format) (string, error) {
	switch f {
	case FormatUTF8:
		return i.UTF8(), nil
	default:
		return EncodeBytes(i.Raw(), f)
	}
}
