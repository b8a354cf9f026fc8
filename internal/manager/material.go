package manager

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/keyward/keyward/internal/errs"
)

var ErrInvalidSecretNote = errors.New("invalid vault secret note")

// SecretNote is the JSON stored in a vault secret's note field: the optional
// public JWK plus the two public derivation parameters.
type SecretNote struct {
	PublicKey json.RawMessage `json:"publicKey,omitempty"`
	Salt      string          `json:"salt"`
	MacInfo   string          `json:"macInfo"`
}

// EncodeSecretNote packs the public key and derivation parameters for
// upload. Salt and mac-info travel base64url.
func EncodeSecretNote(publicKey, salt, macInfo []byte) (string, error) {
	note := SecretNote{
		Salt:    base64.RawURLEncoding.EncodeToString(salt),
		MacInfo: base64.RawURLEncoding.EncodeToString(macInfo),
	}

	if len(publicKey) > 0 {
		note.PublicKey = json.RawMessage(publicKey)
	}

	encoded, err := json.Marshal(note)
	if err != nil {
		return "", errs.Wrap(ErrInvalidSecretNote, err)
	}

	return string(encoded), nil
}

// DecodeSecretNote is the inverse of EncodeSecretNote.
func DecodeSecretNote(note string) (publicKey, salt, macInfo []byte, err error) {
	var decoded SecretNote

	err = json.Unmarshal([]byte(note), &decoded)
	if err != nil {
		return nil, nil, nil, errs.Wrap(ErrInvalidSecretNote, err)
	}

	salt, err = base64.RawURLEncoding.DecodeString(decoded.Salt)
	if err != nil {
		return nil, nil, nil, errs.Wrap(ErrInvalidSecretNote, err)
	}

	macInfo, err = base64.RawURLEncoding.DecodeString(decoded.MacInfo)
	if err != nil {
		return nil, nil, nil, errs.Wrap(ErrInvalidSecretNote, err)
	}

	return []byte(decoded.PublicKey), salt, macInfo, nil
}
