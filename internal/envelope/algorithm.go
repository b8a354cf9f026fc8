package envelope

import (
	"errors"
	"strings"

	"github.com/keyward/keyward/internal/errs"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported envelope algorithm")

// Algorithm is a supported symmetric cipher mode.
type Algorithm string

const (
	AESGCM Algorithm = "aes-gcm"
	AESCBC Algorithm = "aes-cbc"
	AESCTR Algorithm = "aes-ctr"
)

// ParseAlgorithm accepts the wire spelling of a cipher mode.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case AESGCM:
		return AESGCM, nil
	case AESCBC:
		return AESCBC, nil
	case AESCTR:
		return AESCTR, nil
	}

	return "", errs.Wrapf(ErrUnsupportedAlgorithm, name)
}

func (a Algorithm) String() string {
	return string(a)
}
