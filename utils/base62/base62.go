package base62

import (
	"fmt"
	"strings"

	"github.com/jxskiss/base62"

	"github.com/keyward/keyward/internal/errs"
)

const (
	SchemaNamePrefix = "_"
)

// EncodeSchemaNameBase62 encodes a tenant id into its dedicated schema name:
// the base62 encoding of the id prefixed with SchemaNamePrefix. This is the
// deterministic tenant-id to storage-binding convention; resolving a tenant
// route first tries this name before falling back to the root-store lookup.
//
// Postgresql allows max 63 bytes for schema name. Keeps schema names in db
// encoding, usually UTF-8, where the base62 alphabet is 1 byte per character.
func EncodeSchemaNameBase62(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyTenantID
	}

	encoded := base62.EncodeToString([]byte(input))
	if len(encoded) < 3 || len(encoded) > 62 {
		return "", fmt.Errorf("%w got %d", ErrEncodedSchemaNameLength, len(encoded))
	}

	return SchemaNamePrefix + encoded, nil
}

func DecodeSchemaNameBase62(encoded string) (string, error) {
	result := strings.TrimPrefix(encoded, SchemaNamePrefix)

	decodedBytes, err := base62.DecodeString(result)
	if err != nil {
		return "", errs.Wrap(ErrDecodingSchemaName, err)
	}

	return string(decodedBytes), nil
}
