package base62

import "errors"

var (
	ErrEmptyTenantID           = errors.New("tenant ID must not be empty")
	ErrEncodedSchemaNameLength = errors.New("encoded schema name length out of bounds")
	ErrDecodingSchemaName      = errors.New("error decoding schema name")
)
