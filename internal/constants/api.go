package constants

const (
	APIName     = "KEYWARD"
	ServiceName = "keyward"
)

const (
	DefaultConfigPath1 = "/etc/keyward"
	DefaultConfigPath2 = "$HOME/.keyward"
)

const (
	// APIVersionedNamespace prefixes every crypto endpoint.
	APIVersionedNamespace = "/v1"

	// MaxBatchItems bounds the number of items accepted in one batch call.
	MaxBatchItems = 100

	// MaxInputBytes bounds a single plaintext/ciphertext input value.
	MaxInputBytes = 8 << 20
)

type contextKey string

const (
	// PermissionsContextKey carries the resolved per-keyring permission map.
	PermissionsContextKey = contextKey("permissions")

	// APIKeyIDContextKey carries the authenticated api-key id.
	APIKeyIDContextKey = contextKey("apiKeyID")
)
