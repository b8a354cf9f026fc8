package apierrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/envelope"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/kdf"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/repo"
	"github.com/keyward/keyward/internal/vault"
)

// Code is the machine-readable error class surfaced in the error envelope.
type Code string

const (
	CodeAuth       Code = "AUTH_ERROR"
	CodeForbidden  Code = "FORBIDDEN"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeCrypto     Code = "CRYPTO_ERROR"
	CodeIntegrity  Code = "INTEGRITY_ERROR"
	CodeTransient  Code = "TRANSIENT_STORE_ERROR"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// APIError pairs an HTTP status with the envelope code and a client-safe
// message. The wrapped cause never reaches the client.
type APIError struct {
	Status  int
	Code    Code
	Message string

	cause error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}

	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Unauthorized is deliberately uniform: it never tells the caller which
// authentication stage failed.
func Unauthorized() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    CodeAuth,
		Message: "unauthorized",
	}
}

func Forbidden() *APIError {
	return &APIError{
		Status:  http.StatusForbidden,
		Code:    CodeForbidden,
		Message: "forbidden",
	}
}

func Validation(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: message,
	}
}

func NotFound(resource string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: resource + " not found",
	}
}

func Crypto(cause error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeCrypto,
		Message: "cryptographic operation failed",
		cause:   cause,
	}
}

func Integrity() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeIntegrity,
		Message: "integrity check failed",
	}
}

func Transient(cause error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeTransient,
		Message: "backing service unavailable",
		cause:   cause,
	}
}

func Internal(cause error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "internal error",
		cause:   cause,
	}
}

// FromError maps domain sentinels onto the API taxonomy. Unknown errors
// collapse into a generic internal error so internals never leak.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return Unauthorized()
	case errors.Is(err, manager.ErrNotPermitted):
		return Forbidden()
	case errors.Is(err, envelope.ErrIntegrity),
		errors.Is(err, vault.ErrMACMismatch):
		return Integrity()
	case errors.Is(err, envelope.ErrInvalidEnvelope),
		errors.Is(err, ident.ErrUnknownFormat),
		errors.Is(err, ident.ErrInvalidIdentifier),
		errors.Is(err, manager.ErrUnknownSource),
		errors.Is(err, manager.ErrInvalidByteCount),
		errors.Is(err, manager.ErrBeaconDisabled),
		errors.Is(err, manager.ErrHashInput),
		errors.Is(err, manager.ErrGenerationRetired),
		errors.Is(err, manager.ErrWrongKeyring):
		return Validation(err.Error())
	case errors.Is(err, manager.ErrKeyringNotFound):
		return NotFound("keyring")
	case errors.Is(err, manager.ErrNoDataKey),
		errors.Is(err, manager.ErrVaultDisabled):
		return Validation("keyring has no active key generation")
	case errors.Is(err, kdf.ErrUnsupportedHash),
		errors.Is(err, kdf.ErrUnsupportedKeyType),
		errors.Is(err, kdf.ErrUnsupportedKeySize),
		errors.Is(err, kdf.ErrUnsupportedStrength),
		errors.Is(err, kdf.ErrKeyDerivation),
		errors.Is(err, envelope.ErrUnsupportedAlgorithm),
		errors.Is(err, envelope.ErrKeyLength):
		return Crypto(err)
	case errors.Is(err, repo.ErrNotFound):
		return NotFound("resource")
	case errors.Is(err, vault.ErrRateLimited),
		errors.Is(err, vault.ErrVaultRequest),
		errors.Is(err, manager.ErrBeaconRequest),
		errors.Is(err, repo.ErrTransaction):
		return Transient(err)
	}

	return Internal(err)
}
