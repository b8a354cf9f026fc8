package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/log"
)

// Extensions carries the machine-readable error class.
type Extensions struct {
	Code apierrors.Code `json:"code"`
}

// ErrorItem is one entry of the error envelope.
type ErrorItem struct {
	Message    string     `json:"message"`
	Extensions Extensions `json:"extensions"`
}

type errorEnvelope struct {
	Success bool        `json:"success"`
	Errors  []ErrorItem `json:"errors"`
}

type resultEnvelope struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// WriteResult renders {success: true, result: ...}.
func WriteResult(ctx context.Context, w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(resultEnvelope{Success: true, Result: result})
	if err != nil {
		log.Error(ctx, "failed to write response", err)
	}
}

// WriteError maps the error onto the taxonomy, logs the full cause and
// renders only the client-safe envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	apiErr := apierrors.FromError(err)

	log.Error(ctx, "request failed", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)

	writeErr := json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Errors: []ErrorItem{{
			Message:    apiErr.Message,
			Extensions: Extensions{Code: apiErr.Code},
		}},
	})
	if writeErr != nil {
		log.Error(ctx, "failed to write error response", writeErr)
	}
}
