package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/keyward/keyward/internal/api"
	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/metrics"
)

// RandomRequest asks for n random bytes from the given entropy source.
type RandomRequest struct {
	Bytes  int    `json:"bytes"`
	Format string `json:"format,omitempty"`
	Source string `json:"source,omitempty"`
}

func (c *Controller) Random(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	permissions, ok := sessionPermissions(ctx)
	if !ok {
		api.WriteError(ctx, w, apierrors.Unauthorized())
		return
	}

	var req RandomRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		api.WriteError(ctx, w, apierrors.Validation("malformed request body"))
		return
	}

	if req.Source == "" {
		req.Source = string(manager.SourcePlatform)
	}

	source, err := manager.ParseSource(req.Source)
	if err != nil {
		api.WriteError(ctx, w, err)
		return
	}

	format, err := formatOrDefault(req.Format, ident.FormatBase64)
	if err != nil {
		api.WriteError(ctx, w, err)
		return
	}

	random, err := c.random.Bytes(ctx, permissions, source, req.Bytes)
	if err != nil {
		metrics.CryptoOperations.WithLabelValues(OperationRandom, "error").Inc()
		api.WriteError(ctx, w, err)

		return
	}

	value, err := ident.EncodeBytes(random, format)
	if err != nil {
		api.WriteError(ctx, w, err)
		return
	}

	metrics.CryptoOperations.WithLabelValues(OperationRandom, "success").Inc()
	api.WriteResult(ctx, w, http.StatusOK, ResultItem{Value: value})
}
