package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/keyward/keyward/internal/api"
	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/constants"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/metrics"
)

// Operation labels used for the crypto metrics.
const (
	OperationEncrypt = "encrypt"
	OperationDecrypt = "decrypt"
	OperationRewrap  = "rewrap"
	OperationHMAC    = "hmac"
	OperationHash    = "hash"
	OperationRandom  = "random"
)

// Controller exposes the crypto data plane over HTTP. Every handler assumes
// the auth middleware already bound a session to the request context.
type Controller struct {
	crypto *manager.CryptoManager
	hash   *manager.HashManager
	random *manager.RandomManager
}

func New(crypto *manager.CryptoManager, hash *manager.HashManager, random *manager.RandomManager) *Controller {
	return &Controller{
		crypto: crypto,
		hash:   hash,
		random: random,
	}
}

// ResultItem is one entry of a crypto response, carrying the caller's
// correlation reference back unchanged.
type ResultItem struct {
	Value     string `json:"value"`
	Reference string `json:"reference,omitempty"`
}

func sessionPermissions(ctx context.Context) (auth.Permissions, bool) {
	session, ok := auth.SessionFromContext(ctx)
	if !ok {
		return nil, false
	}

	return session.Permissions, true
}

// handleBatch decodes either a single item or {batch_input: [...]} and runs
// the per-item operation. Batch items fan out concurrently; the output is
// index-aligned with the input and failed items are dropped from the result
// rather than failing the whole call.
func handleBatch[Req any](
	op string,
	w http.ResponseWriter,
	r *http.Request,
	run func(ctx context.Context, permissions auth.Permissions, item Req) (ResultItem, error),
) {
	ctx := r.Context()

	permissions, ok := sessionPermissions(ctx)
	if !ok {
		api.WriteError(ctx, w, apierrors.Unauthorized())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxInputBytes))
	if err != nil {
		api.WriteError(ctx, w, apierrors.Validation("request body too large"))
		return
	}

	var probe struct {
		BatchInput []json.RawMessage `json:"batch_input"`
	}

	// A decode failure here just means the body is not a batch envelope;
	// the single-item path reports malformed JSON with the item's schema.
	_ = json.Unmarshal(body, &probe)

	if probe.BatchInput == nil {
		var item Req

		err := json.Unmarshal(body, &item)
		if err != nil {
			api.WriteError(ctx, w, apierrors.Validation("malformed request body"))
			return
		}

		result, err := run(ctx, permissions, item)
		if err != nil {
			metrics.CryptoOperations.WithLabelValues(op, "error").Inc()
			api.WriteError(ctx, w, err)

			return
		}

		metrics.CryptoOperations.WithLabelValues(op, "success").Inc()
		api.WriteResult(ctx, w, http.StatusOK, result)

		return
	}

	if len(probe.BatchInput) > constants.MaxBatchItems {
		api.WriteError(ctx, w, apierrors.Validation("too many batch items"))
		return
	}

	items := make([]Req, len(probe.BatchInput))
	for i, raw := range probe.BatchInput {
		err := json.Unmarshal(raw, &items[i])
		if err != nil {
			api.WriteError(ctx, w, apierrors.Validation("malformed batch item"))
			return
		}
	}

	results := make([]*ResultItem, len(items))

	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := run(ctx, permissions, item)
			if err != nil {
				metrics.CryptoOperations.WithLabelValues(op, "error").Inc()
				log.Warn(ctx, "batch item failed", log.ErrorAttr(err))

				return
			}

			metrics.CryptoOperations.WithLabelValues(op, "success").Inc()
			results[i] = &result
		}()
	}

	wg.Wait()

	kept := make([]ResultItem, 0, len(results))

	for _, result := range results {
		if result != nil {
			kept = append(kept, *result)
		}
	}

	api.WriteResult(ctx, w, http.StatusOK, kept)
}
