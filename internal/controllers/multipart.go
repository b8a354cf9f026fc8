package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/keyward/keyward/internal/api"
	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/constants"
	"github.com/keyward/keyward/internal/envelope"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/metrics"
)

// PartResult is one entry of a streamed multipart response.
type PartResult struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EncryptMultipart seals each uploaded part under the keyring named in the
// path and streams per-part results as they complete. Failed parts are
// dropped from the output, same as failed batch items.
func (c *Controller) EncryptMultipart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	permissions, ok := sessionPermissions(ctx)
	if !ok {
		api.WriteError(ctx, w, apierrors.Unauthorized())
		return
	}

	algorithm, err := envelope.ParseAlgorithm(r.PathValue("algorithm"))
	if err != nil {
		api.WriteError(ctx, w, apierrors.Validation(err.Error()))
		return
	}

	bitStrength, err := strconv.Atoi(r.PathValue("bitStrength"))
	if err != nil {
		api.WriteError(ctx, w, apierrors.Validation("bit strength must be an integer"))
		return
	}

	keyringName := r.PathValue("keyringName")

	reader, err := r.MultipartReader()
	if err != nil {
		api.WriteError(ctx, w, apierrors.Validation("multipart body expected"))
		return
	}

	c.streamParts(w, r, func(name string, content io.Reader) (PartResult, error) {
		plaintext, err := readPart(content)
		if err != nil {
			return PartResult{}, err
		}

		value, err := c.crypto.Encrypt(ctx, permissions, manager.EncryptRequest{
			KeyringName:  keyringName,
			Algorithm:    algorithm,
			BitStrength:  bitStrength,
			Plaintext:    plaintext,
			OutputFormat: ident.FormatBase64,
		})
		if err != nil {
			metrics.CryptoOperations.WithLabelValues(OperationEncrypt, "error").Inc()
			return PartResult{}, err
		}

		metrics.CryptoOperations.WithLabelValues(OperationEncrypt, "success").Inc()

		return PartResult{Name: name, Value: value}, nil
	}, reader)
}

// HashMultipart streams per-part hex digests for uploaded files.
func (c *Controller) HashMultipart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	permissions, ok := sessionPermissions(ctx)
	if !ok {
		api.WriteError(ctx, w, apierrors.Unauthorized())
		return
	}

	algorithm := r.PathValue("algorithm")

	reader, err := r.MultipartReader()
	if err != nil {
		api.WriteError(ctx, w, apierrors.Validation("multipart body expected"))
		return
	}

	c.streamParts(w, r, func(name string, content io.Reader) (PartResult, error) {
		data, err := readPart(content)
		if err != nil {
			metrics.CryptoOperations.WithLabelValues(OperationHash, "error").Inc()
			return PartResult{}, err
		}

		value, err := c.hash.DigestReader(permissions, algorithm, bytes.NewReader(data))
		if err != nil {
			metrics.CryptoOperations.WithLabelValues(OperationHash, "error").Inc()
			return PartResult{}, err
		}

		metrics.CryptoOperations.WithLabelValues(OperationHash, "success").Inc()

		return PartResult{Name: name, Value: value}, nil
	}, reader)
}

// streamParts walks the multipart body and writes the result envelope
// incrementally, flushing after every part so large uploads see progress.
func (c *Controller) streamParts(
	w http.ResponseWriter,
	r *http.Request,
	process func(name string, content io.Reader) (PartResult, error),
	reader *multipart.Reader,
) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_, _ = io.WriteString(w, `{"success":true,"result":[`)

	flusher, _ := w.(http.Flusher)
	first := true

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			log.Error(ctx, "failed to read multipart body", err)
			break
		}

		name := part.FileName()
		if name == "" {
			name = part.FormName()
		}

		result, err := process(name, part)
		if err != nil {
			log.Warn(ctx, "multipart part failed", log.ErrorAttr(err))
			continue
		}

		if !first {
			_, _ = io.WriteString(w, ",")
		}

		first = false

		encoded, err := json.Marshal(result)
		if err != nil {
			continue
		}

		_, _ = w.Write(encoded)

		if flusher != nil {
			flusher.Flush()
		}
	}

	_, _ = io.WriteString(w, `]}`)
}

func readPart(content io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, constants.MaxInputBytes+1))
	if err != nil {
		return nil, err
	}

	if len(data) > constants.MaxInputBytes {
		return nil, apierrors.Validation("part exceeds the input size limit")
	}

	return data, nil
}
