package controllers

import (
	"context"
	"net/http"

	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/ident"
)

// HashItem digests input with the named algorithm. The result value is
// always the lowercase hex digest.
type HashItem struct {
	Algorithm string `json:"algorithm"`
	Input     string `json:"input"`
	Format    string `json:"format,omitempty"`
	Reference string `json:"reference,omitempty"`
}

func (c *Controller) Hash(w http.ResponseWriter, r *http.Request) {
	handleBatch(OperationHash, w, r, c.hashItem)
}

func (c *Controller) hashItem(
	_ context.Context,
	permissions auth.Permissions,
	item HashItem,
) (ResultItem, error) {
	format, err := formatOrDefault(item.Format, ident.FormatUTF8)
	if err != nil {
		return ResultItem{}, err
	}

	input, err := ident.DecodeBytes(item.Input, format)
	if err != nil {
		return ResultItem{}, apierrors.Validation("undecodable input")
	}

	value, err := c.hash.Digest(permissions, item.Algorithm, input)
	if err != nil {
		return ResultItem{}, err
	}

	return ResultItem{Value: value, Reference: item.Reference}, nil
}
