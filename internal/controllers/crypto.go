package controllers

import (
	"context"
	"net/http"

	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/envelope"
	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/manager"
)

// EncryptItem is one encryption work item. InputFormat describes how the
// plaintext bytes are encoded in Input; OutputFormat selects the envelope
// serialization.
type EncryptItem struct {
	KeyringName  string `json:"keyringName"`
	Algorithm    string `json:"algorithm"`
	BitStrength  int    `json:"bitStrength"`
	Input        string `json:"input"`
	InputFormat  string `json:"inputFormat,omitempty"`
	OutputFormat string `json:"outputFormat,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// DecryptItem carries a serialized envelope back for decryption or rewrap.
type DecryptItem struct {
	KeyringName  string `json:"keyringName"`
	Input        string `json:"input"`
	InputFormat  string `json:"inputFormat,omitempty"`
	OutputFormat string `json:"outputFormat,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// MACItem authenticates arbitrary input under the keyring's MAC key.
type MACItem struct {
	KeyringName  string `json:"keyringName"`
	Input        string `json:"input"`
	Format       string `json:"format,omitempty"`
	OutputFormat string `json:"outputFormat,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

func (c *Controller) Encrypt(w http.ResponseWriter, r *http.Request) {
	handleBatch(OperationEncrypt, w, r, c.encryptItem)
}

func (c *Controller) Decrypt(w http.ResponseWriter, r *http.Request) {
	handleBatch(OperationDecrypt, w, r, c.decryptItem)
}

func (c *Controller) Rewrap(w http.ResponseWriter, r *http.Request) {
	handleBatch(OperationRewrap, w, r, c.rewrapItem)
}

func (c *Controller) HMAC(w http.ResponseWriter, r *http.Request) {
	handleBatch(OperationHMAC, w, r, c.macItem)
}

func (c *Controller) encryptItem(
	ctx context.Context,
	permissions auth.Permissions,
	item EncryptItem,
) (ResultItem, error) {
	algorithm, err := envelope.ParseAlgorithm(item.Algorithm)
	if err != nil {
		return ResultItem{}, apierrors.Validation(err.Error())
	}

	inputFormat, err := formatOrDefault(item.InputFormat, ident.FormatUTF8)
	if err != nil {
		return ResultItem{}, err
	}

	outputFormat, err := formatOrDefault(item.OutputFormat, ident.FormatBase64)
	if err != nil {
		return ResultItem{}, err
	}

	plaintext, err := ident.DecodeBytes(item.Input, inputFormat)
	if err != nil {
		return ResultItem{}, apierrors.Validation("undecodable input")
	}

	value, err := c.crypto.Encrypt(ctx, permissions, manager.EncryptRequest{
		KeyringName:  item.KeyringName,
		Algorithm:    algorithm,
		BitStrength:  item.BitStrength,
		Plaintext:    plaintext,
		OutputFormat: outputFormat,
	})
	if err != nil {
		return ResultItem{}, err
	}

	return ResultItem{Value: value, Reference: item.Reference}, nil
}

func (c *Controller) decryptItem(
	ctx context.Context,
	permissions auth.Permissions,
	item DecryptItem,
) (ResultItem, error) {
	inputFormat, err := formatOrDefault(item.InputFormat, ident.FormatBase64)
	if err != nil {
		return ResultItem{}, err
	}

	outputFormat, err := formatOrDefault(item.OutputFormat, ident.FormatUTF8)
	if err != nil {
		return ResultItem{}, err
	}

	plaintext, err := c.crypto.Decrypt(ctx, permissions, manager.DecryptRequest{
		KeyringName: item.KeyringName,
		Value:       item.Input,
		InputFormat: inputFormat,
	})
	if err != nil {
		return ResultItem{}, err
	}

	value, err := ident.EncodeBytes(plaintext, outputFormat)
	if err != nil {
		return ResultItem{}, err
	}

	return ResultItem{Value: value, Reference: item.Reference}, nil
}

func (c *Controller) rewrapItem(
	ctx context.Context,
	permissions auth.Permissions,
	item DecryptItem,
) (ResultItem, error) {
	inputFormat, err := formatOrDefault(item.InputFormat, ident.FormatBase64)
	if err != nil {
		return ResultItem{}, err
	}

	outputFormat, err := formatOrDefault(item.OutputFormat, ident.FormatBase64)
	if err != nil {
		return ResultItem{}, err
	}

	value, err := c.crypto.Rewrap(ctx, permissions, manager.DecryptRequest{
		KeyringName: item.KeyringName,
		Value:       item.Input,
		InputFormat: inputFormat,
	}, outputFormat)
	if err != nil {
		return ResultItem{}, err
	}

	return ResultItem{Value: value, Reference: item.Reference}, nil
}

func (c *Controller) macItem(
	ctx context.Context,
	permissions auth.Permissions,
	item MACItem,
) (ResultItem, error) {
	inputFormat, err := formatOrDefault(item.Format, ident.FormatUTF8)
	if err != nil {
		return ResultItem{}, err
	}

	outputFormat, err := formatOrDefault(item.OutputFormat, ident.FormatHex)
	if err != nil {
		return ResultItem{}, err
	}

	input, err := ident.DecodeBytes(item.Input, inputFormat)
	if err != nil {
		return ResultItem{}, apierrors.Validation("undecodable input")
	}

	value, err := c.crypto.MAC(ctx, permissions, item.KeyringName, input, outputFormat)
	if err != nil {
		return ResultItem{}, err
	}

	return ResultItem{Value: value, Reference: item.Reference}, nil
}

func formatOrDefault(s string, fallback ident.Format) (ident.Format, error) {
	if s == "" {
		return fallback, nil
	}

	format, err := ident.ParseFormat(s)
	if err != nil {
		return "", apierrors.Validation("unknown format " + s)
	}

	return format, nil
}
