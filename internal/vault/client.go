package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrHandshake      = errors.New("vault identity handshake failed")
	ErrVaultRequest   = errors.New("vault request failed")
	ErrRateLimited    = errors.New("vault rate limited")
	ErrSecretNotFound = errors.New("vault secret not found")
	ErrNoProject      = errors.New("no vault project available")
)

const tokenScope = "api.secrets"

// Config carries the vault endpoints and machine credential.
type Config struct {
	IdentityURL string
	APIURL      string
	AccessToken string
	Timeout     time.Duration
}

// Client talks to the external secrets vault. All payload fields cross the
// wire under the vault's client-side envelope; the server never sees
// plaintext key material.
type Client struct {
	identityURL string
	apiURL      string
	token       *AccessToken
	http        *http.Client

	mu     sync.Mutex
	bearer string
	orgID  string
	orgKey SymmetricKey
}

// Secret is one decrypted vault record.
type Secret struct {
	ID    uuid.UUID
	Key   string
	Value string
	Note  string
}

// NewClient validates the access token and prepares the HTTP client. No
// network traffic happens until the first call.
func NewClient(cfg Config) (*Client, error) {
	token, err := ParseAccessToken(cfg.AccessToken)
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = 2
	rc.Logger = nil

	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return &Client{
		identityURL: strings.TrimRight(cfg.IdentityURL, "/"),
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		token:       token,
		http:        rc.StandardClient(),
	}, nil
}

// Login performs the identity handshake: a client-credentials grant whose
// response carries an encrypted payload holding the organization key. The
// payload is opened with the key stretched from the access token fragment.
func (c *Client) Login(ctx context.Context) error {
	cc := clientcredentials.Config{
		ClientID:     c.token.ClientID,
		ClientSecret: c.token.ClientSecret,
		TokenURL:     c.identityURL + "/connect/token",
		Scopes:       []string{tokenScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	payload, ok := tok.Extra("encrypted_payload").(string)
	if !ok || payload == "" {
		return errs.Wrapf(ErrHandshake, "response carries no encrypted payload")
	}

	enc, err := ParseEncString(payload)
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	payloadKey, err := c.token.StretchKey()
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	opened, err := enc.Decrypt(payloadKey)
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	var body struct {
		EncryptionKey string `json:"encryptionKey"`
	}

	err = json.Unmarshal(opened, &body)
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	rawOrgKey, err := base64.StdEncoding.DecodeString(body.EncryptionKey)
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	orgKey, err := NewSymmetricKey(rawOrgKey, VariantAES256MAC)
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	orgID, err := organizationClaim(tok.AccessToken)
	if err != nil {
		return errs.Wrap(ErrHandshake, err)
	}

	c.mu.Lock()
	c.bearer = tok.AccessToken
	c.orgKey = orgKey
	c.orgID = orgID
	c.mu.Unlock()

	return nil
}

// GetSecret fetches one record and decrypts its three fields.
func (c *Client) GetSecret(ctx context.Context, id uuid.UUID) (*Secret, error) {
	err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var resp secretResponse

	err = c.do(ctx, http.MethodGet, "/secrets/"+id.String(), nil, &resp)
	if err != nil {
		return nil, err
	}

	return c.decryptSecret(&resp)
}

// CreateSecret uploads a new record under the first available project. The
// three fields are sealed independently with the organization key.
func (c *Client) CreateSecret(ctx context.Context, key, value, note string) (uuid.UUID, error) {
	err := c.ensureSession(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	projectID, err := c.firstProjectID(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	encKey, err := c.seal(key)
	if err != nil {
		return uuid.Nil, err
	}

	encValue, err := c.seal(value)
	if err != nil {
		return uuid.Nil, err
	}

	encNote, err := c.seal(note)
	if err != nil {
		return uuid.Nil, err
	}

	c.mu.Lock()
	orgID := c.orgID
	c.mu.Unlock()

	req := map[string]any{
		"key":            encKey,
		"value":          encValue,
		"note":           encNote,
		"organizationId": orgID,
		"projectIds":     []string{projectID},
	}

	var resp secretResponse

	err = c.do(ctx, http.MethodPost, "/organizations/"+orgID+"/secrets", req, &resp)
	if err != nil {
		return uuid.Nil, err
	}

	created, err := uuid.Parse(resp.ID)
	if err != nil {
		return uuid.Nil, errs.Wrap(ErrVaultRequest, err)
	}

	return created, nil
}

// DeleteSecrets removes retired generations' records.
func (c *Client) DeleteSecrets(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}

	return c.do(ctx, http.MethodPost, "/secrets/delete", map[string]any{"ids": values}, nil)
}

type secretResponse struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Note  string `json:"note"`
}

type projectsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	ok := c.bearer != ""
	c.mu.Unlock()

	if ok {
		return nil
	}

	return c.Login(ctx)
}

func (c *Client) decryptSecret(resp *secretResponse) (*Secret, error) {
	id, err := uuid.Parse(resp.ID)
	if err != nil {
		return nil, errs.Wrap(ErrVaultRequest, err)
	}

	secret := &Secret{ID: id}

	for _, field := range []struct {
		value string
		out   *string
	}{
		{resp.Key, &secret.Key},
		{resp.Value, &secret.Value},
		{resp.Note, &secret.Note},
	} {
		enc, err := ParseEncString(field.value)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		orgKey := c.orgKey
		c.mu.Unlock()

		opened, err := enc.Decrypt(orgKey)
		if err != nil {
			return nil, err
		}

		*field.out = string(opened)
	}

	return secret, nil
}

func (c *Client) seal(value string) (string, error) {
	c.mu.Lock()
	orgKey := c.orgKey
	c.mu.Unlock()

	enc, err := Encrypt(orgKey, []byte(value))
	if err != nil {
		return "", err
	}

	return enc.String(), nil
}

func (c *Client) firstProjectID(ctx context.Context) (string, error) {
	c.mu.Lock()
	orgID := c.orgID
	c.mu.Unlock()

	var resp projectsResponse

	err := c.do(ctx, http.MethodGet, "/organizations/"+orgID+"/projects", nil, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Data) == 0 {
		return "", ErrNoProject
	}

	return resp.Data[0].ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(ErrVaultRequest, err)
		}

		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return errs.Wrap(ErrVaultRequest, err)
	}

	c.mu.Lock()
	bearer := c.bearer
	c.mu.Unlock()

	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(ErrVaultRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrSecretNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errs.Wrapf(ErrVaultRequest, fmt.Sprintf("status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return errs.Wrap(ErrVaultRequest, err)
	}

	return nil
}

// organizationClaim pulls the organization id from the bearer JWT without
// verifying the signature. The token was just issued over TLS by the
// identity endpoint; it is trusted as transport metadata only.
func organizationClaim(bearer string) (string, error) {
	parts := strings.Split(bearer, ".")
	if len(parts) != 3 {
		return "", errors.New("bearer token is not a JWT")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}

	var claims struct {
		Organization string `json:"organization"`
	}

	err = json.Unmarshal(raw, &claims)
	if err != nil {
		return "", err
	}

	if claims.Organization == "" {
		return "", errors.New("bearer token carries no organization claim")
	}

	return claims.Organization, nil
}
