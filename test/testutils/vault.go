// Package testutils holds the shared in-memory fakes the package tests wire
// against: a protocol-faithful vault pair and a relational repo stub.
package testutils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/vault"
)

const OrgID = "7f3c2d1b-5a58-4b3c-8d3f-222222222222"

func RandomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

// MintAccessToken builds a machine-credential value with a fresh key
// fragment.
func MintAccessToken(t *testing.T) string {
	t.Helper()

	fragment := RandomBytes(t, 16)

	return "0.client-id.client-secret:" + base64.StdEncoding.EncodeToString(fragment)
}

func fakeJWT(t *testing.T, orgID string) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))

	claims, err := json.Marshal(map[string]string{"organization": orgID})
	require.NoError(t, err)

	return header + "." + base64.RawURLEncoding.EncodeToString(claims) + ".sig"
}

// FakeVault is an identity plus API server speaking just enough of the
// protocol for the clients under test: handshake, project listing, secret
// create/read and bulk delete.
type FakeVault struct {
	t        *testing.T
	Identity *httptest.Server
	API      *httptest.Server

	// Secrets holds the on-wire (encrypted) field values by secret id.
	Secrets map[string]map[string]string
	Deleted []string
}

func NewFakeVault(t *testing.T, accessToken string) *FakeVault {
	t.Helper()

	token, err := vault.ParseAccessToken(accessToken)
	require.NoError(t, err)

	payloadKey, err := token.StretchKey()
	require.NoError(t, err)

	rawOrgKey := RandomBytes(t, 64)

	fv := &FakeVault{t: t, Secrets: map[string]map[string]string{}}

	fv.Identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/connect/token", r.URL.Path)

		payload, err := json.Marshal(map[string]string{
			"encryptionKey": base64.StdEncoding.EncodeToString(rawOrgKey),
		})
		require.NoError(t, err)

		sealed, err := vault.Encrypt(payloadKey, payload)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":      fakeJWT(t, OrgID),
			"token_type":        "Bearer",
			"expires_in":        3600,
			"encrypted_payload": sealed.String(),
		})
	}))
	t.Cleanup(fv.Identity.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /organizations/"+OrgID+"/projects", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": uuid.NewString(), "name": "default"}},
		})
	})
	mux.HandleFunc("POST /organizations/"+OrgID+"/secrets", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		id := uuid.NewString()
		fv.Secrets[id] = map[string]string{
			"key":   req["key"].(string),
			"value": req["value"].(string),
			"note":  req["note"].(string),
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("GET /secrets/{id}", func(w http.ResponseWriter, r *http.Request) {
		stored, ok := fv.Secrets[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":    r.PathValue("id"),
			"key":   stored["key"],
			"value": stored["value"],
			"note":  stored["note"],
		})
	})
	mux.HandleFunc("POST /secrets/delete", func(w http.ResponseWriter, r *http.Request) {
		var req map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		for _, id := range req["ids"] {
			delete(fv.Secrets, id)
			fv.Deleted = append(fv.Deleted, id)
		}

		w.WriteHeader(http.StatusOK)
	})

	fv.API = httptest.NewServer(mux)
	t.Cleanup(fv.API.Close)

	return fv
}
