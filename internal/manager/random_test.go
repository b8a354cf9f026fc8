package manager_test

import (
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/model"
)

func randomPermissions(allowed bool) auth.Permissions {
	return auth.NewPermissions([]model.APIKeyKeyring{{
		Keyring: model.Keyring{Name: "any"},
		Random:  allowed,
	}})
}

func fakeBeacon(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("bytes"))
		require.NoError(t, err)

		out := make([]byte, n)
		_, err = rand.Read(out)
		require.NoError(t, err)

		_, _ = w.Write(out)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestParseSource(t *testing.T) {
	for _, name := range []string{"platform", "lavarand", "all"} {
		source, err := manager.ParseSource(name)
		require.NoError(t, err)
		assert.Equal(t, manager.Source(name), source)
	}

	_, err := manager.ParseSource("dice")
	assert.ErrorIs(t, err, manager.ErrUnknownSource)
}

func TestPlatformBytesDifferBetweenCalls(t *testing.T) {
	rm := manager.NewRandomManager(config.Random{})

	first, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourcePlatform, 32)
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourcePlatform, 32)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestMixedBytesUseBothSources(t *testing.T) {
	beacon := fakeBeacon(t)
	rm := manager.NewRandomManager(config.Random{BeaconURL: beacon.URL})

	first, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourceAll, 32)
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourceAll, 32)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	large, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourceAll, 64)
	require.NoError(t, err)
	assert.Len(t, large, 64)
}

func TestBeaconSourceRequiresConfiguration(t *testing.T) {
	rm := manager.NewRandomManager(config.Random{})

	_, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourceLavarand, 16)
	assert.ErrorIs(t, err, manager.ErrBeaconDisabled)
}

func TestBeaconFailureCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	rm := manager.NewRandomManager(config.Random{BeaconURL: srv.URL})

	_, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourceLavarand, 16)
	assert.ErrorIs(t, err, manager.ErrBeaconRequest)
	assert.ErrorContains(t, err, "status 404")
}

func TestBytesRejectsBadCounts(t *testing.T) {
	rm := manager.NewRandomManager(config.Random{})

	for _, n := range []int{0, -1, manager.MaxRandomBytes + 1} {
		_, err := rm.Bytes(t.Context(), randomPermissions(true), manager.SourcePlatform, n)
		assert.ErrorIs(t, err, manager.ErrInvalidByteCount)
	}
}

func TestBytesDeniedWithoutGrant(t *testing.T) {
	rm := manager.NewRandomManager(config.Random{})

	_, err := rm.Bytes(t.Context(), randomPermissions(false), manager.SourcePlatform, 16)
	assert.ErrorIs(t, err, manager.ErrNotPermitted)
}
