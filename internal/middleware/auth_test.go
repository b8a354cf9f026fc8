package middleware_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/async/tasks"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/middleware"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
)

// authRepo serves the two lookups the resolver performs.
type authRepo struct {
	tenantKey *model.TenantAPIKey
	apiKey    *model.APIKey
}

func (f *authRepo) First(_ context.Context, resource repo.Resource, _ repo.Query) (bool, error) {
	switch res := resource.(type) {
	case *model.TenantAPIKey:
		if f.tenantKey == nil {
			return false, repo.ErrNotFound
		}

		*res = *f.tenantKey

		return true, nil
	case *model.APIKey:
		if f.apiKey == nil {
			return false, repo.ErrNotFound
		}

		*res = *f.apiKey

		return true, nil
	}

	return false, repo.ErrNotFound
}

func (f *authRepo) Create(context.Context, repo.Resource) error { return nil }

func (f *authRepo) List(context.Context, repo.Resource, any, repo.Query) (int, error) {
	return 0, nil
}

func (f *authRepo) Delete(context.Context, repo.Resource, repo.Query) (bool, error) {
	return false, nil
}

func (f *authRepo) Patch(context.Context, repo.Resource, repo.Query) (bool, error) {
	return false, nil
}

func (f *authRepo) Count(context.Context, repo.Resource, repo.Query) (int, error) {
	return 0, nil
}

func (f *authRepo) Transaction(ctx context.Context, fn repo.TransactionFunc) error {
	return fn(ctx, f)
}

// captureEnqueuer records the tasks the middleware schedules.
type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) EnqueueTask(
	_ context.Context,
	task *asynq.Task,
	_ ...asynq.Option,
) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)

	return &asynq.TaskInfo{ID: uuid.NewString()}, nil
}

type authFixture struct {
	bearer   string
	apiKeyID uuid.UUID
	tenantID uuid.UUID
	repo     *authRepo
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	apiKeyID := uuid.New()
	tenantID := uuid.New()
	secret := []byte("the-bearer-secret")

	bearer := "0." +
		base64.RawURLEncoding.EncodeToString(apiKeyID[:]) + "." +
		base64.RawURLEncoding.EncodeToString(secret)

	token, err := auth.ParseToken(bearer)
	require.NoError(t, err)

	return &authFixture{
		bearer:   bearer,
		apiKeyID: apiKeyID,
		tenantID: tenantID,
		repo: &authRepo{
			tenantKey: &model.TenantAPIKey{
				APIKeyID: apiKeyID,
				TenantID: tenantID,
				Expires:  time.Now().Add(time.Hour),
			},
			apiKey: &model.APIKey{
				ID:      apiKeyID,
				Hash:    token.HashedSecret(),
				Expires: time.Now().Add(time.Hour),
			},
		},
	}
}

func TestAuthMiddlewareBindsSession(t *testing.T) {
	f := newAuthFixture(t)

	var session *auth.Session

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := auth.SessionFromContext(r.Context())
		require.True(t, ok)

		session = s

		w.WriteHeader(http.StatusNoContent)
	})

	r := httptest.NewRequest(http.MethodPost, "/v1/encrypt", nil)
	r.Header.Set("Authorization", "Bearer "+f.bearer)

	w := httptest.NewRecorder()
	middleware.AuthMiddleware(auth.NewResolver(f.repo), nil)(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, session)
	assert.Equal(t, f.apiKeyID, session.APIKeyID)
	assert.Equal(t, f.tenantID, session.TenantID)
}

func TestAuthMiddlewareRejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *authFixture, r *http.Request)
	}{
		{
			name:    "missing header",
			prepare: func(_ *authFixture, _ *http.Request) {},
		},
		{
			name: "malformed token",
			prepare: func(_ *authFixture, r *http.Request) {
				r.Header.Set("Authorization", "Bearer not.a.token")
			},
		},
		{
			name: "unknown api key",
			prepare: func(f *authFixture, r *http.Request) {
				f.repo.tenantKey = nil
				r.Header.Set("Authorization", "Bearer "+f.bearer)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)

			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run without a session")
			})

			r := httptest.NewRequest(http.MethodPost, "/v1/encrypt", nil)
			tt.prepare(f, r)

			w := httptest.NewRecorder()
			middleware.AuthMiddleware(auth.NewResolver(f.repo), nil)(next).ServeHTTP(w, r)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "AUTH_ERROR")
		})
	}
}

func TestAuthMiddlewareSchedulesUsageTouch(t *testing.T) {
	f := newAuthFixture(t)
	enqueuer := &captureEnqueuer{}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r := httptest.NewRequest(http.MethodPost, "/v1/encrypt", nil)
	r.Header.Set("Authorization", "Bearer "+f.bearer)

	w := httptest.NewRecorder()
	middleware.AuthMiddleware(auth.NewResolver(f.repo), enqueuer)(next).ServeHTTP(w, r)

	require.Len(t, enqueuer.tasks, 1)
	assert.Equal(t, config.TypeKeyUsageTask, enqueuer.tasks[0].Type())

	var payload tasks.KeyUsagePayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	assert.Equal(t, f.tenantID.String(), payload.TenantID)
	assert.Equal(t, f.apiKeyID, payload.APIKeyID)
}
