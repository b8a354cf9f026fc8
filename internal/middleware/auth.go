package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/keyward/keyward/internal/api"
	"github.com/keyward/keyward/internal/apierrors"
	"github.com/keyward/keyward/internal/async/tasks"
	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/manager"
	"github.com/keyward/keyward/internal/metrics"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// AuthMiddleware resolves the bearer token into a tenant-bound context plus
// a permission map. Requests without a valid token never reach a handler.
// A successful resolve schedules a last-used touch for the api key; a nil
// enqueuer disables the touch.
func AuthMiddleware(resolver *auth.Resolver, enqueuer manager.TaskEnqueuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r)
			if !ok {
				metrics.AuthRejections.Inc()
				api.WriteError(r.Context(), w, apierrors.Unauthorized())

				return
			}

			ctx, session, err := resolver.Resolve(r.Context(), bearer)
			if err != nil {
				metrics.AuthRejections.Inc()
				api.WriteError(r.Context(), w, apierrors.Unauthorized())

				return
			}

			ctx = auth.WithSession(ctx, session)

			if enqueuer != nil {
				scheduleUsageTouch(ctx, enqueuer, session)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func scheduleUsageTouch(ctx context.Context, enqueuer manager.TaskEnqueuer, session *auth.Session) {
	tenantID, err := kwcontext.ExtractTenantID(ctx)
	if err != nil {
		return
	}

	task, err := tasks.NewKeyUsageTask(tasks.KeyUsagePayload{
		TenantID: tenantID,
		APIKeyID: session.APIKeyID,
	})
	if err != nil {
		return
	}

	_, err = enqueuer.EnqueueTask(ctx, task)
	if err != nil {
		log.Debug(ctx, "failed to schedule api key usage touch", log.ErrorAttr(err))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")

	bearer, found := strings.CutPrefix(header, "Bearer ")
	if !found || bearer == "" {
		return "", false
	}

	return bearer, true
}
