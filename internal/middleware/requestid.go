package middleware

import (
	"net/http"

	kwcontext "github.com/keyward/keyward/utils/context"
)

// InjectRequestID assigns each request a fresh id for log correlation.
func InjectRequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := kwcontext.InjectRequestID(r.Context())

			if id, err := kwcontext.GetRequestID(ctx); err == nil {
				w.Header().Set("X-Request-Id", id)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
