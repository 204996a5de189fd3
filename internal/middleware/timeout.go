package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"catalog-cache/pkg/logging/logging"
)

// Timeout bounds the request context to d. Handlers run on the request
// goroutine and observe the deadline through their store calls; a request
// that overran is logged once it returns.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logging.L(ctx).Warn("request timeout", zap.Duration("timeout", d))
			}
		})
	}
}
