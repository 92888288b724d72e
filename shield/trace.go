package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/tabvol/idgen"
	"github.com/hazyhaar/tabvol/kit"
)

// RequestID tags each request with an id, stored under kit.RequestIDKey and
// echoed in X-Request-ID, and logs it once served. A well-formed incoming
// X-Request-ID is kept.
func RequestID(base *slog.Logger, gen idgen.Generator) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	if gen == nil {
		gen = idgen.Default
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if !idgen.Valid(id) {
				id = gen()
			}
			w.Header().Set("X-Request-ID", id)

			logger := base.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, LoggerKey, logger)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.Debug("request", "duration", time.Since(start))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
