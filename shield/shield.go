// Package shield is the HTTP middleware stack of the control surface.
package shield

import (
	"log/slog"
	"net/http"

	"github.com/hazyhaar/tabvol/idgen"
)

type contextKey string

// LoggerKey holds the per-request logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware stack of the control surface,
// outermost first.
func DefaultStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		RequestID(logger, idgen.Prefixed("req_", idgen.Short(12))),
	}
}
