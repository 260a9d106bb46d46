package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs each request hitting the hub's HTTP surface. Both
// endpoints are long-lived upgrades or fire-and-forget ingests, so only
// arrival is logged, not completion.
func NewRequestLogger(logger *slog.Logger) Middleware {
	log := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if meta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = meta.IP
			}

			log.Info("Incoming request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
