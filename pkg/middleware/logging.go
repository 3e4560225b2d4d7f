package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/kappa-rpc/pkg/logging"
)

type contextKey string

// RequestIDContextKey holds the request ID in the request context
const RequestIDContextKey contextKey = "request_id"

// RequestIDHeader is read from and echoed on every response
const RequestIDHeader = "X-Request-ID"

// RequestLogger assigns each request an ID (or keeps the caller's) and
// logs method, path, status and duration when it completes
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, id)

			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), RequestIDContextKey, id)))

			fields := map[string]interface{}{
				"request_id":  id,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			switch {
			case rw.status >= 500:
				logger.Error("HTTP request failed", fields)
			case rw.status >= 400:
				logger.Warn("HTTP request rejected", fields)
			default:
				logger.Debug("HTTP request", fields)
			}
		})
	}
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
