package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/core"
)

// HTTPRecorder receives one observation per served request.
type HTTPRecorder interface {
	ObserveHTTP(method, endpoint string, status int, duration time.Duration)
}

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// endpointPattern returns the chi route pattern so API names in the path do
// not become label values.
func endpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	switch path := r.URL.Path; path {
	case "/health", "/health/live", "/health/ready", "/version", "/metrics", "/apis":
		return path
	default:
		return "/unknown"
	}
}

// RequestMetrics records request counts and latency and logs each request.
func RequestMetrics(recorder HTTPRecorder, logger core.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = core.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			endpoint := endpointPattern(r)

			if recorder != nil {
				recorder.ObserveHTTP(r.Method, endpoint, wrapped.statusCode, duration)
			}

			logger.Debug("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		})
	}
}
