package transport

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/you-humble/snapchef/core/metrics"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (lrw *loggingResponseWriter) WriteHeader(statusCode int) {
	lrw.status = statusCode
	lrw.ResponseWriter.WriteHeader(statusCode)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += int64(n)
	return n, err
}

// LogMiddleware logs every request and records it in m under its route
// pattern. m may be nil.
func LogMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)

		if lrw.status == 0 {
			lrw.status = http.StatusOK
		}
		took := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(r.Method, route, lrw.status, took)

		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		slog.Info("http_request",
			slog.String("method", r.Method),
			slog.String("url", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", lrw.status),
			slog.Int64("response_size", lrw.size),
			slog.String("duration", took.String()),
		)
	})
}

func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in handler",
					slog.Any("panic", rec),
					slog.String("url", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
