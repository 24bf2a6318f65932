package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Middleware constructor.
type Middleware func(http.Handler) http.Handler

// Metrics records request counts and durations for 2XX and 5XX responses.
func Metrics(name string, reqMetric *prometheus.CounterVec, durMetric *prometheus.HistogramVec) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			statusW := NewStatusResponseWriter(w)

			defer func(start time.Time) {
				statusCode := statusW.Code()
				if !reportFromCode(statusCode) {
					return
				}

				label := prometheus.Labels{
					"handler": name,
					"method":  r.Method,
					"path":    normalizePath(r.URL.Path),
					"status":  statusW.StatusCodeClass(),
				}

				durMetric.With(label).Observe(time.Since(start).Seconds())
				reqMetric.With(label).Inc()
			}(time.Now())

			next.ServeHTTP(statusW, r)
		}
		return http.HandlerFunc(fn)
	}
}

// LoggingMW middleware for logging inflight http requests.
func LoggingMW(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			srw := NewStatusResponseWriter(w)

			defer func(start time.Time) {
				errField := zap.Skip()
				if errStr := w.Header().Get(PlatformErrorCodeHeader); errStr != "" {
					errField = zap.String("error_code", errStr)
				}

				log.Debug("Request",
					zap.String("method", r.Method),
					zap.String("host", r.Host),
					zap.String("path", r.URL.Path),
					zap.String("query", r.URL.Query().Encode()),
					zap.Int("status_code", srw.Code()),
					zap.Int("response_size", srw.ResponseBytes()),
					zap.String("remote", r.RemoteAddr),
					zap.Duration("took", time.Since(start)),
					errField,
				)
			}(time.Now())

			next.ServeHTTP(srw, r)
		}
		return http.HandlerFunc(fn)
	}
}

// normalizePath replaces UUID path segments with an ":id" slug so metric
// label cardinality stays bounded.
func normalizePath(p string) string {
	parts := strings.Split(p, "/")
	for i, piece := range parts {
		if _, err := uuid.Parse(piece); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// reportFromCode determines if metrics should be reported for this response.
func reportFromCode(c int) bool {
	return (c >= 200 && c <= 299) || (c >= 500 && c <= 599)
}
