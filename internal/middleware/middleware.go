// Package middleware provides chi middleware for HTTP metrics.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/toolhub/shotpipe/internal/metrics"
)

// Metrics is a chi middleware that records HTTP request counts.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		metrics.HTTPRequest(r.Method, strconv.Itoa(ww.status))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
