// Package chiext holds chi middleware shared by the HTTP surfaces.
package chiext

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger logs one slog line per request: method, path, status, bytes,
// elapsed, and the request id if one is set.
func Logger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				attrs := []any{
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("from", r.RemoteAddr),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.String("elapsed", time.Since(start).String()),
				}
				if id := middleware.GetReqID(r.Context()); id != "" {
					attrs = append(attrs, slog.String("request", id))
				}
				if ww.Status() >= http.StatusInternalServerError {
					slog.Error("http request", attrs...)
				} else {
					slog.Info("http request", attrs...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
