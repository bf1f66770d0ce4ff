// Package trace logs one structured line per HTTP request and keeps the
// request id on the request logger.
package trace

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	applog "saldo/internal/log"
)

// Middleware must run after chi's RequestID middleware, which reads an
// incoming X-Request-ID header or generates a new id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentTrace)
		if requestID != "" {
			logger = logger.With(applog.FieldRequestID, requestID)
		}
		ctx := applog.WithLogger(r.Context(), logger)
		r = r.WithContext(ctx)

		if requestID != "" {
			w.Header().Set(middleware.RequestIDHeader, requestID)
		}

		logger.DebugContext(ctx, "HTTP request started",
			applog.NewFields().
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent()).
				WithClientIP(r.RemoteAddr).
				ToSlice()...)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)

		level := slog.LevelInfo
		if status >= 400 && status < 500 {
			level = slog.LevelWarn
		} else if status >= 500 {
			level = slog.LevelError
		}

		fields := applog.NewFields().
			WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "").
			WithHTTPResponse(status, duration.Milliseconds(), status < 400)
		fields[applog.FieldRoute] = routePattern(r)
		fields[applog.FieldDurationHuman] = duration.String()
		logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
	})
}

// GetRequestID returns the id chi's RequestID middleware stored in ctx.
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
