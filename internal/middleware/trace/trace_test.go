package trace

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "saldo/internal/log"
)

func newRouter(buf *bytes.Buffer, status int) http.Handler {
	cfg := applog.DefaultConfig()
	cfg.Handler = slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := applog.New(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(applog.Middleware(logger))
	r.Use(Middleware)
	r.Get("/groups/{groupID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func TestMiddleware_LogsCompletedRequest(t *testing.T) {
	var buf bytes.Buffer
	router := newRouter(&buf, http.StatusNotFound)

	req := httptest.NewRequest(http.MethodGet, "/groups/g1?x=1", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get(middleware.RequestIDHeader))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "req-123", entry[applog.FieldRequestID])
	assert.Equal(t, "/groups/{groupID}", entry[applog.FieldRoute])
	assert.Equal(t, float64(http.StatusNotFound), entry[applog.FieldStatusCode])
	assert.Equal(t, false, entry[applog.FieldSuccess])
	assert.Equal(t, "x=1", entry[applog.FieldQuery])
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	router := newRouter(&buf, http.StatusOK)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/groups/g1", nil))

	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}
