package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/spherical-ai/nwshop/internal/observability"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		cfg    AuthConfig
		path   string
		key    string
		status int
	}{
		{name: "disabled", cfg: AuthConfig{}, path: "/api/v1/resolve", status: http.StatusOK},
		{name: "valid key", cfg: AuthConfig{APIKey: "s3cret"}, path: "/api/v1/resolve", key: "s3cret", status: http.StatusOK},
		{name: "missing key", cfg: AuthConfig{APIKey: "s3cret"}, path: "/api/v1/resolve", status: http.StatusUnauthorized},
		{name: "wrong key", cfg: AuthConfig{APIKey: "s3cret"}, path: "/api/v1/resolve", key: "nope", status: http.StatusUnauthorized},
		{name: "public path", cfg: AuthConfig{APIKey: "s3cret", AllowPublicPaths: []string{"/health"}}, path: "/health", status: http.StatusOK},
		{name: "public prefix", cfg: AuthConfig{APIKey: "s3cret", AllowPublicPaths: []string{"/metrics/"}}, path: "/metrics/x", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			Auth(tt.cfg)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/resolve", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	CORS([]string{"*"})(ok).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()

	CORS([]string{"http://localhost:3000"})(ok).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTraceIDAndRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "test"})

	var traceID string
	handler := chimiddleware.RequestID(TraceID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = observability.TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, traceID)
	assert.Equal(t, traceID, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"trace_id":"`+traceID+`"`)
}
