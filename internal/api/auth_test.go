package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rentsync/internal/config"
	"rentsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "shell-key", Name: "ui-shell"},
				{Key: "viewer-key", Name: "dashboard", Permissions: []string{"read:queue"}},
			},
		},
	}
}

func TestHTTPAuth(t *testing.T) {
	svc := new(mockService)
	svc.On("CurrentStatus").Return(models.Status{})
	svc.On("ForceSyncNow").Return(true)
	srv := NewHTTPServer(authConfig(), svc, nil, nil)
	handler := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{name: "health is open", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{name: "missing key", method: http.MethodGet, path: "/v1/status", want: http.StatusUnauthorized},
		{name: "wrong key", method: http.MethodGet, path: "/v1/status", key: "nope", want: http.StatusUnauthorized},
		{name: "full access", method: http.MethodPost, path: "/v1/sync", key: "shell-key", want: http.StatusOK},
		{name: "read allowed", method: http.MethodGet, path: "/v1/status", key: "viewer-key", want: http.StatusOK},
		{name: "write denied", method: http.MethodPost, path: "/v1/sync", key: "viewer-key", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("x-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequiredPermission(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/v1/status", permReadQueue},
		{http.MethodGet, "/v1/operations", permReadQueue},
		{http.MethodPost, "/v1/operations", permWriteQueue},
		{http.MethodPost, "/v1/sync", permSync},
		{http.MethodGet, "/v1/deadletters", permReadQueue},
		{http.MethodPost, "/v1/deadletters/x/requeue", permManageDeadLetters},
		{http.MethodDelete, "/v1/deadletters", permManageDeadLetters},
		{http.MethodPost, "/v1/connectivity", permWriteConnectivity},
		{http.MethodGet, "/healthz", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermission(req), "%s %s", tt.method, tt.path)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}

	svc := new(mockService)
	svc.On("CurrentStatus").Return(models.Status{})
	handler := NewHTTPServer(cfg, svc, nil, nil).Handler()

	call := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.Header.Set("x-api-key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("shell-key"))
	assert.Equal(t, http.StatusTooManyRequests, call("shell-key"))
	assert.Equal(t, http.StatusOK, call("viewer-key"))
}

func TestCustomAPIKeyHeader(t *testing.T) {
	cfg := authConfig()
	cfg.Auth.HeaderAPIKey = "X-Shell-Token"

	svc := new(mockService)
	svc.On("CurrentStatus").Return(models.Status{})
	handler := NewHTTPServer(cfg, svc, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-Shell-Token", "shell-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
