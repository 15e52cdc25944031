package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("nil_stream", func(t *testing.T) {
		_, err := NewServer(nil, Config{SecretKey: testSecret})
		assert.ErrorIs(t, err, ErrNilStream)
	})

	t.Run("secret_required_with_auth", func(t *testing.T) {
		setup := newTestSetup(t, nil)
		_, err := NewServer(setup.ctrl, Config{})
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("no_auth_without_secret", func(t *testing.T) {
		setup := newTestSetup(t, nil)
		server, err := NewServer(setup.ctrl, Config{NoAuth: true})
		require.NoError(t, err)
		assert.Nil(t, server.jwtAuth)
		assert.Equal(t, DefaultAddr, server.config.Addr)
		assert.Equal(t, DefaultKeepaliveInterval, server.config.KeepaliveInterval)
	})
}

func TestServer_Root(t *testing.T) {
	setup := newTestSetup(t, nil)

	rec := setup.request(http.MethodGet, "/", nil, "")
	requireStatus(t, rec, http.StatusOK)

	info := decode[map[string]any](t, rec)
	assert.Equal(t, "quotestream control API", info["service"])
	assert.Contains(t, info, "endpoints")

	rec = setup.request(http.MethodGet, "/nope", nil, "")
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "Not found", decode[ErrorResponse](t, rec).Message)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	setup := newTestSetup(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/state"},
		{http.MethodDelete, "/api/v1/state/stream"},
		{http.MethodPut, "/api/v1/messages"},
		{http.MethodGet, "/api/v1/connection/connect"},
		{http.MethodGet, "/api/v1/connection/disconnect"},
		{http.MethodPut, "/api/v1/subscriptions"},
		{http.MethodGet, "/api/v1/subscriptions/SPLK"},
		{http.MethodGet, "/api/v1/publish"},
		{http.MethodGet, "/api/v1/auth/login"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := setup.authed(tt.method, tt.path, nil)
			requireStatus(t, rec, http.StatusMethodNotAllowed)
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	setup := newTestSetup(t, nil)

	rec := setup.request(http.MethodOptions, "/api/v1/state", nil, "")
	requireStatus(t, rec, http.StatusNoContent)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("quotestream_up 1\n"))
	})

	t.Run("served_without_auth", func(t *testing.T) {
		setup := newTestSetup(t, func(c *Config) { c.Metrics = metrics })

		rec := setup.request(http.MethodGet, "/metrics", nil, "")
		requireStatus(t, rec, http.StatusOK)
		assert.Equal(t, "quotestream_up 1\n", rec.Body.String())
	})

	t.Run("absent_when_not_configured", func(t *testing.T) {
		setup := newTestSetup(t, nil)

		rec := setup.request(http.MethodGet, "/metrics", nil, "")
		requireStatus(t, rec, http.StatusNotFound)
	})
}

func TestMiddleware_Recovery(t *testing.T) {
	m := NewMiddleware(nil, false, nil)
	handler := m.Recovery(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	requireStatus(t, rec, http.StatusInternalServerError)
	assert.Equal(t, "Internal server error", decode[ErrorResponse](t, rec).Message)
}

func TestMiddleware_LoggingKeepsFlusher(t *testing.T) {
	m := NewMiddleware(nil, false, nil)

	var flushable bool
	handler := m.Logging(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, flushable)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
