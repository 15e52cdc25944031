package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/quotestream/internal/auth"
	"github.com/rmacdonaldsmith/quotestream/internal/controller"
	"github.com/rmacdonaldsmith/quotestream/internal/transporttest"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

const (
	testSecret = "test-secret-key"
	waitFor    = 2 * time.Second
	tick       = 5 * time.Millisecond
)

// testSetup holds a server backed by a running controller over a fake
// transport.
type testSetup struct {
	t      *testing.T
	fake   *transporttest.Fake
	ctrl   *controller.Controller
	server *Server
	auth   *auth.JWTAuth
	stop   func()
}

func newTestSetup(t *testing.T, mutate func(*Config)) *testSetup {
	t.Helper()

	fake := transporttest.NewFake()
	ctrl, err := controller.New(controller.Config{
		Transport:           fake,
		DestinationPrefix:   "/topic/",
		CommandDestination:  "/app/iex",
		InitialTopics:       []string{"SPLK", "CSCO"},
		ReconnectDelay:      time.Second,
		ErrorReconnectDelay: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)

	cfg := Config{SecretKey: testSecret, KeepaliveInterval: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	server, err := NewServer(ctrl, cfg)
	require.NoError(t, err)

	return &testSetup{
		t:      t,
		fake:   fake,
		ctrl:   ctrl,
		server: server,
		auth:   auth.NewJWTAuth(testSecret),
		stop:   stop,
	}
}

// token returns a valid bearer token for clientID.
func (s *testSetup) token(clientID string) string {
	s.t.Helper()
	token, _, err := s.auth.GenerateToken(clientID, false)
	require.NoError(s.t, err)
	return token
}

// request sends a request through the routed handler. body may be a string
// sent verbatim or any value encoded as JSON.
func (s *testSetup) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

// authed sends a request carrying a valid token.
func (s *testSetup) authed(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.request(method, path, body, s.token("test-client"))
}

// sync waits until every callback queued so far has been processed.
func (s *testSetup) sync() {
	s.t.Helper()
	require.NoError(s.t, s.ctrl.SubscribeAll(context.Background(), nil))
}

// connected brings the controller to Connected with its topics subscribed.
func (s *testSetup) connected() {
	s.t.Helper()
	require.NoError(s.t, s.ctrl.Connect(context.Background()))
	s.fake.Connect()
	require.Eventually(s.t, func() bool {
		return s.ctrl.Snapshot().Status == transport.Connected
	}, waitFor, tick)
	s.sync()
}

// deliver hands a quote body to the controller and waits for it to apply.
func (s *testSetup) deliver(body string) {
	s.t.Helper()
	s.fake.Deliver("/topic/SPLK", []byte(body))
	s.sync()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}
