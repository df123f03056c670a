package metric

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/amistreams/pkg/security"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNewServer_Defaults(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), security.Config{})

	assert.Equal(t, 9090, srv.port)
	assert.Equal(t, "/metrics", srv.path)
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}

func TestServer_HealthFallback(t *testing.T) {
	srv := NewServer(9090, "/metrics", NewMetricsRegistry(), security.Config{})

	// Before a handler is installed the route is a bare liveness probe.
	rec := httptest.NewRecorder()
	srv.serveHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	srv.SetHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
	}))

	rec = httptest.NewRecorder()
	srv.serveHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy"}`, rec.Body.String())
}

func TestServer_StartServesAndStops(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordManagerStatus(true)

	port := freePort(t)
	srv := NewServer(port, "/metrics", registry, security.Config{})

	startErr := make(chan error, 1)
	go func() { startErr <- srv.Start() }()

	client := &http.Client{Timeout: time.Second}
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)

	require.Eventually(t, func() bool {
		resp, err := client.Get(healthURL)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond, "server should come up")

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "amistreams_manager_connected")

	// A handler installed while the server is live takes effect on the
	// next request.
	srv.SetHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	resp, err = client.Get(healthURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Starting twice is an error while the first listener is up.
	assert.Error(t, srv.Start())

	// Stop unblocks Start with a nil error, and is idempotent.
	require.NoError(t, srv.Stop())
	select {
	case err := <-startErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	require.NoError(t, srv.Stop())
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	srv := NewServer(freePort(t), "/metrics", nil, security.Config{})
	assert.Error(t, srv.Start())
}
