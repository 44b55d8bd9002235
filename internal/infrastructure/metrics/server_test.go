package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_HasRuntimeCollectors(t *testing.T) {
	reg := NewRegistry()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"], "go collector registered")
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graylogic_serial_test_total",
		Help: "test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := NewServer("127.0.0.1:0", "/custom", reg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/custom", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graylogic_serial_test_total 3")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_StartShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "", NewRegistry(), nil)
	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), ErrAlreadyStarted)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Empty(t, srv.Addr())

	// Second shutdown is a no-op
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestServer_ListenError(t *testing.T) {
	srv := NewServer("256.0.0.1:bad", "/metrics", NewRegistry(), nil)
	assert.Error(t, srv.Start())
}
