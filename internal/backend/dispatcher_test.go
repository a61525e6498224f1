package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(coreURL string) config.Config {
	cfg := config.DefaultConfig()
	cfg.CoreBin = os.Args[0]
	cfg.CoreURL = coreURL
	cfg.BackendTimeout = 5 * time.Second
	return cfg
}

func TestDispatcherProcessRoutes(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1").WithRoutes(map[string]config.Route{
		"echo": {Strategy: config.StrategyProcess, Args: []string{"--echo"}},
	})
	d := NewDispatcher(cfg).WithProcessRunner(fakeRunner(5 * time.Second))

	out, err := d.Invoke(context.Background(), config.SelectorConic, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ellipse","center":[0,0]}`, string(out))

	out, err = d.Invoke(context.Background(), "echo", json.RawMessage(`{"k":3}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":3}`, string(out))
}

func TestDispatcherUnknownSelector(t *testing.T) {
	d := NewDispatcher(testConfig("http://127.0.0.1:1"))

	_, err := d.Invoke(context.Background(), "plot", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.UnknownOperation("plot"))
}

func TestDispatcherHTTPRoute(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"delta":-4,"type":"ellipse","points":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/").WithRoutes(map[string]config.Route{
		config.SelectorConic: {Strategy: config.StrategyHTTP, Service: config.ServiceCompute},
	})

	out, err := NewDispatcher(cfg).Invoke(context.Background(), config.SelectorConic, json.RawMessage(`{ "A": 1 }`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"delta":-4,"type":"ellipse","points":[]}`, string(out))
	assert.Equal(t, "/conic", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"A":1}`, string(gotBody))
}

func TestHTTPForwarderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false,"error":"Core execution failed"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	route := config.Route{Strategy: config.StrategyHTTP, Path: "/ecc"}

	_, err := NewHTTPForwarder(cfg, nil).Forward(context.Background(), config.SelectorECC, route, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, protocol.KindBackendFailure, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "500 Internal Server Error")
	assert.Contains(t, err.Error(), "Core execution failed")
}

func TestHTTPForwarderMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, err := NewHTTPForwarder(testConfig(srv.URL), nil).Forward(context.Background(), "conic", config.Route{Strategy: config.StrategyHTTP}, json.RawMessage(`{}`))
	assert.Equal(t, protocol.KindMalformedBackendOutput, protocol.KindOf(err))
}

func TestHTTPForwarderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Timeout: 200 * time.Millisecond}
	_, err := NewHTTPForwarder(testConfig(srv.URL), client).Forward(context.Background(), "conic", config.Route{Strategy: config.StrategyHTTP}, json.RawMessage(`{}`))
	assert.Equal(t, protocol.KindBackendTimeout, protocol.KindOf(err))
}

func TestHTTPForwarderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPForwarder(testConfig(url), nil).Forward(context.Background(), "conic", config.Route{Strategy: config.StrategyHTTP}, json.RawMessage(`{}`))
	assert.Equal(t, protocol.KindBackendFailure, protocol.KindOf(err))
}
