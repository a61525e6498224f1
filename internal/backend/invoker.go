// Package backend executes requests against the compute and render services,
// either by piping JSON through a child process or by forwarding it over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/protocol"
)

// Invoker runs one request against the backend named by selector and returns
// its JSON output. Implementations are safe for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, selector string, payload json.RawMessage) (json.RawMessage, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, selector string, payload json.RawMessage) (json.RawMessage, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, selector string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, selector, payload)
}

// Dispatcher resolves a selector to its configured route and runs it with
// the matching strategy.
type Dispatcher struct {
	cfg     config.Config
	process *ProcessRunner
	http    *HTTPForwarder
}

// NewDispatcher builds a dispatcher over cfg's route table.
func NewDispatcher(cfg config.Config) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		process: NewProcessRunner(cfg.BackendTimeout),
		http:    NewHTTPForwarder(cfg, nil),
	}
}

// WithProcessRunner replaces the runner used for process routes.
func (d *Dispatcher) WithProcessRunner(r *ProcessRunner) *Dispatcher {
	d.process = r
	return d
}

// WithHTTPForwarder replaces the forwarder used for http routes.
func (d *Dispatcher) WithHTTPForwarder(f *HTTPForwarder) *Dispatcher {
	d.http = f
	return d
}

// Invoke implements Invoker.
func (d *Dispatcher) Invoke(ctx context.Context, selector string, payload json.RawMessage) (json.RawMessage, error) {
	route, ok := d.cfg.Route(selector)
	if !ok {
		return nil, protocol.UnknownOperation(selector)
	}

	switch route.Strategy {
	case config.StrategyProcess:
		return d.process.Run(ctx, route.Executable, route.Args, payload)
	case config.StrategyHTTP:
		return d.http.Forward(ctx, selector, route, payload)
	default:
		return nil, fmt.Errorf("selector %s: unsupported strategy %q", selector, route.Strategy)
	}
}

// encodePayload returns the compact encoding of payload. The caller's slice
// is not modified.
func encodePayload(payload json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, protocol.EncodingFailure(fmt.Errorf("payload is empty"))
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, protocol.EncodingFailure(err)
	}
	return buf.Bytes(), nil
}

// parseOutput checks that out holds exactly one JSON document and returns it.
// Empty output is an error, not null.
func parseOutput(out []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, protocol.MalformedBackendOutput("empty output", "")
	}
	var doc json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, protocol.MalformedBackendOutput(err.Error(), string(out))
	}
	return doc, nil
}
