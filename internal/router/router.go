// Package router turns client messages into backend invocations.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/codefionn/conicbridge/internal/backend"
	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/codefionn/conicbridge/internal/protocol"
)

// Built-in operations answered without a backend.
const (
	OpEcho = "echo"
	OpPing = "ping"
)

// Router maps operation names to backend selectors.
type Router struct {
	invoker backend.Invoker
	ops     map[string]string
	log     *logger.Logger
}

// DefaultOperations is the operation table every router starts with. Both
// the current names and the older mode names are accepted.
func DefaultOperations() map[string]string {
	return map[string]string{
		"analyze_conic":      config.SelectorConic,
		config.SelectorConic: config.SelectorConic,
		"simulate_ecc":       config.SelectorECC,
		config.SelectorECC:   config.SelectorECC,
	}
}

// New creates a router over invoker. Each extra selector becomes reachable
// under its own name.
func New(invoker backend.Invoker, selectors ...string) *Router {
	ops := DefaultOperations()
	for _, s := range selectors {
		if _, ok := ops[s]; !ok && s != OpEcho && s != OpPing {
			ops[s] = s
		}
	}
	return &Router{
		invoker: invoker,
		ops:     ops,
		log:     logger.Global().WithPrefix("router"),
	}
}

// Operations lists the names the router accepts, sorted.
func (r *Router) Operations() []string {
	names := make([]string, 0, len(r.ops)+2)
	for name := range r.ops {
		names = append(names, name)
	}
	names = append(names, OpEcho, OpPing)
	sort.Strings(names)
	return names
}

// HandleMessage implements the connection server's handler.
func (r *Router) HandleMessage(ctx context.Context, msg []byte) []byte {
	return r.Route(ctx, msg)
}

// Route decodes msg, dispatches it and always returns a response: the
// backend output on success, an error object otherwise.
func (r *Router) Route(ctx context.Context, msg []byte) (resp json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic while routing request: %v", p)
			resp = protocol.ErrorResponse(fmt.Errorf("internal error"))
		}
	}()

	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		r.log.Warn("rejected request: %v", err)
		return protocol.ErrorResponse(err)
	}

	start := time.Now()
	out, err := r.Dispatch(ctx, req)
	if err != nil {
		r.log.Warn("%s failed after %s: %v", req.Operation, time.Since(start), err)
		return protocol.ErrorResponse(err)
	}
	r.log.Debug("%s answered in %s", req.Operation, time.Since(start))
	return out
}

// Dispatch runs a decoded request.
func (r *Router) Dispatch(ctx context.Context, req protocol.Request) (json.RawMessage, error) {
	switch req.Operation {
	case OpEcho:
		return append(json.RawMessage(nil), req.Payload...), nil
	case OpPing:
		return protocol.OKResponse("pong"), nil
	}

	selector, ok := r.ops[req.Operation]
	if !ok {
		return nil, protocol.UnknownOperation(req.Operation)
	}
	return r.invoker.Invoke(ctx, selector, req.Payload)
}
