package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/consts"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/codefionn/conicbridge/internal/protocol"
)

// HTTPForwarder POSTs the payload to a sibling service and relays the JSON
// body it answers with.
type HTTPForwarder struct {
	cfg    config.Config
	client *http.Client
}

// NewHTTPForwarder creates a forwarder. A nil client gets one whose timeout
// is cfg.BackendTimeout.
func NewHTTPForwarder(cfg config.Config, client *http.Client) *HTTPForwarder {
	if client == nil {
		client = &http.Client{Timeout: cfg.BackendTimeout}
	}
	return &HTTPForwarder{cfg: cfg, client: client}
}

// Forward sends payload to the service named by route. The path defaults
// to "/<selector>".
func (f *HTTPForwarder) Forward(ctx context.Context, selector string, route config.Route, payload json.RawMessage) (json.RawMessage, error) {
	input, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	base, ok := f.cfg.ServiceURL(route.Service)
	if !ok {
		return nil, fmt.Errorf("selector %s: unknown service %q", selector, route.Service)
	}
	path := route.Path
	if path == "" {
		path = "/" + selector
	}
	url := strings.TrimRight(base, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(input))
	if err != nil {
		return nil, protocol.SpawnFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("backend request canceled: %w", ctx.Err())
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			logger.Warn("backend: POST %s timed out after %s", url, f.client.Timeout)
			return nil, protocol.BackendTimeout(f.client.Timeout.String())
		}
		logger.Warn("backend: POST %s failed: %v", url, err)
		return nil, protocol.BackendFailure(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, consts.MaxBackendOutput+1))
	if err != nil {
		return nil, protocol.BackendFailure(fmt.Sprintf("failed to read response: %v", err))
	}
	if len(body) > consts.MaxBackendOutput {
		logger.Warn("backend: POST %s answered with more than %d bytes", url, consts.MaxBackendOutput)
		return nil, protocol.MalformedBackendOutput(fmt.Sprintf("output exceeds %d bytes", consts.MaxBackendOutput), string(body[:consts.BufferSize1KB]))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = resp.Status
		} else {
			detail = resp.Status + ": " + detail
		}
		logger.Warn("backend: POST %s returned %s", url, resp.Status)
		return nil, protocol.BackendFailure(detail)
	}

	return parseOutput(body)
}
