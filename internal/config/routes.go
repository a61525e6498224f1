package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend strategies.
const (
	StrategyProcess = "process"
	StrategyHTTP    = "http"
)

// Downstream services an HTTP route can target.
const (
	ServiceCompute = "compute"
	ServiceRender  = "render"
)

// Selectors understood by the compute backend.
const (
	SelectorConic = "conic"
	SelectorECC   = "ecc"
)

// Route describes how one selector reaches its backend.
type Route struct {
	Strategy   string   `yaml:"strategy"`
	Executable string   `yaml:"executable,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	Service    string   `yaml:"service,omitempty"`
	Path       string   `yaml:"path,omitempty"`
}

type routeFile struct {
	Routes map[string]Route `yaml:"routes"`
}

// DefaultRoutes maps every selector to a flag of one shared executable.
func DefaultRoutes(coreBin string) map[string]Route {
	return map[string]Route{
		SelectorConic: {Strategy: StrategyProcess, Executable: coreBin, Args: []string{"--conic"}},
		SelectorECC:   {Strategy: StrategyProcess, Executable: coreBin, Args: []string{"--ecc"}},
	}
}

// Route returns the route for selector. The returned value is a copy.
func (c Config) Route(selector string) (Route, bool) {
	routes := c.routes
	if routes == nil {
		routes = DefaultRoutes(c.CoreBin)
	}
	r, ok := routes[selector]
	if !ok {
		return Route{}, false
	}
	r.Args = append([]string(nil), r.Args...)
	if r.Strategy == StrategyProcess && r.Executable == "" {
		r.Executable = c.CoreBin
	}
	return r, true
}

// Selectors lists the configured selectors in sorted order.
func (c Config) Selectors() []string {
	routes := c.routes
	if routes == nil {
		routes = DefaultRoutes(c.CoreBin)
	}
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithRoutes returns a copy of c whose route table is the defaults overlaid
// with overrides.
func (c Config) WithRoutes(overrides map[string]Route) Config {
	merged := DefaultRoutes(c.CoreBin)
	for name, r := range overrides {
		r.Args = append([]string(nil), r.Args...)
		merged[name] = r
	}
	c.routes = merged
	return c
}

// LoadRoutes reads a YAML route table such as
//
//	routes:
//	  conic:
//	    strategy: process
//	    executable: /opt/conicrypt/bin/conic
//	  ecc:
//	    strategy: http
//	    service: compute
//	    path: /ecc
func LoadRoutes(path string) (map[string]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) (map[string]Route, error) {
	var file routeFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse route file: %w", err)
	}

	for name, r := range file.Routes {
		r.Strategy = strings.ToLower(strings.TrimSpace(r.Strategy))
		if r.Strategy == "" {
			r.Strategy = StrategyProcess
		}
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
		file.Routes[name] = r
	}
	return file.Routes, nil
}

func (r Route) validate() error {
	switch r.Strategy {
	case StrategyProcess:
		if r.Service != "" || r.Path != "" {
			return fmt.Errorf("process route cannot set service or path")
		}
	case StrategyHTTP:
		if r.Executable != "" || len(r.Args) > 0 {
			return fmt.Errorf("http route cannot set executable or args")
		}
		if r.Service != "" && r.Service != ServiceCompute && r.Service != ServiceRender {
			return fmt.Errorf("unknown service %q", r.Service)
		}
		if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("path must start with '/'")
		}
	default:
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}
	return nil
}
