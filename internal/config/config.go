package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/conicbridge/internal/consts"
)

// Environment variables recognized by Resolve.
const (
	EnvCoreURL        = "CORE_URL"
	EnvPlotterURL     = "PLOTTER_URL"
	EnvWSHost         = "WS_HOST"
	EnvWSPort         = "WS_PORT"
	EnvCoreBin        = "CORE_BIN"
	EnvLogLevel       = "BRIDGE_LOG_LEVEL"
	EnvLogPath        = "BRIDGE_LOG_PATH"
	EnvMaxConcurrent  = "BRIDGE_MAX_CONCURRENT"
	EnvMaxConnections = "BRIDGE_MAX_CONNECTIONS"
	EnvBackendTimeout = "BRIDGE_BACKEND_TIMEOUT"
	EnvLiveness       = "BRIDGE_LIVENESS"
	EnvRoutes         = "BRIDGE_ROUTES"
)

// Defaults for a local development setup.
const (
	DefaultCoreURL     = "http://127.0.0.1:5000"
	DefaultPlotterURL  = "http://127.0.0.1:5001"
	DefaultWSHost      = "127.0.0.1"
	DefaultWSPort      = "9191"
	DefaultCorePort    = "5000"
	DefaultPlotterPort = "5001"
	DefaultCoreBin     = "conicrypt"
	DefaultLiveness    = "render"
)

// Config is an immutable snapshot of the bridge's connection parameters.
// It is built once at startup and handed to every component by value.
type Config struct {
	CoreURL    string
	PlotterURL string
	WSHost     string
	WSPort     string

	CoreBin        string
	LogLevel       string // debug, info, warn, error, none
	LogPath        string // empty logs to stderr
	MaxConcurrent  int
	MaxConnections int // 0 is unlimited
	BackendTimeout time.Duration
	Liveness       string // render, all, none
	RoutesPath     string

	routes   map[string]Route
	warnings []string
}

// DefaultConfig returns the configuration used when no overrides are present.
func DefaultConfig() Config {
	return Config{
		CoreURL:        DefaultCoreURL,
		PlotterURL:     DefaultPlotterURL,
		WSHost:         DefaultWSHost,
		WSPort:         DefaultWSPort,
		CoreBin:        DefaultCoreBin,
		LogLevel:       "info",
		MaxConcurrent:  consts.DefaultMaxConcurrentBackends,
		MaxConnections: consts.DefaultMaxConnections,
		BackendTimeout: consts.DefaultBackendTimeout,
		Liveness:       DefaultLiveness,
	}
}

// Resolve reads the process environment on top of DefaultConfig.
func Resolve() Config {
	return ResolveFrom(os.Getenv)
}

// ResolveFrom is Resolve with an explicit environment lookup. Invalid values
// keep their default and are reported by Warnings.
func ResolveFrom(getenv func(string) string) Config {
	cfg := DefaultConfig()
	warn := func(format string, args ...interface{}) {
		cfg.warnings = append(cfg.warnings, fmt.Sprintf(format, args...))
	}
	lookup := func(key string) (string, bool) {
		value := strings.TrimSpace(getenv(key))
		return value, value != ""
	}

	if v, ok := lookup(EnvCoreURL); ok {
		cfg.CoreURL = v
	}
	if v, ok := lookup(EnvPlotterURL); ok {
		cfg.PlotterURL = v
	}
	if v, ok := lookup(EnvWSHost); ok {
		cfg.WSHost = v
	}
	if v, ok := lookup(EnvWSPort); ok {
		cfg.WSPort = v
	}
	if v, ok := lookup(EnvCoreBin); ok {
		cfg.CoreBin = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvLogPath); ok {
		cfg.LogPath = v
	}
	if v, ok := lookup(EnvMaxConcurrent); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			warn("Ignoring invalid %s=%q, using %d", EnvMaxConcurrent, v, cfg.MaxConcurrent)
		} else {
			cfg.MaxConcurrent = n
		}
	}
	if v, ok := lookup(EnvMaxConnections); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			warn("Ignoring invalid %s=%q, using %d", EnvMaxConnections, v, cfg.MaxConnections)
		} else {
			cfg.MaxConnections = n
		}
	}
	if v, ok := lookup(EnvBackendTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			warn("Ignoring invalid %s=%q, using %s", EnvBackendTimeout, v, cfg.BackendTimeout)
		} else {
			cfg.BackendTimeout = d
		}
	}
	if v, ok := lookup(EnvLiveness); ok {
		cfg.Liveness = strings.ToLower(v)
	}
	if v, ok := lookup(EnvRoutes); ok {
		cfg.RoutesPath = v
	}

	return cfg
}

// Warnings lists the environment values ResolveFrom ignored. The logger is
// usually not set up yet when the environment is read, so callers log these
// once it is.
func (c Config) Warnings() []string {
	return append([]string(nil), c.warnings...)
}

// DeriveAddress turns a service URL into a "host:port" dial address.
//
// A leading http:// or https:// is stripped and everything from the first '/'
// on is dropped. If what remains has no port, defaultPort is appended.
func DeriveAddress(url, defaultPort string) string {
	trimmed := strings.TrimPrefix(url, "http://")
	trimmed = strings.TrimPrefix(trimmed, "https://")
	segment, _, _ := strings.Cut(trimmed, "/")
	if strings.Contains(segment, ":") {
		return segment
	}
	return segment + ":" + defaultPort
}

// CoreAddr is the compute-service dial address.
func (c Config) CoreAddr() string {
	return DeriveAddress(c.CoreURL, DefaultCorePort)
}

// PlotterAddr is the render-service dial address.
func (c Config) PlotterAddr() string {
	return DeriveAddress(c.PlotterURL, DefaultPlotterPort)
}

// BindAddr is the address the bridge listens on.
func (c Config) BindAddr() string {
	return c.WSHost + ":" + c.WSPort
}

// WSAddress is the URL clients should dial.
func (c Config) WSAddress() string {
	return "ws://" + c.BindAddr() + "/ws"
}

// ServiceURL returns the base URL of a named downstream service.
func (c Config) ServiceURL(service string) (string, bool) {
	switch service {
	case ServiceCompute, "":
		return c.CoreURL, true
	case ServiceRender:
		return c.PlotterURL, true
	default:
		return "", false
	}
}
