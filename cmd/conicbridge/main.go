// conicbridge relays WebSocket requests from a local front end to the conic
// and ECC compute backends.
//
// Configuration comes from the environment (CORE_URL, PLOTTER_URL, WS_HOST,
// WS_PORT and the BRIDGE_* variables); command-line flags override it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codefionn/conicbridge/internal/bridge"
	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/liveness"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds what only the command line can set.
type cliOptions struct {
	gate  string
	echo  bool
	quiet bool
}

func run(args []string) (err error) {
	cfg, opts, err := parseArgs(args, config.Resolve(), os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	for _, w := range cfg.Warnings() {
		logger.Warn("%s", w)
	}

	if cfg.RoutesPath != "" {
		routes, loadErr := config.LoadRoutes(cfg.RoutesPath)
		if loadErr != nil {
			return fmt.Errorf("failed to load routes: %w", loadErr)
		}
		cfg = cfg.WithRoutes(routes)
		logger.Info("Loaded %d route override(s) from %s", len(routes), cfg.RoutesPath)
	}

	gate, err := bridge.ParseGate(opts.gate)
	if err != nil {
		return err
	}

	logger.Info("conicbridge starting")
	logger.Debug("Configuration: core=%s plotter=%s bind=%s liveness=%s max_concurrent=%d backend_timeout=%s",
		cfg.CoreURL, cfg.PlotterURL, cfg.BindAddr(), cfg.Liveness, cfg.MaxConcurrent, cfg.BackendTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bopts := bridge.Options{
		Gate:              gate,
		Echo:              opts.echo,
		ExitOnUnavailable: true,
	}
	if !opts.quiet {
		bopts.Ready = func(string) { bridge.PrintBanner(os.Stdout, cfg, bopts) }
	}

	b, err := bridge.New(cfg, bopts)
	if err != nil {
		return err
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("conicbridge stopped")
	return nil
}

// parseArgs applies command-line flags over cfg. Flags that were not given
// leave the environment's value in place.
func parseArgs(args []string, cfg config.Config, out io.Writer) (config.Config, cliOptions, error) {
	var opts cliOptions

	fs := pflag.NewFlagSet("conicbridge", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: conicbridge [flags]\n\nFlags:\n%s", fs.FlagUsages())
	}

	host := fs.String("host", cfg.WSHost, "interface to listen on ("+config.EnvWSHost+")")
	port := fs.StringP("port", "p", cfg.WSPort, "port to listen on ("+config.EnvWSPort+")")
	coreURL := fs.String("core-url", cfg.CoreURL, "compute service URL ("+config.EnvCoreURL+")")
	plotterURL := fs.String("plotter-url", cfg.PlotterURL, "render service URL ("+config.EnvPlotterURL+")")
	coreBin := fs.String("core-bin", cfg.CoreBin, "compute executable for process routes ("+config.EnvCoreBin+")")
	routes := fs.String("routes", cfg.RoutesPath, "YAML file with route overrides ("+config.EnvRoutes+")")
	live := fs.String("liveness", cfg.Liveness, "services required at startup: render, all or none ("+config.EnvLiveness+")")
	maxConc := fs.Int("max-concurrent", cfg.MaxConcurrent, "backend invocations allowed at once ("+config.EnvMaxConcurrent+")")
	maxConns := fs.Int("max-connections", cfg.MaxConnections, "open client connections allowed at once, 0 for no cap ("+config.EnvMaxConnections+")")
	timeout := fs.Duration("backend-timeout", cfg.BackendTimeout, "limit for one backend invocation, 0 for none ("+config.EnvBackendTimeout+")")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn, error or off ("+config.EnvLogLevel+")")
	logPath := fs.String("log-path", cfg.LogPath, "log file; stderr when empty ("+config.EnvLogPath+")")
	fs.StringVar(&opts.gate, "gate", string(bridge.GateCooperative), "startup gate: blocking or cooperative")
	fs.BoolVar(&opts.echo, "echo", false, "answer every message with \"Echo: <message>\" instead of relaying")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the startup banner")

	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	if fs.NArg() > 0 {
		return cfg, opts, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if _, err := liveness.ParsePolicy(*live); err != nil {
		return cfg, opts, err
	}
	if *maxConc < 1 {
		return cfg, opts, fmt.Errorf("--max-concurrent must be at least 1, got %d", *maxConc)
	}
	if *maxConns < 0 {
		return cfg, opts, fmt.Errorf("--max-connections cannot be negative, got %d", *maxConns)
	}
	if *timeout < 0 {
		return cfg, opts, fmt.Errorf("--backend-timeout cannot be negative, got %s", timeout.Round(time.Millisecond))
	}

	cfg.WSHost = *host
	cfg.WSPort = *port
	cfg.CoreURL = *coreURL
	cfg.PlotterURL = *plotterURL
	cfg.CoreBin = *coreBin
	cfg.RoutesPath = *routes
	cfg.Liveness = *live
	cfg.MaxConcurrent = *maxConc
	cfg.MaxConnections = *maxConns
	cfg.BackendTimeout = *timeout
	cfg.LogLevel = *logLevel
	cfg.LogPath = *logPath
	return cfg, opts, nil
}
