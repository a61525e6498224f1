// Package bridge assembles the relay: liveness gate, backend invoker, request
// router and WebSocket server.
package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/codefionn/conicbridge/internal/backend"
	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/liveness"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/codefionn/conicbridge/internal/router"
	"github.com/codefionn/conicbridge/internal/wsserver"
	"golang.org/x/sync/errgroup"
)

// Gate selects how startup waits for downstream services.
type Gate string

const (
	// GateBlocking sleeps the starting goroutine, bounded by wall-clock time.
	GateBlocking Gate = "blocking"
	// GateCooperative retries a fixed number of times and honors cancellation.
	GateCooperative Gate = "cooperative"
)

// ParseGate validates a gate name. Empty means cooperative.
func ParseGate(s string) (Gate, error) {
	switch g := Gate(strings.ToLower(strings.TrimSpace(s))); g {
	case GateBlocking, GateCooperative:
		return g, nil
	case "":
		return GateCooperative, nil
	default:
		return "", fmt.Errorf("unknown gate %q (want blocking or cooperative)", s)
	}
}

// Options tune a Bridge beyond what Config carries.
type Options struct {
	Gate Gate
	// Echo replaces the router with the echo handler.
	Echo bool
	// ExitOnUnavailable terminates the process when the gate fails instead
	// of returning an error.
	ExitOnUnavailable bool
	// Prober overrides the liveness prober.
	Prober *liveness.Prober
	// Invoker overrides the backend invoker. It is still wrapped in the
	// concurrency limiter.
	Invoker backend.Invoker
	// Listener serves on an existing listener instead of binding the
	// configured address.
	Listener net.Listener
	// Ready is called with the bound address once connections are accepted.
	Ready func(addr string)
}

// Bridge is a configured relay ready to run.
type Bridge struct {
	cfg     config.Config
	opts    Options
	policy  liveness.Policy
	handler wsserver.Handler
	limiter *backend.Limiter
	server  *wsserver.Server
}

// New validates cfg and builds every component.
func New(cfg config.Config, opts Options) (*Bridge, error) {
	policy, err := liveness.ParsePolicy(cfg.Liveness)
	if err != nil {
		return nil, err
	}
	if opts.Gate == "" {
		opts.Gate = GateCooperative
	}
	if _, err := ParseGate(string(opts.Gate)); err != nil {
		return nil, err
	}
	if opts.Prober == nil {
		opts.Prober = liveness.NewProber()
	}

	b := &Bridge{
		cfg:    cfg,
		opts:   opts,
		policy: policy,
	}

	if opts.Echo {
		b.handler = router.Echo{}
	} else {
		inv := opts.Invoker
		if inv == nil {
			inv = backend.NewDispatcher(cfg)
		}
		b.limiter = backend.NewLimiter(inv, cfg.MaxConcurrent)
		r := router.New(b.limiter, cfg.Selectors()...)
		logger.Debug("bridge: operations %s", strings.Join(r.Operations(), ", "))
		b.handler = r
	}

	b.server = wsserver.NewServer(cfg.BindAddr(), b.handler).WithMaxConnections(cfg.MaxConnections)
	return b, nil
}

// Run builds a bridge with default options and runs it until ctx is done.
// It is the entry point for embedding the bridge in another process.
func Run(ctx context.Context, cfg config.Config) error {
	b, err := New(cfg, Options{})
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

// Handler returns the message handler the server relays to.
func (b *Bridge) Handler() wsserver.Handler {
	return b.handler
}

// Limiter returns the backend concurrency limiter, or nil in echo mode.
func (b *Bridge) Limiter() *backend.Limiter {
	return b.limiter
}

// Server returns the WebSocket server.
func (b *Bridge) Server() *wsserver.Server {
	return b.server
}

// Run gates on liveness, then serves until ctx is done or the server fails.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.waitForBackends(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if b.opts.Listener != nil {
		g.Go(func() error {
			defer cancel()
			return b.server.Serve(gctx, b.opts.Listener)
		})
	} else {
		if err := b.server.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return b.server.Wait()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return b.server.Stop()
	})

	addr := b.cfg.BindAddr()
	if b.opts.Listener != nil {
		addr = b.opts.Listener.Addr().String()
	}
	logger.Info("Bridge ready on ws://%s/ws (liveness=%s gate=%s echo=%t)", addr, b.policy, b.opts.Gate, b.opts.Echo)
	if b.opts.Ready != nil {
		b.opts.Ready(addr)
	}

	return g.Wait()
}

func (b *Bridge) waitForBackends(ctx context.Context) error {
	targets := b.policy.Targets(b.cfg)
	p := b.opts.Prober

	switch b.opts.Gate {
	case GateBlocking:
		if b.opts.ExitOnUnavailable {
			p.MustWaitBlocking(targets)
			return nil
		}
		return p.WaitBlocking(targets)
	default:
		if b.opts.ExitOnUnavailable {
			p.MustWaitCooperative(ctx, targets)
			return ctx.Err()
		}
		return p.WaitCooperative(ctx, targets)
	}
}

// PrintBanner writes the startup summary shown by the command.
func PrintBanner(w io.Writer, cfg config.Config, opts Options) {
	fmt.Fprintf(w, "conicbridge listening on %s\n", cfg.WSAddress())
	if opts.Echo {
		fmt.Fprintln(w, "  mode:    echo")
		return
	}
	fmt.Fprintf(w, "  compute: %s\n", cfg.CoreURL)
	fmt.Fprintf(w, "  render:  %s\n", cfg.PlotterURL)
	for _, sel := range cfg.Selectors() {
		route, _ := cfg.Route(sel)
		switch route.Strategy {
		case config.StrategyHTTP:
			fmt.Fprintf(w, "  %-8s http %s%s\n", sel+":", route.Service, route.Path)
		default:
			fmt.Fprintf(w, "  %-8s %s %s\n", sel+":", route.Executable, strings.Join(route.Args, " "))
		}
	}
}
