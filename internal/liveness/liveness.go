// Package liveness gates startup on the downstream services being reachable.
//
// Two gates exist. WaitBlocking sleeps the calling goroutine between probe
// rounds and is bounded by wall-clock time. WaitCooperative is bounded by an
// attempt count and returns early when its context ends. Both probe with a
// plain TCP connect; nothing is sent.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/codefionn/conicbridge/internal/config"
	"github.com/codefionn/conicbridge/internal/consts"
	"github.com/codefionn/conicbridge/internal/logger"
	"golang.org/x/term"
)

// ErrUnavailable is returned when required services never became reachable.
var ErrUnavailable = errors.New("backend services unavailable")

// Target is one address that must accept TCP connections.
type Target struct {
	Name string
	Addr string
}

// Policy selects which downstream services must be live before serving.
type Policy string

const (
	// PolicyRender requires only the render service. The bridge can still
	// start while the compute service is down.
	PolicyRender Policy = "render"
	// PolicyAll requires both services.
	PolicyAll Policy = "all"
	// PolicyNone skips the gate.
	PolicyNone Policy = "none"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyRender, PolicyAll, PolicyNone:
		return p, nil
	case "":
		return PolicyRender, nil
	default:
		return "", fmt.Errorf("unknown liveness policy %q (want render, all or none)", s)
	}
}

// Targets lists the addresses the policy requires for cfg.
func (p Policy) Targets(cfg config.Config) []Target {
	compute := Target{Name: config.ServiceCompute, Addr: cfg.CoreAddr()}
	render := Target{Name: config.ServiceRender, Addr: cfg.PlotterAddr()}

	switch p {
	case PolicyAll:
		return []Target{compute, render}
	case PolicyNone:
		return nil
	default:
		return []Target{render}
	}
}

// Prober polls targets until they accept connections.
type Prober struct {
	// Dial checks one address. Defaults to a TCP connect with DialTimeout.
	Dial func(ctx context.Context, addr string) error
	// Interval is the pause between rounds.
	Interval time.Duration
	// Timeout bounds WaitBlocking.
	Timeout time.Duration
	// Attempts bounds WaitCooperative.
	Attempts int
	// Out receives progress dots when it is a terminal.
	Out io.Writer
	// Exit terminates the process in the MustWait variants.
	Exit func(code int)
}

// NewProber returns a prober with the standard 2s interval, 60s timeout and
// 30 attempts.
func NewProber() *Prober {
	return &Prober{
		Dial:     dialTCP,
		Interval: consts.LivenessInterval,
		Timeout:  consts.LivenessTimeout,
		Attempts: consts.LivenessAttempts,
		Out:      os.Stdout,
		Exit:     os.Exit,
	}
}

func dialTCP(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: consts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitBlocking probes every Interval until all targets are reachable or
// Timeout elapses.
func (p *Prober) WaitBlocking(targets []Target) error {
	if len(targets) == 0 {
		return nil
	}
	logger.Info("liveness: waiting for %s", describe(targets))

	deadline := time.Now().Add(p.Timeout)
	for {
		missing := p.probe(context.Background(), targets)
		if len(missing) == 0 {
			p.progressDone()
			logger.Info("liveness: %s reachable", describe(targets))
			return nil
		}
		if !time.Now().Add(p.Interval).Before(deadline) {
			p.progressDone()
			return fmt.Errorf("%w after %s: %s", ErrUnavailable, p.Timeout, describe(missing))
		}
		p.progress()
		time.Sleep(p.Interval)
	}
}

// WaitCooperative probes up to Attempts times, Interval apart, without
// holding the goroutine while it waits. It returns ctx's error if ctx ends
// first.
func (p *Prober) WaitCooperative(ctx context.Context, targets []Target) error {
	if len(targets) == 0 {
		return nil
	}
	logger.Info("liveness: waiting for %s", describe(targets))

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)

	var missing []Target
	err := backoff.Retry(func() error {
		missing = p.probe(ctx, targets)
		if len(missing) == 0 {
			return nil
		}
		p.progress()
		return fmt.Errorf("%s not reachable", describe(missing))
	}, policy)
	p.progressDone()

	if err == nil {
		logger.Info("liveness: %s reachable", describe(targets))
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w after %d attempts: %s", ErrUnavailable, attempts, describe(missing))
}

// MustWaitBlocking is WaitBlocking that exits the process on failure.
func (p *Prober) MustWaitBlocking(targets []Target) {
	if err := p.WaitBlocking(targets); err != nil {
		p.fail(err)
	}
}

// MustWaitCooperative is WaitCooperative that exits the process when the
// targets stay unreachable. Cancellation of ctx is not a failure: it returns
// and leaves ctx.Err() to the caller.
func (p *Prober) MustWaitCooperative(ctx context.Context, targets []Target) {
	err := p.WaitCooperative(ctx, targets)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		logger.Info("liveness: stopped waiting: %v", ctx.Err())
		return
	}
	p.fail(err)
}

func (p *Prober) fail(err error) {
	logger.Error("liveness: %v", err)
	fmt.Fprintf(os.Stderr, "[ERROR] %v\nMake sure the backend containers are running: docker compose up -d\n", err)
	exit := p.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}

func (p *Prober) probe(ctx context.Context, targets []Target) []Target {
	dial := p.Dial
	if dial == nil {
		dial = dialTCP
	}
	var missing []Target
	for _, t := range targets {
		if err := dial(ctx, t.Addr); err != nil {
			logger.Debug("liveness: %s at %s: %v", t.Name, t.Addr, err)
			missing = append(missing, t)
		}
	}
	return missing
}

func (p *Prober) progress() {
	if isTerminal(p.Out) {
		fmt.Fprint(p.Out, ".")
	}
}

func (p *Prober) progressDone() {
	if isTerminal(p.Out) {
		fmt.Fprintln(p.Out)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func describe(targets []Target) string {
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		parts = append(parts, t.Name+" ("+t.Addr+")")
	}
	return strings.Join(parts, ", ")
}
