package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/codefionn/conicbridge/internal/consts"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/codefionn/conicbridge/internal/protocol"
)

// ProcessRunner spawns one child per request. The payload is written to the
// child's stdin, which is then closed; the child must print one JSON document
// on stdout and exit 0, or print a diagnostic on stderr and exit non-zero.
type ProcessRunner struct {
	timeout     time.Duration
	env         []string
	dir         string
	outputLimit int
}

// NewProcessRunner creates a runner. A zero timeout disables the deadline.
func NewProcessRunner(timeout time.Duration) *ProcessRunner {
	return &ProcessRunner{timeout: timeout, outputLimit: consts.MaxBackendOutput}
}

// WithOutputLimit caps how much of the child's stdout is kept. Output past
// the cap is a malformed response. Stderr keeps at most 64KB.
func (r *ProcessRunner) WithOutputLimit(n int) *ProcessRunner {
	r.outputLimit = n
	return r
}

// WithEnv appends variables to the inherited environment of every child.
func (r *ProcessRunner) WithEnv(env ...string) *ProcessRunner {
	r.env = append(r.env, env...)
	return r
}

// WithDir sets the children's working directory.
func (r *ProcessRunner) WithDir(dir string) *ProcessRunner {
	r.dir = dir
	return r
}

// Run executes executable with args and returns its parsed output. The child
// is always reaped before Run returns.
func (r *ProcessRunner) Run(ctx context.Context, executable string, args []string, payload json.RawMessage) (json.RawMessage, error) {
	input, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, executable, args...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	configureProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = consts.ProcessWaitDelay

	stdout := newCappedBuffer(r.outputLimit)
	stderr := newCappedBuffer(consts.BufferSize64KB)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("backend: failed to start %s: %v", executable, err)
		return nil, protocol.SpawnFailure(err)
	}
	pid := cmd.Process.Pid
	logger.Debug("backend: started %s %s (pid=%d)", executable, strings.Join(args, " "), pid)

	waitErr := cmd.Wait()
	elapsed := time.Since(started)

	if waitErr == nil {
		logger.Debug("backend: %s (pid=%d) finished in %s (%d bytes)", executable, pid, elapsed, stdout.Len())
		if stdout.Truncated() {
			logger.Warn("backend: %s (pid=%d) wrote more than %d bytes", executable, pid, r.outputLimit)
			return nil, protocol.MalformedBackendOutput(fmt.Sprintf("output exceeds %d bytes", r.outputLimit), string(stdout.Bytes()))
		}
		return parseOutput(stdout.Bytes())
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctx.Err() == nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			logger.Warn("backend: killed %s (pid=%d) after %s", executable, pid, r.timeout)
			return nil, protocol.BackendTimeout(r.timeout.String())
		}
		logger.Warn("backend: %s (pid=%d) canceled: %v", executable, pid, ctx.Err())
		return nil, fmt.Errorf("backend request canceled: %w", ctx.Err())
	}

	detail := strings.TrimSpace(stderr.String())
	if detail == "" {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			detail = exitErr.Error()
		} else {
			detail = waitErr.Error()
		}
	}
	logger.Warn("backend: %s (pid=%d) failed after %s: %s", executable, pid, elapsed, detail)
	return nil, protocol.BackendFailure(detail)
}
