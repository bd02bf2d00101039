package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/oshokin/cargo-flutter/internal/logger"
)

// Command describes one external program invocation.
type Command struct {
	// Name is the executable name or path.
	Name string
	// Args are passed verbatim.
	Args []string
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is the complete child environment as KEY=VALUE pairs.
	// Nil means the child inherits the process environment.
	Env []string
	// Stdin, Stdout and Stderr default to the process streams when nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Unbounded exempts an interactive command from the runner timeout.
	// It still ends with ctx.
	Unbounded bool
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands.
type Runner interface {
	// Run executes the command and waits for it to finish.
	Run(ctx context.Context, cmd Command) error
	// Output executes the command and returns its standard output.
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// timeout bounds a single invocation. Zero disables the bound.
	timeout time.Duration
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithTimeout sets the per-invocation timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *ExecRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// waitDelay bounds how long Wait keeps copying output after the child was killed.
const waitDelay = 5 * time.Second

// ErrTimeout is returned when a command exceeds its time budget.
var ErrTimeout = errors.New("command timed out")

// NewExecRunner creates a runner for child processes.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes the command with the process streams unless overridden.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	callCtx, cancel := r.callContext(ctx, cmd)
	defer cancel()

	c := r.prepare(callCtx, cmd)
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}

	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	logger.DebugKV(ctx, "Running command", "command", cmd.String(), "dir", cmd.Dir)

	if err := c.Run(); err != nil {
		return r.wrap(callCtx, cmd, err)
	}

	return nil
}

// Output executes the command and captures standard output.
// Standard error is kept for the error message.
func (r *ExecRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	callCtx, cancel := r.callContext(ctx, cmd)
	defer cancel()

	c := r.prepare(callCtx, cmd)

	var stdout, stderr bytes.Buffer

	c.Stdout = &stdout
	c.Stderr = &stderr

	logger.DebugKV(ctx, "Capturing command output", "command", cmd.String(), "dir", cmd.Dir)

	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}

		return nil, r.wrap(callCtx, cmd, err)
	}

	return stdout.Bytes(), nil
}

func (r *ExecRunner) prepare(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	c.WaitDelay = waitDelay

	return c
}

func (r *ExecRunner) wrap(ctx context.Context, cmd Command, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", cmd, ErrTimeout, r.timeout)
	}

	return fmt.Errorf("%s: %w", cmd, err)
}

// callContext returns a context with the runner timeout if configured and the
// command is bounded, otherwise a cancellable child context without a deadline.
func (r *ExecRunner) callContext(ctx context.Context, cmd Command) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 || cmd.Unbounded {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.timeout)
}
