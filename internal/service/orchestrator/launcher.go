package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/toolchain/flutter"
)

const maxLineLength = 1024 * 1024

// Launch describes the application process to start.
type Launch struct {
	// Path is the application binary.
	Path string
	// Args are passed to the application.
	Args []string
	// Dir is the working directory.
	Dir string
	// Env is the complete application environment.
	Env config.Environment
}

// Process is a started application.
type Process interface {
	// ServiceURI yields the VM service address once the application prints it.
	// The channel is closed when the output ends.
	ServiceURI() <-chan string
	// Wait blocks until the application exits.
	Wait() error
}

// Launcher starts the application.
type Launcher interface {
	Start(ctx context.Context, launch *Launch) (Process, error)
}

// execLauncher runs the application as a child process and mirrors its output.
type execLauncher struct {
	stdout io.Writer
	stderr io.Writer
}

func newExecLauncher() *execLauncher {
	return &execLauncher{stdout: os.Stdout, stderr: os.Stderr}
}

type execProcess struct {
	cmd     *exec.Cmd
	uri     chan string
	scanned sync.WaitGroup
}

// Start launches the binary and starts scanning its output for the VM service announcement.
func (l *execLauncher) Start(ctx context.Context, launch *Launch) (Process, error) {
	cmd := exec.CommandContext(ctx, launch.Path, launch.Args...) //nolint:gosec // The binary is the one just built.
	cmd.Dir = launch.Dir
	cmd.Env = launch.Env.Pairs()
	cmd.Stdin = os.Stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("application stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("application stderr: %w", err)
	}

	logger.DebugKV(ctx, "Launching application", "path", launch.Path, "args", launch.Args)

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", launch.Path, err)
	}

	p := &execProcess{
		cmd: cmd,
		uri: make(chan string, 1),
	}

	var once sync.Once

	scan := func(r io.Reader, w io.Writer) {
		defer p.scanned.Done()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

		for scanner.Scan() {
			line := scanner.Text()
			_, _ = fmt.Fprintln(w, line)

			if uri, ok := flutter.ParseServiceURI(line); ok {
				once.Do(func() { p.uri <- uri })
			}
		}

		// Keep the pipe drained after an overlong line.
		_, _ = io.Copy(w, r)
	}

	p.scanned.Add(2)

	go scan(stdout, l.stdout)
	go scan(stderr, l.stderr)

	go func() {
		p.scanned.Wait()
		close(p.uri)
	}()

	return p, nil
}

func (p *execProcess) ServiceURI() <-chan string {
	return p.uri
}

func (p *execProcess) Wait() error {
	p.scanned.Wait()

	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("application exited: %w", err)
	}

	return nil
}
