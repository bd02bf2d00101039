// Package toolchaintest provides a recording toolchain.Runner for tests.
package toolchaintest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/oshokin/cargo-flutter/internal/toolchain"
)

// Handler reacts to a recorded command. It may create files the real tool
// would produce, return output, or fail.
type Handler func(cmd toolchain.Command) ([]byte, error)

// Recorder records every command and dispatches it to a handler chosen by
// the executable's base name.
type Recorder struct {
	mu       sync.Mutex
	commands []toolchain.Command
	handlers map[string]Handler
}

// NewRecorder creates an empty recorder. Unhandled commands succeed silently.
func NewRecorder() *Recorder {
	return &Recorder{handlers: make(map[string]Handler)}
}

// Handle registers a handler for the executable base name.
func (r *Recorder) Handle(name string, h Handler) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = h

	return r
}

// Run implements toolchain.Runner.
func (r *Recorder) Run(ctx context.Context, cmd toolchain.Command) error {
	out, err := r.Output(ctx, cmd)
	if err == nil && cmd.Stdout != nil && len(out) > 0 {
		_, err = cmd.Stdout.Write(out)
	}

	return err
}

// Output implements toolchain.Runner.
func (r *Recorder) Output(_ context.Context, cmd toolchain.Command) ([]byte, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	h := r.handlers[baseName(cmd.Name)]
	r.mu.Unlock()

	if h == nil {
		return nil, nil
	}

	return h(cmd)
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []toolchain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.commands)
}

// Names returns "name first-arg" for every recorded command, which is
// enough to assert the order of tool invocations.
func (r *Recorder) Names() []string {
	cmds := r.Commands()

	names := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		name := baseName(cmd.Name)
		if len(cmd.Args) > 0 {
			name += " " + cmd.Args[0]
		}

		names = append(names, name)
	}

	return names
}

// Find returns the first recorded command with the given base name.
func (r *Recorder) Find(name string) (toolchain.Command, bool) {
	for _, cmd := range r.Commands() {
		if baseName(cmd.Name) == name {
			return cmd, true
		}
	}

	return toolchain.Command{}, false
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}

	return name
}
