package orchestrator

import (
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/toolchain/cargo"
)

// Options contains inputs for the orchestrator entry point.
type Options struct {
	// CargoArgs is the cargo command line, starting with the subcommand.
	CargoArgs []string
	// Format is the packaging format requested for build. Empty means no packaging.
	Format string
	// NoFlutter skips bundle, AOT and attach.
	NoFlutter bool
	// NoBundle skips the flutter bundle.
	NoBundle bool
	// NoAttach skips attaching flutter to a running application.
	NoAttach bool
	// NoAot skips the AOT snapshot of release builds.
	NoAot bool
	// Sign requests signing of debug packages.
	Sign bool
	// NoSign disables signing of release packages.
	NoSign bool
	// WorkDir is where cargo runs. Empty means the current directory.
	WorkDir string
	// SettingsPath is the user settings file. Empty means the default location.
	SettingsPath string
	// LogLevel overrides the log level of the settings file.
	LogLevel string
}

func (o *Options) bundle() bool {
	return !o.NoFlutter && !o.NoBundle
}

func (o *Options) aot(profile packaging.Profile) bool {
	return !o.NoFlutter && !o.NoAot && profile.ExpectsAot()
}

func (o *Options) attach() bool {
	return !o.NoFlutter && !o.NoAttach
}

// needsFlutter reports whether any enabled step runs the flutter SDK.
func (o *Options) needsFlutter(args *cargo.Args) bool {
	if !args.IsPipeline() {
		return false
	}

	return o.bundle() || o.aot(args.Profile) || (args.Subcommand == cargo.SubcommandRun && o.attach())
}

// State is a step of the pipeline.
type State string

// Pipeline states in the order they are reached.
const (
	StateInit           State = "init"
	StateEngineResolved State = "engine-resolved"
	StateNativeBuilt    State = "native-built"
	StateBundleBuilt    State = "bundle-built"
	StateAotBuilt       State = "aot-built"
	StatePackaged       State = "packaged"
	StateRunning        State = "running"
)
