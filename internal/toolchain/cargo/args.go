package cargo

import (
	"strings"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// Subcommands that the pipeline understands. Anything else is passed to cargo as is.
const (
	SubcommandBuild = "build"
	SubcommandRun   = "run"
)

// Args is the parsed cargo command line.
type Args struct {
	// Subcommand is the first argument, such as "build" or "run".
	Subcommand string
	// Flags are the cargo arguments after the subcommand and before "--".
	Flags []string
	// Trailing are the arguments after "--", handed to the application on run.
	Trailing []string
	// Profile is Release when --release or --profile release is given.
	Profile packaging.Profile
	// Triple is the value of --target, if any.
	Triple string
	// TargetDir is the value of --target-dir, if any.
	TargetDir string
	// ManifestPath is the value of --manifest-path, if any.
	ManifestPath string
	// Bin is the value of --bin, if any.
	Bin string
}

// ParseArgs reads the cargo command line. It never fails: unknown flags are kept verbatim.
func ParseArgs(argv []string) *Args {
	args := &Args{}
	if len(argv) == 0 {
		return args
	}

	args.Subcommand = argv[0]
	rest := argv[1:]

	for i, arg := range rest {
		if arg == "--" {
			args.Trailing = append(args.Trailing, rest[i+1:]...)
			break
		}

		args.Flags = append(args.Flags, arg)
	}

	for i := 0; i < len(args.Flags); i++ {
		name, value, hasValue := strings.Cut(args.Flags[i], "=")
		if !hasValue && i+1 < len(args.Flags) {
			value = args.Flags[i+1]
		}

		switch name {
		case "--release", "-r":
			args.Profile = packaging.Release
		case "--profile":
			if value == "release" {
				args.Profile = packaging.Release
			}
		case "--target":
			args.Triple = value
		case "--target-dir":
			args.TargetDir = value
		case "--manifest-path":
			args.ManifestPath = value
		case "--bin":
			args.Bin = value
		default:
			continue
		}

		if !hasValue && name != "--release" && name != "-r" {
			i++
		}
	}

	return args
}

// IsPipeline reports whether the subcommand is one the pipeline drives.
func (a *Args) IsPipeline() bool {
	return a.Subcommand == SubcommandBuild || a.Subcommand == SubcommandRun
}
