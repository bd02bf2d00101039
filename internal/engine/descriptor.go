package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// EnvVersionKey overrides the engine version from the environment.
const EnvVersionKey = "FLUTTER_ENGINE_VERSION"

// LatestKnownVersion is the newest engine version this build knows about.
// It can be overridden via ldflags.
//
//nolint:gochecknoglobals // Set through ldflags at release time.
var LatestKnownVersion = "f0826da7ef2d301eb8f4ead91aaf026aa2b52881"

var errInvalidKey = errors.New("invalid engine key")

// Key identifies one engine build.
type Key struct {
	Version string
	Triple  string
	Profile packaging.Profile
}

// String renders the key for logs.
func (k Key) String() string {
	return k.Version + "/" + k.Triple + "/" + k.Profile.String()
}

// validate rejects keys that cannot be used as path segments.
func (k Key) validate() error {
	for name, value := range map[string]string{"version": k.Version, "triple": k.Triple} {
		if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
			return fmt.Errorf("%w: %s %q", errInvalidKey, name, value)
		}
	}

	return nil
}

// Descriptor is a resolved engine build.
type Descriptor struct {
	Version string
	Triple  string
	Profile packaging.Profile
	// Path is the engine shared library.
	Path string
}

// Key returns the store key of the descriptor.
func (d *Descriptor) Key() Key {
	return Key{Version: d.Version, Triple: d.Triple, Profile: d.Profile}
}

// Dir is the directory holding the engine library and its companion tools.
func (d *Descriptor) Dir() string {
	return filepath.Dir(d.Path)
}

// GenSnapshot is the AOT compiler shipped with release engine builds.
func (d *Descriptor) GenSnapshot() string {
	if isWindows(d.Triple) {
		return filepath.Join(d.Dir(), "gen_snapshot.exe")
	}

	return filepath.Join(d.Dir(), "gen_snapshot")
}

// LibraryName returns the engine library file name for a target triple.
func LibraryName(triple string) string {
	switch {
	case isWindows(triple):
		return "flutter_engine.dll"
	case strings.Contains(triple, "-apple-"):
		return "libflutter_engine.dylib"
	default:
		return "libflutter_engine.so"
	}
}

func isWindows(triple string) bool {
	return strings.Contains(triple, "-windows")
}
