package packager

import (
	"context"
	"fmt"
	"slices"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/packager/android"
	"github.com/oshokin/cargo-flutter/internal/packager/appimage"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
)

// Packager turns a model into one installable artifact.
type Packager interface {
	// Build packages the model. sign is advisory for formats that cannot sign,
	// which report it through the artifact's Signature.
	Build(ctx context.Context, pctx *packaging.Context, model *packaging.Model, sign bool) (*packaging.Artifact, error)
}

// Format is a registered packaging format name.
type Format string

// Registered formats.
const (
	FormatAppImage Format = appimage.FormatName
	FormatApk      Format = android.FormatName
)

// Formats lists the registered formats.
func Formats() []Format {
	return []Format{FormatAppImage, FormatApk}
}

// Deps are the collaborators packagers are built from.
type Deps struct {
	// Project supplies the per-format metadata.
	Project *config.Project
	// Runner executes the packaging tools.
	Runner toolchain.Runner
	// Env is passed to the packaging tools.
	Env config.Environment
}

// Select returns the packager registered under format.
func Select(format string, deps Deps) (Packager, error) {
	if !IsSupported(format) {
		return nil, fmt.Errorf("%w: %q (supported: %v)", packaging.ErrFormatNotSupported, format, Formats())
	}

	if deps.Project == nil {
		return nil, packaging.ConfigErrorf("packaging needs a project manifest")
	}

	switch Format(format) {
	case FormatAppImage:
		return appimage.New(deps.Project.AppImage(), deps.Runner, deps.Env), nil
	case FormatApk:
		return android.New(deps.Project.Android(), deps.Runner, deps.Env), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %v)", packaging.ErrFormatNotSupported, format, Formats())
	}
}

// IsSupported reports whether format is registered.
func IsSupported(format string) bool {
	return slices.Contains(Formats(), Format(format))
}

// Package selects the packager, builds the artifact and writes its release manifest.
func Package(
	ctx context.Context,
	format string,
	deps Deps,
	pctx *packaging.Context,
	model *packaging.Model,
	sign bool,
) (*packaging.Artifact, error) {
	ctx = logger.WithName(ctx, "packager")

	p, err := Select(format, deps)
	if err != nil {
		return nil, err
	}

	artifact, err := p.Build(ctx, pctx, model, sign)
	if err != nil {
		return nil, err
	}

	manifestPath, err := WriteManifest(artifact, pctx, model)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Package ready",
		"format", artifact.Format,
		"path", artifact.Path,
		"signature", artifact.Signature,
		"manifest", manifestPath,
	)

	return artifact, nil
}
