package appimage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
)

// FormatName is the registry name of the AppImage packager.
const FormatName = "appimage"

// Packager builds AppImages.
type Packager struct {
	meta   config.AppImageMetadata
	runner toolchain.Runner
	env    config.Environment
}

// New creates an AppImage packager.
func New(meta config.AppImageMetadata, runner toolchain.Runner, env config.Environment) *Packager {
	return &Packager{
		meta:   meta,
		runner: runner,
		env:    env,
	}
}

// Build lays out <build>/appimage/<name>.AppDir and runs appimagetool on it,
// producing <build>/<name>-<arch>.AppImage.
func (p *Packager) Build(
	ctx context.Context,
	pctx *packaging.Context,
	model *packaging.Model,
	sign bool,
) (*packaging.Artifact, error) {
	ctx = logger.WithName(ctx, "appimage")

	bin := model.Bin()
	if bin.IsZero() {
		return nil, packaging.ConfigErrorf("no binary to package")
	}

	if p.meta.Tool == "" {
		return nil, packaging.ConfigErrorf("appimage tool is not configured")
	}

	entry := newDesktopEntry(&p.meta, model.Name(), bin.Name())
	if err := entry.validate(); err != nil {
		return nil, err
	}

	dir := &appDir{
		root: filepath.Join(pctx.BuildDir, "appimage", model.Name()+".AppDir"),
		name: model.Name(),
	}

	if err := dir.populate(model); err != nil {
		return nil, err
	}

	if err := dir.writeIcon(p.meta.Icon); err != nil {
		return nil, err
	}

	if err := dir.writeDesktopEntry(entry); err != nil {
		return nil, fmt.Errorf("write desktop entry: %w", err)
	}

	if err := dir.writeAppRun(model); err != nil {
		return nil, fmt.Errorf("write AppRun: %w", err)
	}

	arch := Arch(pctx.Triple)
	output := filepath.Join(pctx.BuildDir, model.Name()+"-"+arch+".AppImage")

	signature := packaging.SignatureNotRequested

	var args []string

	switch {
	case sign && p.meta.SignKey != "":
		args = append(args, "--sign", "--sign-key", p.meta.SignKey)
		signature = packaging.SignatureSigned
	case sign:
		logger.WarnKV(ctx, "Signing requested but no sign_key configured, AppImage left unsigned",
			"output", output)

		signature = packaging.SignatureUnsupported
	}

	args = append(args, dir.root, output)

	logger.InfoKV(ctx, "Packaging AppImage", "appdir", dir.root, "output", output)

	cmd := toolchain.Command{
		Name: p.meta.Tool,
		Args: args,
		Dir:  pctx.BuildDir,
		Env:  p.env.With("ARCH", arch).Pairs(),
	}

	if _, err := p.runner.Output(ctx, cmd); err != nil {
		return nil, fmt.Errorf("%w: %w", packaging.ErrPackagingToolFailed, err)
	}

	return &packaging.Artifact{
		Format:    FormatName,
		Path:      output,
		Signature: signature,
	}, nil
}

// Arch maps a target triple to the architecture name appimagetool expects.
func Arch(triple string) string {
	cpu, _, _ := strings.Cut(triple, "-")

	switch {
	case cpu == "i586", cpu == "i686":
		return "i686"
	case strings.HasPrefix(cpu, "armv7"), strings.HasPrefix(cpu, "thumbv7"):
		return "armhf"
	default:
		return cpu
	}
}
