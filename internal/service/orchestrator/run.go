package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/engine"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/packager"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
	"github.com/oshokin/cargo-flutter/internal/toolchain/cargo"
	"github.com/oshokin/cargo-flutter/internal/toolchain/flutter"
)

var errUnknownLogLevel = errors.New("unknown log level")

// Run executes one cargo flutter invocation with the real toolchain.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "orchestrator")

	p, err := newPipeline(ctx, opts)
	if err != nil {
		return err
	}

	res, err := p.Execute(ctx, opts)
	if err != nil {
		return err
	}

	if res.Artifact != nil {
		logger.InfoKV(ctx, "Done", "artifact", res.Artifact.Path, "signature", res.Artifact.Signature)
	} else {
		logger.InfoKV(ctx, "Done", "state", res.Last())
	}

	return nil
}

// newPipeline loads settings, the project and its environment, and wires the collaborators.
func newPipeline(ctx context.Context, opts *Options) (*pipeline, error) {
	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return nil, err
	}

	if err = applyLogLevel(opts.LogLevel, settings.LogLevel); err != nil {
		return nil, err
	}

	if opts.WorkDir == "" {
		if opts.WorkDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
	}

	args := cargo.ParseArgs(opts.CargoArgs)

	project, err := loadProject(opts.WorkDir, args.ManifestPath)
	if err != nil {
		return nil, err
	}

	envDir := opts.WorkDir
	if project != nil {
		envDir = project.Dir
	}

	env, err := config.LoadEnvironment(envDir)
	if err != nil {
		return nil, err
	}

	runner := toolchain.NewExecRunner(toolchain.WithTimeout(settings.StageTimeout))
	fetcher := engine.NewHTTPFetcher(&http.Client{}, settings.EngineURL, settings.LatestVersionURL)

	resolverOpts := []engine.ResolverOption{engine.WithEnv(env.Get)}
	if settings.LatestVersion != "" {
		resolverOpts = append(resolverOpts, engine.WithLatestVersion(settings.LatestVersion))
	}

	p := &pipeline{
		project:      project,
		env:          env,
		resolver:     engine.NewResolver(engine.NewStore(settings.CacheDir), fetcher, resolverOpts...),
		native:       cargo.New(runner, env),
		launcher:     newExecLauncher(),
		runner:       runner,
		pack:         packager.Package,
		probe:        flutter.ProbeVMService,
		stageTimeout: settings.StageTimeout,
	}

	if project != nil && opts.needsFlutter(args) {
		sdk, err := flutter.New(runner, env)
		if err != nil {
			return nil, err
		}

		logger.DebugKV(ctx, "Flutter SDK", "root", sdk.Root())

		p.flutter = sdk
	}

	return p, nil
}

// loadProject finds and parses the project manifest. A missing or
// non-flutter manifest yields a nil project.
func loadProject(workDir, manifestPath string) (*config.Project, error) {
	var err error

	switch {
	case manifestPath == "":
		if manifestPath, err = config.FindManifest(workDir); err != nil {
			return nil, nilIfNotFound(err)
		}
	case !filepath.IsAbs(manifestPath):
		manifestPath = filepath.Join(workDir, manifestPath)
	}

	project, err := config.LoadProject(manifestPath)
	if err != nil {
		return nil, nilIfNotFound(err)
	}

	return project, nil
}

// applyLogLevel sets the global level from the first non-empty value.
func applyLogLevel(levels ...string) error {
	for _, level := range levels {
		if level == "" {
			continue
		}

		parsed, ok := logger.ParseLogLevel(level)
		if !ok {
			return fmt.Errorf("%w: %q", errUnknownLogLevel, level)
		}

		logger.SetLevel(parsed)

		return nil
	}

	return nil
}

func nilIfNotFound(err error) error {
	if errors.Is(err, config.ErrProjectNotFound) {
		return nil
	}

	return err
}
