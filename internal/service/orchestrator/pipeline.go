package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/engine"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/packager"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
	"github.com/oshokin/cargo-flutter/internal/toolchain/cargo"
	"github.com/oshokin/cargo-flutter/internal/toolchain/flutter"
)

// EngineResolver resolves and caches engine builds.
type EngineResolver interface {
	Resolve(ctx context.Context, req engine.Request) (*engine.Descriptor, error)
}

// NativeBuilder plans and runs the cargo build.
type NativeBuilder interface {
	NewPlan(ctx context.Context, args *cargo.Args, workDir string) (*cargo.Plan, error)
	Build(ctx context.Context, plan *cargo.Plan, enginePath string) error
}

// Flutter runs the flutter SDK steps.
type Flutter interface {
	Bundle(ctx context.Context, projectDir, buildDir string, profile packaging.Profile) (string, error)
	Aot(ctx context.Context, projectDir, buildDir, genSnapshot string) (string, error)
	Attach(ctx context.Context, projectDir, debugURI string) error
}

// PackageFunc builds and records a package.
type PackageFunc func(
	ctx context.Context,
	format string,
	deps packager.Deps,
	pctx *packaging.Context,
	model *packaging.Model,
	sign bool,
) (*packaging.Artifact, error)

// ProbeFunc checks that a VM service answers.
type ProbeFunc func(ctx context.Context, serviceURI string) (*flutter.ServiceVersion, error)

var errFlutterUnavailable = errors.New("flutter sdk is required for this step")

// Result reports what a pipeline run did.
type Result struct {
	// States lists the states reached, in order.
	States []State
	// Plan is the native build plan.
	Plan *cargo.Plan
	// Engine is the resolved engine.
	Engine *engine.Descriptor
	// Model is the package model handed to the packager, if any.
	Model *packaging.Model
	// Artifact is the produced package, if any.
	Artifact *packaging.Artifact
}

func (r *Result) enter(ctx context.Context, state State) {
	r.States = append(r.States, state)
	logger.DebugKV(ctx, "Pipeline state", "state", state)
}

// Last returns the most recent state.
func (r *Result) Last() State {
	if len(r.States) == 0 {
		return ""
	}

	return r.States[len(r.States)-1]
}

// pipeline holds the collaborators of one invocation.
// It is unexported: callers use Run, which wires the real collaborators.
type pipeline struct {
	// project is nil in build-only mode.
	project *config.Project
	env      config.Environment
	resolver EngineResolver
	native   NativeBuilder
	// flutter is nil when no enabled step needs the SDK.
	flutter      Flutter
	launcher     Launcher
	runner       toolchain.Runner
	pack         PackageFunc
	probe        ProbeFunc
	stageTimeout time.Duration
}

// Execute runs the pipeline for opts.
func (p *pipeline) Execute(ctx context.Context, opts *Options) (*Result, error) {
	args := cargo.ParseArgs(opts.CargoArgs)
	res := &Result{}
	res.enter(ctx, StateInit)

	if p.project != nil && args.Subcommand == cargo.SubcommandBuild && opts.Format != "" &&
		!packager.IsSupported(opts.Format) {
		return res, fmt.Errorf("%w: %q", packaging.ErrFormatNotSupported, opts.Format)
	}

	err := p.stage(ctx, "plan", packaging.ErrNativeBuildFailed, func(ctx context.Context) error {
		var err error

		res.Plan, err = p.native.NewPlan(ctx, args, opts.WorkDir)

		return err
	})
	if err != nil {
		return res, err
	}

	plan := res.Plan

	err = p.stage(ctx, "engine", nil, func(ctx context.Context) error {
		var err error

		res.Engine, err = p.resolver.Resolve(ctx, engine.Request{
			Version: p.project.EngineVersion(),
			Triple:  plan.Triple,
			Profile: plan.Profile,
		})

		return err
	})
	if err != nil {
		return res, err
	}

	res.enter(ctx, StateEngineResolved)

	buildDir := plan.BuildDir()
	assetDir := flutter.AssetDir(buildDir)
	snapshot := flutter.SnapshotPath(buildDir)

	logger.DebugKV(ctx, "Build layout",
		"engine_version", res.Engine.Version,
		"engine_path", res.Engine.Path,
		"asset_dir", assetDir,
	)

	err = p.stage(ctx, "native build", packaging.ErrNativeBuildFailed, func(ctx context.Context) error {
		return p.native.Build(ctx, plan, res.Engine.Path)
	})
	if err != nil {
		return res, err
	}

	res.enter(ctx, StateNativeBuilt)

	if p.project == nil {
		logger.Info(ctx, "No flutter project configuration, native build only")
		return res, nil
	}

	if !args.IsPipeline() {
		return res, nil
	}

	if err = p.buildFlutter(ctx, opts, res, buildDir); err != nil {
		return res, err
	}

	switch args.Subcommand {
	case cargo.SubcommandBuild:
		if opts.Format == "" {
			return res, nil
		}

		return res, p.packageApp(ctx, opts, res, assetDir, snapshot)
	case cargo.SubcommandRun:
		res.enter(ctx, StateRunning)

		return res, p.runApp(ctx, opts, res, assetDir, snapshot)
	}

	return res, nil
}

// buildFlutter runs the bundle and AOT steps that opts enable.
func (p *pipeline) buildFlutter(ctx context.Context, opts *Options, res *Result, buildDir string) error {
	plan := res.Plan

	if opts.bundle() {
		err := p.stage(ctx, "bundle", packaging.ErrBundleBuildFailed, func(ctx context.Context) error {
			if p.flutter == nil {
				return errFlutterUnavailable
			}

			_, err := p.flutter.Bundle(ctx, p.project.Dir, buildDir, plan.Profile)

			return err
		})
		if err != nil {
			return err
		}

		res.enter(ctx, StateBundleBuilt)
	}

	if opts.aot(plan.Profile) {
		err := p.stage(ctx, "aot", packaging.ErrAotBuildFailed, func(ctx context.Context) error {
			if p.flutter == nil {
				return errFlutterUnavailable
			}

			_, err := p.flutter.Aot(ctx, p.project.Dir, buildDir, res.Engine.GenSnapshot())

			return err
		})
		if err != nil {
			return err
		}

		res.enter(ctx, StateAotBuilt)
	}

	return nil
}

// packageApp assembles the model and hands it to the requested packager.
func (p *pipeline) packageApp(ctx context.Context, opts *Options, res *Result, assetDir, snapshot string) error {
	plan := res.Plan

	builder := packaging.NewBuilder(p.project.Name()).
		AddBin(filepath.Join(plan.BuildDir(), binaryName(p.project, plan))).
		AddLib(res.Engine.Path)

	if plan.Profile.ExpectsAot() {
		builder.AddLib(snapshot)
	}

	res.Model = builder.AddAsset(assetDir).Build()

	pctx := &packaging.Context{
		BuildDir:      plan.BuildDir(),
		Triple:        plan.Triple,
		Profile:       plan.Profile,
		Version:       p.project.Version(),
		EngineVersion: res.Engine.Version,
	}

	deps := packager.Deps{
		Project: p.project,
		Runner:  p.runner,
		Env:     p.env,
	}

	sign := packaging.ShouldSign(plan.Profile, opts.Sign, opts.NoSign)

	err := p.stage(ctx, "package", nil, func(ctx context.Context) error {
		var err error

		res.Artifact, err = p.pack(ctx, opts.Format, deps, pctx, res.Model, sign)

		return err
	})
	if err != nil {
		return err
	}

	res.enter(ctx, StatePackaged)

	return nil
}

// runApp starts the application with explicit asset and snapshot locations,
// attaches flutter to its VM service and waits for it to exit.
func (p *pipeline) runApp(ctx context.Context, opts *Options, res *Result, assetDir, snapshot string) error {
	plan := res.Plan

	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	proc, err := p.launcher.Start(appCtx, &Launch{
		Path: filepath.Join(plan.BuildDir(), binaryName(p.project, plan)),
		Args: plan.Args.Trailing,
		Dir:  plan.WorkDir,
		Env: p.env.With(
			flutter.AssetDirEnv, assetDir,
			flutter.SnapshotEnv, snapshot,
		),
	})
	if err != nil {
		return err
	}

	uri, ok := <-proc.ServiceURI()
	if !ok {
		return proc.Wait()
	}

	logger.InfoKV(ctx, "Observatory listening", "debug_uri", uri)

	if !opts.attach() {
		return proc.Wait()
	}

	if p.flutter == nil {
		cancel()
		return errors.Join(errFlutterUnavailable, proc.Wait())
	}

	if version, probeErr := p.probe(ctx, uri); probeErr != nil {
		logger.WarnKV(ctx, "VM service probe failed", "debug_uri", uri, "error", probeErr)
	} else {
		logger.DebugKV(ctx, "VM service reachable", "protocol", version.String())
	}

	if err = p.flutter.Attach(ctx, p.project.Dir, uri); err != nil {
		cancel()
		_ = proc.Wait()

		return fmt.Errorf("attach: %w", err)
	}

	return proc.Wait()
}

// stage runs fn under the stage timeout and tags its failure with kind.
func (p *pipeline) stage(ctx context.Context, name string, kind error, fn func(ctx context.Context) error) error {
	ctx = logger.WithKV(ctx, "stage", name)

	if p.stageTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	logger.Debug(ctx, "Stage started")

	err := fn(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: stage exceeded %s", err, p.stageTimeout)
	}

	if kind == nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return packaging.NewStageError(name, kind, err)
}

// binaryName is the executable cargo produced for the project.
func binaryName(project *config.Project, plan *cargo.Plan) string {
	name := plan.Args.Bin
	if name == "" {
		name = project.Name()
	}

	if strings.Contains(plan.Triple, "-windows") {
		name += ".exe"
	}

	return name
}
