package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/engine"
	"github.com/oshokin/cargo-flutter/internal/packager"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
	"github.com/oshokin/cargo-flutter/internal/toolchain/cargo"
	"github.com/oshokin/cargo-flutter/internal/toolchain/flutter"
	"github.com/oshokin/cargo-flutter/internal/toolchain/toolchaintest"
)

const (
	linuxTriple = "x86_64-unknown-linux-gnu"
	serviceURI  = "http://127.0.0.1:43567/Kf1zQ1b2Ud8=/"
)

var errBoom = errors.New("boom")

func writeFile(t *testing.T, path, contents string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}

type fakeResolver struct {
	dir      string
	err      error
	requests []engine.Request
}

func (r *fakeResolver) Resolve(_ context.Context, req engine.Request) (*engine.Descriptor, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}

	version := req.Version
	if version == "" {
		version = engine.LatestKnownVersion
	}

	path := filepath.Join(r.dir, version, engine.LibraryName(req.Triple))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, []byte("engine"), 0o600); err != nil {
		return nil, err
	}

	return &engine.Descriptor{Version: version, Triple: req.Triple, Profile: req.Profile, Path: path}, nil
}

type fakeNative struct {
	targetDir  string
	bin        string
	err        error
	block      bool
	enginePath string
	built      int
}

func (n *fakeNative) NewPlan(_ context.Context, args *cargo.Args, workDir string) (*cargo.Plan, error) {
	triple := args.Triple
	if triple == "" {
		triple = linuxTriple
	}

	return &cargo.Plan{
		Args:      args,
		WorkDir:   workDir,
		Triple:    triple,
		Profile:   args.Profile,
		TargetDir: n.targetDir,
	}, nil
}

func (n *fakeNative) Build(ctx context.Context, plan *cargo.Plan, enginePath string) error {
	n.built++
	n.enginePath = enginePath

	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}

	if n.err != nil {
		return n.err
	}

	if n.bin == "" {
		return nil
	}

	return os.WriteFile(filepath.Join(plan.BuildDir(), n.bin), []byte("binary"), 0o600)
}

type fakeFlutter struct {
	bundleErr error
	aotErr    error
	attachErr error
	calls     []string
	attached  string
}

func (f *fakeFlutter) Bundle(_ context.Context, _, buildDir string, _ packaging.Profile) (string, error) {
	f.calls = append(f.calls, "bundle")
	if f.bundleErr != nil {
		return "", f.bundleErr
	}

	dir := flutter.AssetDir(buildDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	return dir, os.WriteFile(filepath.Join(dir, "kernel_blob.bin"), []byte("kernel"), 0o600)
}

func (f *fakeFlutter) Aot(_ context.Context, _, buildDir, _ string) (string, error) {
	f.calls = append(f.calls, "aot")
	if f.aotErr != nil {
		return "", f.aotErr
	}

	path := flutter.SnapshotPath(buildDir)

	return path, os.WriteFile(path, []byte("snapshot"), 0o600)
}

func (f *fakeFlutter) Attach(_ context.Context, _, debugURI string) error {
	f.calls = append(f.calls, "attach")
	f.attached = debugURI

	return f.attachErr
}

type fakeProcess struct {
	uri chan string
	ctx context.Context //nolint:containedctx // The fake mirrors a process bound to its start context.
}

func (p *fakeProcess) ServiceURI() <-chan string {
	return p.uri
}

func (p *fakeProcess) Wait() error {
	return p.ctx.Err()
}

type fakeLauncher struct {
	mu       sync.Mutex
	uri      string
	startErr error
	launches []*Launch
	process  *fakeProcess
}

func (l *fakeLauncher) Start(ctx context.Context, launch *Launch) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches = append(l.launches, launch)
	if l.startErr != nil {
		return nil, l.startErr
	}

	uri := make(chan string, 1)
	if l.uri != "" {
		uri <- l.uri
	}

	close(uri)

	l.process = &fakeProcess{uri: uri, ctx: ctx}

	return l.process, nil
}

type fixture struct {
	project  *config.Project
	resolver *fakeResolver
	native   *fakeNative
	flutter  *fakeFlutter
	launcher *fakeLauncher
	recorder *toolchaintest.Recorder
	probes   []string
	p        *pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	projectDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(targetDir, linuxTriple, "debug"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(targetDir, linuxTriple, "release"), 0o755))

	f := &fixture{
		project: &config.Project{
			Dir: projectDir,
			Package: config.PackageSection{
				Name:    "hello",
				Version: "0.1.0",
				Metadata: config.Metadata{
					Flutter:  &config.FlutterMetadata{EngineVersion: "f0826da"},
					Android:  config.DefaultAndroidMetadata(),
					AppImage: config.DefaultAppImageMetadata(),
				},
			},
		},
		resolver: &fakeResolver{dir: t.TempDir()},
		native:   &fakeNative{targetDir: targetDir, bin: "hello"},
		flutter:  &fakeFlutter{},
		launcher: &fakeLauncher{uri: serviceURI},
		recorder: toolchaintest.NewRecorder(),
	}

	f.recorder.Handle("appimagetool", func(cmd toolchain.Command) ([]byte, error) {
		output := cmd.Args[len(cmd.Args)-1]
		return nil, os.WriteFile(output, []byte("appimage"), 0o600)
	})

	f.p = &pipeline{
		project:  f.project,
		env:      config.Environment{"PATH": "/usr/bin"},
		resolver: f.resolver,
		native:   f.native,
		flutter:  f.flutter,
		launcher: f.launcher,
		runner:   f.recorder,
		pack:     packager.Package,
		probe: func(_ context.Context, uri string) (*flutter.ServiceVersion, error) {
			f.probes = append(f.probes, uri)
			return &flutter.ServiceVersion{Major: 3, Minor: 61}, nil
		},
	}

	return f
}

// TestExecute_BuildOnlyWithoutProject verifies that a missing project runs the native build and stops.
func TestExecute_BuildOnlyWithoutProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.p.project = nil
	f.p.flutter = nil

	res, err := f.p.Execute(context.Background(), &Options{
		CargoArgs: []string{"build", "--release"},
		Format:    "appimage",
	})
	require.NoError(t, err)
	require.Equal(t, []State{StateInit, StateEngineResolved, StateNativeBuilt}, res.States)
	require.Equal(t, 1, f.native.built)
	require.Equal(t, res.Engine.Path, f.native.enginePath)
	require.Empty(t, f.recorder.Commands())
	require.Nil(t, res.Artifact)

	// Without a project the engine version comes from the resolver's own sources.
	require.Equal(t, []engine.Request{{Triple: linuxTriple, Profile: packaging.Release}}, f.resolver.requests)
}

// TestExecute_ReleasePackage verifies the whole build pipeline down to a packaged AppImage.
func TestExecute_ReleasePackage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.p.Execute(context.Background(), &Options{
		CargoArgs: []string{"build", "--release"},
		Format:    "appimage",
	})
	require.NoError(t, err)
	require.Equal(t, []State{
		StateInit,
		StateEngineResolved,
		StateNativeBuilt,
		StateBundleBuilt,
		StateAotBuilt,
		StatePackaged,
	}, res.States)
	require.Equal(t, StatePackaged, res.Last())
	require.Equal(t, []string{"bundle", "aot"}, f.flutter.calls)
	require.Equal(t, "f0826da", f.resolver.requests[0].Version)

	buildDir := res.Plan.BuildDir()
	require.Equal(t, filepath.Join(buildDir, "hello"), res.Model.Bin().Path)
	require.Equal(t, []string{res.Engine.Path, flutter.SnapshotPath(buildDir)}, res.Model.LibPaths())

	require.Equal(t, "appimage", res.Artifact.Format)
	require.Equal(t, filepath.Join(buildDir, "hello-x86_64.AppImage"), res.Artifact.Path)
	require.FileExists(t, res.Artifact.Path)
	require.FileExists(t, res.Artifact.Path+packager.ManifestSuffix)

	// Release builds sign by default, and no key is configured.
	require.Equal(t, packaging.SignatureUnsupported, res.Artifact.Signature)

	manifest, err := packager.ReadManifest(res.Artifact.Path + packager.ManifestSuffix)
	require.NoError(t, err)
	require.Equal(t, "f0826da", manifest.EngineVersion)
	require.Equal(t, "0.1.0", manifest.Version)
}

// TestExecute_DebugBuildWithoutFormat verifies that debug builds skip AOT and packaging.
func TestExecute_DebugBuildWithoutFormat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"build"}})
	require.NoError(t, err)
	require.Equal(t, StateBundleBuilt, res.Last())
	require.Equal(t, []string{"bundle"}, f.flutter.calls)
	require.Nil(t, res.Model)
	require.Empty(t, f.recorder.Commands())
}

// TestExecute_SkipFlags verifies that the skip flags disable their steps.
func TestExecute_SkipFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  Options
		calls []string
	}{
		{
			name:  "no flutter",
			opts:  Options{NoFlutter: true},
			calls: nil,
		},
		{
			name:  "no bundle",
			opts:  Options{NoBundle: true},
			calls: []string{"aot"},
		},
		{
			name:  "no aot",
			opts:  Options{NoAot: true},
			calls: []string{"bundle"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			opts := tt.opts
			opts.CargoArgs = []string{"build", "--release"}

			_, err := f.p.Execute(context.Background(), &opts)
			require.NoError(t, err)
			require.Equal(t, tt.calls, f.flutter.calls)
		})
	}
}

// TestExecute_UnknownSubcommand verifies that other cargo subcommands only run natively.
func TestExecute_UnknownSubcommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"test", "--release"}})
	require.NoError(t, err)
	require.Equal(t, StateNativeBuilt, res.Last())
	require.Empty(t, f.flutter.calls)
	require.Empty(t, f.launcher.launches)
}

// TestExecute_UnsupportedFormat verifies that an unknown format fails before anything is built.
func TestExecute_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.p.Execute(context.Background(), &Options{
		CargoArgs: []string{"build"},
		Format:    "msi",
	})
	require.ErrorIs(t, err, packaging.ErrFormatNotSupported)
	require.Equal(t, []State{StateInit}, res.States)
	require.Zero(t, f.native.built)
	require.Empty(t, f.resolver.requests)
}

func failPackaging(f *fixture) {
	f.recorder.Handle("appimagetool", func(toolchain.Command) ([]byte, error) {
		return nil, errBoom
	})
}

// TestExecute_StageFailures verifies that every failing stage reports its kind and cause.
func TestExecute_StageFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  error
		last  State
	}{
		{
			name:  "engine",
			setup: func(f *fixture) { f.resolver.err = errBoom },
			last:  StateInit,
		},
		{
			name:  "native build",
			setup: func(f *fixture) { f.native.err = errBoom },
			kind:  packaging.ErrNativeBuildFailed,
			last:  StateEngineResolved,
		},
		{
			name:  "bundle",
			setup: func(f *fixture) { f.flutter.bundleErr = errBoom },
			kind:  packaging.ErrBundleBuildFailed,
			last:  StateNativeBuilt,
		},
		{
			name:  "aot",
			setup: func(f *fixture) { f.flutter.aotErr = errBoom },
			kind:  packaging.ErrAotBuildFailed,
			last:  StateBundleBuilt,
		},
		{
			name:  "package",
			setup: failPackaging,
			kind:  packaging.ErrPackagingToolFailed,
			last:  StateAotBuilt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(f)

			res, err := f.p.Execute(context.Background(), &Options{
				CargoArgs: []string{"build", "--release"},
				Format:    "appimage",
			})
			require.ErrorIs(t, err, errBoom)
			require.Equal(t, tt.last, res.Last())

			if tt.kind != nil {
				require.ErrorIs(t, err, tt.kind)
			}
		})
	}
}

// TestExecute_StageError verifies that tool stages are reported as StageError values.
func TestExecute_StageError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.flutter.aotErr = errBoom

	_, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"build", "--release"}})

	var stageErr *packaging.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, "aot", stageErr.Stage)
	require.Equal(t, packaging.ErrAotBuildFailed, stageErr.Kind)
}

// TestExecute_StageTimeout verifies that a stuck stage is cut off by the stage timeout.
func TestExecute_StageTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.native.block = true
	f.p.stageTimeout = 20 * time.Millisecond

	_, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"build"}})
	require.ErrorIs(t, err, packaging.ErrNativeBuildFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestExecute_RunAttaches verifies that run launches the app with explicit
// locations and attaches flutter to the announced VM service.
func TestExecute_RunAttaches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.p.Execute(context.Background(), &Options{
		CargoArgs: []string{"run", "--", "--verbose"},
	})
	require.NoError(t, err)
	require.Equal(t, StateRunning, res.Last())
	require.Equal(t, []string{"bundle", "attach"}, f.flutter.calls)
	require.Equal(t, serviceURI, f.flutter.attached)
	require.Equal(t, []string{serviceURI}, f.probes)

	require.Len(t, f.launcher.launches, 1)

	launch := f.launcher.launches[0]
	buildDir := res.Plan.BuildDir()
	require.Equal(t, filepath.Join(buildDir, "hello"), launch.Path)
	require.Equal(t, []string{"--verbose"}, launch.Args)
	require.Equal(t, flutter.AssetDir(buildDir), launch.Env.Get(flutter.AssetDirEnv))
	require.Equal(t, flutter.SnapshotPath(buildDir), launch.Env.Get(flutter.SnapshotEnv))
	require.Equal(t, "/usr/bin", launch.Env.Get("PATH"))
}

// TestExecute_RunWithoutAttach verifies that --no-attach leaves the app running alone.
func TestExecute_RunWithoutAttach(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.p.Execute(context.Background(), &Options{
		CargoArgs: []string{"run"},
		NoAttach:  true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bundle"}, f.flutter.calls)
	require.Empty(t, f.probes)
}

// TestExecute_RunFailures covers a probe that fails, a failed attach and a failed launch.
func TestExecute_RunFailures(t *testing.T) {
	t.Parallel()

	t.Run("probe failure is tolerated", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.p.probe = func(context.Context, string) (*flutter.ServiceVersion, error) {
			return nil, errBoom
		}

		_, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"run"}})
		require.NoError(t, err)
		require.Equal(t, serviceURI, f.flutter.attached)
	})

	t.Run("attach failure stops the app", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.flutter.attachErr = errBoom

		_, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"run"}})
		require.ErrorIs(t, err, errBoom)
		require.ErrorIs(t, f.launcher.process.Wait(), context.Canceled)
	})

	t.Run("launch failure", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.launcher.startErr = errBoom

		_, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"run"}})
		require.ErrorIs(t, err, errBoom)
	})

	t.Run("no service announcement", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.launcher.uri = ""

		_, err := f.p.Execute(context.Background(), &Options{CargoArgs: []string{"run"}})
		require.NoError(t, err)
		require.Equal(t, []string{"bundle"}, f.flutter.calls)
	})
}

// TestBinaryName verifies the --bin override and the windows suffix.
func TestBinaryName(t *testing.T) {
	t.Parallel()

	project := &config.Project{Package: config.PackageSection{Name: "hello"}}

	plan := &cargo.Plan{Args: &cargo.Args{}, Triple: linuxTriple}
	require.Equal(t, "hello", binaryName(project, plan))

	plan = &cargo.Plan{Args: &cargo.Args{Bin: "demo"}, Triple: "x86_64-pc-windows-msvc"}
	require.Equal(t, "demo.exe", binaryName(project, plan))
}
