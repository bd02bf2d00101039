package flutter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
)

const (
	// RootEnv overrides the flutter SDK location.
	RootEnv = "FLUTTER_ROOT"
	// AssetDirname is the bundle directory under the build directory.
	AssetDirname = "flutter_assets"
	// SnapshotFilename is the AOT snapshot under the build directory.
	SnapshotFilename = "app.so"
	// AssetDirEnv tells a flutter-rs application where its assets are.
	AssetDirEnv = "FLUTTER_ASSET_DIR"
	// SnapshotEnv tells a flutter-rs application where its AOT snapshot is.
	SnapshotEnv = "FLUTTER_AOT_SNAPSHOT"

	kernelFilename = "kernel_snapshot.dill"
)

var errFlutterNotFound = errors.New("flutter not found: set FLUTTER_ROOT or add flutter to PATH")

// Flutter runs the flutter SDK tools.
type Flutter struct {
	runner toolchain.Runner
	env    config.Environment
	root   string
}

// New locates the flutter SDK through FLUTTER_ROOT or the PATH of env.
func New(runner toolchain.Runner, env config.Environment) (*Flutter, error) {
	root, err := findRoot(env)
	if err != nil {
		return nil, err
	}

	return &Flutter{
		runner: runner,
		env:    env,
		root:   root,
	}, nil
}

// Root returns the flutter SDK directory.
func (f *Flutter) Root() string {
	return f.root
}

func (f *Flutter) executable() string {
	name := "flutter"
	if runtime.GOOS == "windows" {
		name += ".bat"
	}

	return filepath.Join(f.root, "bin", name)
}

// AssetDir is where Bundle writes the assets of a build.
func AssetDir(buildDir string) string {
	return filepath.Join(buildDir, AssetDirname)
}

// SnapshotPath is where Aot writes the snapshot of a build. The path is
// reserved before the snapshot exists.
func SnapshotPath(buildDir string) string {
	return filepath.Join(buildDir, SnapshotFilename)
}

// Bundle builds the asset bundle of the project into the build directory.
func (f *Flutter) Bundle(ctx context.Context, projectDir, buildDir string, profile packaging.Profile) (string, error) {
	ctx = logger.WithName(ctx, "flutter")
	assetDir := AssetDir(buildDir)

	logger.InfoKV(ctx, "Building flutter bundle", "asset_dir", assetDir)

	err := f.run(ctx, f.executable(), projectDir,
		"build", "bundle",
		"--"+profile.String(),
		"--asset-dir", assetDir,
		"--depfile", filepath.Join(buildDir, "snapshot_blob.bin.d"),
	)
	if err != nil {
		return "", err
	}

	return assetDir, nil
}

// Aot compiles lib/main.dart to a kernel with the frontend server and then
// to an ELF snapshot with the engine's gen_snapshot.
func (f *Flutter) Aot(ctx context.Context, projectDir, buildDir, genSnapshot string) (string, error) {
	ctx = logger.WithName(ctx, "flutter")

	kernel := filepath.Join(buildDir, kernelFilename)
	snapshot := SnapshotPath(buildDir)
	engineArtifacts := filepath.Join(f.root, "bin", "cache", "artifacts", "engine")

	logger.InfoKV(ctx, "Compiling kernel", "output", kernel)

	err := f.run(ctx, f.dart(), projectDir,
		filepath.Join(engineArtifacts, hostPlatform(), "frontend_server.dart.snapshot"),
		"--sdk-root", filepath.Join(engineArtifacts, "common", "flutter_patched_sdk_product")+string(filepath.Separator),
		"--target=flutter",
		"--aot",
		"--tfa",
		"-Ddart.vm.product=true",
		"--packages", filepath.Join(".dart_tool", "package_config.json"),
		"--output-dill", kernel,
		filepath.Join("lib", "main.dart"),
	)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Generating AOT snapshot", "gen_snapshot", genSnapshot, "output", snapshot)

	err = f.run(ctx, genSnapshot, projectDir,
		"--deterministic",
		"--snapshot_kind=app-aot-elf",
		"--elf="+snapshot,
		"--strip",
		kernel,
	)
	if err != nil {
		return "", err
	}

	return snapshot, nil
}

// Attach connects the flutter tool to a running application.
func (f *Flutter) Attach(ctx context.Context, projectDir, debugURI string) error {
	ctx = logger.WithName(ctx, "flutter")

	logger.InfoKV(ctx, "Attaching flutter", "debug_uri", debugURI)

	// The session lasts as long as the application, not a build stage.
	return f.runner.Run(ctx, toolchain.Command{
		Name:      f.executable(),
		Args:      []string{"attach", "--device-id=flutter-tester", "--debug-uri=" + debugURI},
		Dir:       projectDir,
		Env:       f.env.Pairs(),
		Stdin:     os.Stdin,
		Unbounded: true,
	})
}

func (f *Flutter) dart() string {
	name := "dart"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	return filepath.Join(f.root, "bin", "cache", "dart-sdk", "bin", name)
}

func (f *Flutter) run(ctx context.Context, name, dir string, args ...string) error {
	return f.runner.Run(ctx, toolchain.Command{
		Name: name,
		Args: args,
		Dir:  dir,
		Env:  f.env.Pairs(),
	})
}

// findRoot resolves the SDK from FLUTTER_ROOT or from the flutter executable on PATH.
func findRoot(env config.Environment) (string, error) {
	if root := env.Get(RootEnv); root != "" {
		return root, nil
	}

	for _, dir := range filepath.SplitList(env.Get("PATH")) {
		if dir == "" {
			continue
		}

		for _, name := range []string{"flutter", "flutter.bat"} {
			candidate := filepath.Join(dir, name)

			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}

			resolved, err := filepath.EvalSymlinks(candidate)
			if err != nil {
				return "", fmt.Errorf("resolve %s: %w", candidate, err)
			}

			// <root>/bin/flutter
			return filepath.Dir(filepath.Dir(resolved)), nil
		}
	}

	return "", errFlutterNotFound
}

// hostPlatform names the engine artifacts directory for the machine running the build.
func hostPlatform() string {
	arch := "x64"
	if runtime.GOARCH == "arm64" {
		arch = "arm64"
	}

	return runtime.GOOS + "-" + arch
}
