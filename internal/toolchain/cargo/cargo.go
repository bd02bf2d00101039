package cargo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
)

const (
	// EnginePathEnv tells the flutter-rs build script where the engine library is.
	EnginePathEnv = "FLUTTER_ENGINE_PATH"
	// executableEnv is set by cargo when it runs a subcommand.
	executableEnv = "CARGO"
	targetDirEnv  = "CARGO_TARGET_DIR"
)

var errHostTripleNotFound = errors.New("host triple not found in rustc output")

// Plan is a native build with every location resolved.
type Plan struct {
	Args *Args
	// WorkDir is where cargo runs.
	WorkDir string
	// Triple is the target triple, the host one when --target is absent.
	Triple  string
	Profile packaging.Profile
	// TargetDir is cargo's target directory.
	TargetDir string
}

// BuildDir is the directory cargo writes the binary to.
func (p *Plan) BuildDir() string {
	return filepath.Join(p.TargetDir, p.Triple, p.Profile.String())
}

// Cargo runs cargo and rustc.
type Cargo struct {
	runner toolchain.Runner
	env    config.Environment
}

// New creates a cargo driver. Commands see exactly env.
func New(runner toolchain.Runner, env config.Environment) *Cargo {
	return &Cargo{
		runner: runner,
		env:    env,
	}
}

func (c *Cargo) executable() string {
	if cargo := c.env.Get(executableEnv); cargo != "" {
		return cargo
	}

	return "cargo"
}

// HostTriple asks rustc for the host target triple.
func (c *Cargo) HostTriple(ctx context.Context) (string, error) {
	out, err := c.runner.Output(ctx, toolchain.Command{
		Name: "rustc",
		Args: []string{"-vV"},
		Env:  c.env.Pairs(),
	})
	if err != nil {
		return "", fmt.Errorf("query rustc: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if host, ok := strings.CutPrefix(scanner.Text(), "host: "); ok {
			return strings.TrimSpace(host), nil
		}
	}

	return "", errHostTripleNotFound
}

// LocateWorkspace returns the directory of the workspace root manifest.
func (c *Cargo) LocateWorkspace(ctx context.Context, workDir, manifestPath string) (string, error) {
	args := []string{"locate-project", "--workspace", "--message-format", "plain"}
	if manifestPath != "" {
		args = append(args, "--manifest-path", manifestPath)
	}

	out, err := c.runner.Output(ctx, toolchain.Command{
		Name: c.executable(),
		Args: args,
		Dir:  workDir,
		Env:  c.env.Pairs(),
	})
	if err != nil {
		return "", fmt.Errorf("locate workspace: %w", err)
	}

	return filepath.Dir(strings.TrimSpace(string(out))), nil
}

// NewPlan resolves the triple and target directory of a build.
func (c *Cargo) NewPlan(ctx context.Context, args *Args, workDir string) (*Plan, error) {
	plan := &Plan{
		Args:    args,
		WorkDir: workDir,
		Triple:  args.Triple,
		Profile: args.Profile,
	}

	if plan.Triple == "" {
		host, err := c.HostTriple(ctx)
		if err != nil {
			return nil, err
		}

		plan.Triple = host
	}

	targetDir := args.TargetDir
	if targetDir == "" {
		targetDir = c.env.Get(targetDirEnv)
	}

	if targetDir == "" {
		workspace, err := c.LocateWorkspace(ctx, workDir, args.ManifestPath)
		if err != nil {
			return nil, err
		}

		targetDir = filepath.Join(workspace, "target")
	}

	if !filepath.IsAbs(targetDir) {
		targetDir = filepath.Join(workDir, targetDir)
	}

	plan.TargetDir = targetDir

	return plan, nil
}

// Build runs the native build with the engine path on the child environment.
// Subcommands the pipeline does not drive are passed to cargo unchanged.
func (c *Cargo) Build(ctx context.Context, plan *Plan, enginePath string) error {
	ctx = logger.WithName(ctx, "cargo")

	cmd := toolchain.Command{
		Name: c.executable(),
		Args: c.buildArgs(plan),
		Dir:  plan.WorkDir,
		Env:  c.env.With(EnginePathEnv, enginePath).Pairs(),
	}

	logger.InfoKV(ctx, "Building native binary", "command", cmd.String())

	return c.runner.Run(ctx, cmd)
}

func (c *Cargo) buildArgs(plan *Plan) []string {
	if !plan.Args.IsPipeline() {
		argv := append([]string{plan.Args.Subcommand}, plan.Args.Flags...)
		if len(plan.Args.Trailing) > 0 {
			argv = append(append(argv, "--"), plan.Args.Trailing...)
		}

		return argv
	}

	argv := append([]string{SubcommandBuild}, plan.Args.Flags...)

	// The build directory is only predictable with an explicit target.
	if plan.Args.Triple == "" {
		argv = append(argv, "--target", plan.Triple)
	}

	return argv
}
