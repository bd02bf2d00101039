package android

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
)

// FormatName is the registry name of the android packager.
const FormatName = "apk"

const dirMode os.FileMode = 0o755

const (
	debugKeystore  = "debug.keystore"
	debugKeyDName  = "CN=Android Debug,O=Android,C=US"
	keyValidityDay = "10000"
)

// Packager builds APKs with the Android SDK build tools.
type Packager struct {
	meta   config.AndroidMetadata
	runner toolchain.Runner
	env    config.Environment
}

// New creates an android packager. env supplies the SDK location and HOME.
func New(meta config.AndroidMetadata, runner toolchain.Runner, env config.Environment) *Packager {
	return &Packager{
		meta:   meta,
		runner: runner,
		env:    env,
	}
}

// Build stages the libraries per ABI and produces <build>/apk/<name>.apk.
func (p *Packager) Build(
	ctx context.Context,
	pctx *packaging.Context,
	model *packaging.Model,
	sign bool,
) (*packaging.Artifact, error) {
	ctx = logger.WithName(ctx, "apk")

	if model.Bin().IsZero() {
		return nil, packaging.ConfigErrorf("no binary to package")
	}

	meta := p.meta

	assetRoot, ok := model.AssetRoot()
	if !ok {
		return nil, packaging.ConfigErrorf("android packages need an assets directory")
	}

	if !utf8.ValidString(assetRoot.Path) {
		return nil, fmt.Errorf("%w: %q", packaging.ErrNonRepresentablePath, assetRoot.Path)
	}

	meta.Assets = assetRoot.Path

	declared, err := declaredABIs(meta.BuildTargets, pctx.Triple)
	if err != nil {
		return nil, err
	}

	libs, err := MapLibraries(model, pctx.Triple, declared)
	if err != nil {
		return nil, err
	}

	tools, err := locateSDK(&meta, p.env)
	if err != nil {
		return nil, err
	}

	stageDir := filepath.Join(pctx.BuildDir, "apk", model.Name())
	if err = os.MkdirAll(stageDir, dirMode); err != nil {
		return nil, fmt.Errorf("create apk staging directory: %w", err)
	}

	mainLib := mainLibraryFilename(model.Name(), model.Bin())
	if err = writeManifest(filepath.Join(stageDir, manifestFilename), &meta,
		strings.TrimSuffix(strings.TrimPrefix(mainLib, "lib"), ".so")); err != nil {
		return nil, err
	}

	unaligned := filepath.Join(stageDir, model.Name()+"-unaligned.apk")
	output := filepath.Join(pctx.BuildDir, "apk", model.Name()+".apk")

	logger.InfoKV(ctx, "Packaging apk", "abis", declared, "output", output)

	if err = p.aaptPackage(ctx, tools, stageDir, unaligned, &meta); err != nil {
		return nil, err
	}

	for _, abi := range declared {
		for _, lib := range libs[BuildTarget{Name: model.Name(), ABI: abi}] {
			if err = p.addLibrary(ctx, tools, stageDir, unaligned, lib); err != nil {
				return nil, err
			}
		}
	}

	if err = p.run(ctx, tools.tool("zipalign"), "", "-f", "4", unaligned, output); err != nil {
		return nil, err
	}

	artifact := &packaging.Artifact{
		Format:    FormatName,
		Path:      output,
		Signature: packaging.SignatureNotRequested,
	}

	if !sign {
		return artifact, nil
	}

	if err = p.sign(ctx, tools, output, &meta); err != nil {
		return nil, err
	}

	artifact.Signature = packaging.SignatureSigned

	return artifact, nil
}

func (p *Packager) aaptPackage(ctx context.Context, tools *sdk, stageDir, unaligned string, meta *config.AndroidMetadata) error {
	args := []string{
		"package", "-f",
		"-F", unaligned,
		"-M", manifestFilename,
		"-I", tools.platform,
		"-A", meta.Assets,
	}

	if meta.Res != "" {
		args = append(args, "-S", meta.Res)
	}

	return p.run(ctx, tools.tool("aapt"), stageDir, args...)
}

// addLibrary copies a library to lib/<abi>/ and adds it to the unaligned apk.
func (p *Packager) addLibrary(ctx context.Context, tools *sdk, stageDir, unaligned string, lib SharedLibrary) error {
	rel := filepath.Join("lib", string(lib.ABI), lib.Filename)

	if err := copyFile(lib.Path, filepath.Join(stageDir, rel)); err != nil {
		return fmt.Errorf("stage %s: %w", lib.Path, err)
	}

	// aapt stores the argument verbatim as the zip entry name.
	return p.run(ctx, tools.tool("aapt"), stageDir, "add", unaligned, filepath.ToSlash(rel))
}

// sign signs the apk with the configured keystore or the debug keystore.
func (p *Packager) sign(ctx context.Context, tools *sdk, apk string, meta *config.AndroidMetadata) error {
	keystore := meta.Keystore
	if keystore == "" {
		debug, err := p.debugKeystore(ctx, meta)
		if err != nil {
			return err
		}

		keystore = debug
	}

	logger.InfoKV(ctx, "Signing apk", "keystore", keystore)

	return p.run(ctx, tools.tool("apksigner"), "",
		"sign",
		"--ks", keystore,
		"--ks-pass", "pass:"+meta.KeystorePassword,
		"--ks-key-alias", meta.KeyAlias,
		apk,
	)
}

// debugKeystore returns ~/.android/debug.keystore, generating it with keytool when missing.
func (p *Packager) debugKeystore(ctx context.Context, meta *config.AndroidMetadata) (string, error) {
	home := p.env.Get("HOME")
	if home == "" {
		return "", packaging.ConfigErrorf("no keystore configured and HOME is not set")
	}

	path := filepath.Join(home, ".android", debugKeystore)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return "", fmt.Errorf("create keystore directory: %w", err)
	}

	logger.InfoKV(ctx, "Generating debug keystore", "path", path)

	err := p.run(ctx, "keytool", "",
		"-genkey", "-v",
		"-keystore", path,
		"-storepass", meta.KeystorePassword,
		"-alias", meta.KeyAlias,
		"-keypass", meta.KeystorePassword,
		"-dname", debugKeyDName,
		"-keyalg", "RSA",
		"-keysize", "2048",
		"-validity", keyValidityDay,
	)
	if err != nil {
		return "", err
	}

	return path, nil
}

// run executes a packaging tool. Failures keep the tool error verbatim.
func (p *Packager) run(ctx context.Context, name, dir string, args ...string) error {
	cmd := toolchain.Command{
		Name: name,
		Args: args,
		Dir:  dir,
	}

	if len(p.env) > 0 {
		cmd.Env = p.env.Pairs()
	}

	if _, err := p.runner.Output(ctx, cmd); err != nil {
		return fmt.Errorf("%w: %w", packaging.ErrPackagingToolFailed, err)
	}

	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, dirMode)
	if err != nil {
		return err
	}

	_, werr := io.Copy(out, in)
	cerr := out.Close()

	return errors.Join(werr, cerr)
}
