package packager

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// ManifestSuffix is appended to the artifact path to name its release manifest.
const ManifestSuffix = ".yaml"

const manifestFileMode os.FileMode = 0o644

// Manifest describes a produced artifact and the inputs it was built from.
type Manifest struct {
	// Name is the package name.
	Name string `yaml:"name"`
	// Version is the package version.
	Version string `yaml:"version,omitempty"`
	// Format is the packaging format.
	Format string `yaml:"format"`
	// Target is the target triple.
	Target string `yaml:"target"`
	// Profile is the build profile.
	Profile string `yaml:"profile"`
	// EngineVersion is the engine the package embeds.
	EngineVersion string `yaml:"engine_version,omitempty"`
	// Signature is the signing outcome.
	Signature packaging.Signature `yaml:"signature"`
	// Artifact is the base64 SHA-512 checksum of the artifact.
	Artifact string `yaml:"artifact"`
	// Inputs maps every packaged file to its base64 SHA-512 checksum.
	Inputs map[string]string `yaml:"inputs"`
	// CreatedAt is when the manifest was written.
	CreatedAt time.Time `yaml:"created_at"`
}

// WriteManifest writes <artifact>.yaml and returns its path.
func WriteManifest(artifact *packaging.Artifact, pctx *packaging.Context, model *packaging.Model) (string, error) {
	manifest := &Manifest{
		Name:          model.Name(),
		Version:       pctx.Version,
		Format:        artifact.Format,
		Target:        pctx.Triple,
		Profile:       pctx.Profile.String(),
		EngineVersion: pctx.EngineVersion,
		Signature:     artifact.Signature,
		Inputs:        make(map[string]string),
		CreatedAt:     time.Now().UTC(),
	}

	sum, err := checksum(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("checksum artifact: %w", err)
	}

	manifest.Artifact = sum

	inputs := append([]packaging.Entry{model.Bin()}, model.Libs()...)
	for _, input := range inputs {
		if manifest.Inputs[input.Path], err = checksum(input.Path); err != nil {
			return "", fmt.Errorf("checksum %s: %w", input.Path, err)
		}
	}

	for _, asset := range model.Assets() {
		if err = checksumTree(asset.Path, manifest.Inputs); err != nil {
			return "", fmt.Errorf("checksum assets %s: %w", asset.Path, err)
		}
	}

	contents, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshal release manifest: %w", err)
	}

	path := artifact.Path + ManifestSuffix
	if err = os.WriteFile(path, contents, manifestFileMode); err != nil { //nolint:gosec // Published next to the artifact.
		return "", fmt.Errorf("write release manifest: %w", err)
	}

	return path, nil
}

// ReadManifest loads a release manifest.
func ReadManifest(path string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err = yaml.Unmarshal(contents, &manifest); err != nil {
		return nil, fmt.Errorf("parse release manifest: %w", err)
	}

	return &manifest, nil
}

// checksumTree adds every regular file below root.
func checksumTree(root string, sums map[string]string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		sums[path], err = checksum(path)

		return err
	})
}

func checksum(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = f.Close()
	}()

	hasher := sha512.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}
