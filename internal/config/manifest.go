package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ManifestFilename is the cargo project manifest name.
const ManifestFilename = "Cargo.toml"

// ErrProjectNotFound is returned when there is no manifest or it has no
// [package.metadata.flutter] table. Callers treat it as build-only mode.
var ErrProjectNotFound = errors.New("flutter project configuration not found")

var errPackageNameMissing = errors.New("package name missing")

// Project is the parsed project manifest.
type Project struct {
	// Dir is the directory containing the manifest.
	Dir string `toml:"-"`
	// Package is the [package] table.
	Package PackageSection `toml:"package"`
}

// PackageSection mirrors the parts of the cargo [package] table cargo-flutter reads.
type PackageSection struct {
	Name     string   `toml:"name"`
	Version  string   `toml:"version"`
	Metadata Metadata `toml:"metadata"`
}

// Metadata is the [package.metadata] table.
type Metadata struct {
	Flutter  *FlutterMetadata `toml:"flutter"`
	Android  AndroidMetadata  `toml:"android"`
	AppImage AppImageMetadata `toml:"appimage"`
}

// FlutterMetadata is the [package.metadata.flutter] table.
type FlutterMetadata struct {
	// EngineVersion pins the engine for this project.
	EngineVersion string `toml:"engine_version"`
}

// AndroidMetadata is the [package.metadata.android] table.
type AndroidMetadata struct {
	PackageName       string   `toml:"package_name"`
	Label             string   `toml:"label"`
	VersionCode       int      `toml:"version_code"`
	VersionName       string   `toml:"version_name"`
	MinSdkVersion     int      `toml:"min_sdk_version"`
	TargetSdkVersion  int      `toml:"target_sdk_version"`
	BuildTargets      []string `toml:"build_targets"`
	Res               string   `toml:"res"`
	Icon              string   `toml:"icon"`
	Fullscreen        bool     `toml:"fullscreen"`
	Permissions       []string `toml:"permissions"`
	SdkPath           string   `toml:"sdk_path"`
	BuildToolsVersion string   `toml:"build_tools_version"`
	Keystore          string   `toml:"keystore"`
	KeystorePassword  string   `toml:"keystore_password"`
	KeyAlias          string   `toml:"key_alias"`
	// Assets is injected by the packager, never read from the manifest.
	Assets string `toml:"-"`
}

// AppImageMetadata is the [package.metadata.appimage] table.
type AppImageMetadata struct {
	// Name is the desktop entry Name. Empty means the package name.
	Name string `toml:"name"`
	// Exec is the desktop entry Exec. Empty means the binary name.
	Exec       string   `toml:"exec"`
	Type       string   `toml:"type"`
	Categories []string `toml:"categories"`
	Comment    string   `toml:"comment"`
	Terminal   bool     `toml:"terminal"`
	// Icon is a PNG path relative to the project directory.
	Icon string `toml:"icon"`
	// SignKey is the GPG key id passed to appimagetool when signing.
	SignKey string `toml:"sign_key"`
	// Tool is the appimagetool executable.
	Tool string `toml:"tool"`
}

// DefaultAndroidMetadata returns the values used for keys the manifest omits.
func DefaultAndroidMetadata() AndroidMetadata {
	return AndroidMetadata{
		VersionCode:      1,
		MinSdkVersion:    21,
		TargetSdkVersion: 30,
		KeystorePassword: "android",
		KeyAlias:         "androiddebugkey",
	}
}

// DefaultAppImageMetadata returns the values used for keys the manifest omits.
func DefaultAppImageMetadata() AppImageMetadata {
	return AppImageMetadata{
		Type:       "Application",
		Categories: []string{"Utility"},
		Tool:       "appimagetool",
	}
}

// LoadProject reads the manifest at path. A missing file or a manifest
// without a [package.metadata.flutter] table yields ErrProjectNotFound.
func LoadProject(path string) (*Project, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrProjectNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	project := &Project{
		Dir: filepath.Dir(path),
		Package: PackageSection{
			Metadata: Metadata{
				Android:  DefaultAndroidMetadata(),
				AppImage: DefaultAppImageMetadata(),
			},
		},
	}

	if err = toml.Unmarshal(contents, project); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if project.Package.Metadata.Flutter == nil {
		return nil, ErrProjectNotFound
	}

	if project.Package.Name == "" {
		return nil, fmt.Errorf("%s: %w", path, errPackageNameMissing)
	}

	return project, nil
}

// FindManifest walks up from dir to the nearest Cargo.toml, the way cargo
// locates the current package. It returns ErrProjectNotFound when there is none.
func FindManifest(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}

	for {
		candidate := filepath.Join(dir, ManifestFilename)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrProjectNotFound
		}

		dir = parent
	}
}

// Name returns the package name.
func (p *Project) Name() string {
	return p.Package.Name
}

// Version returns the package version.
func (p *Project) Version() string {
	return p.Package.Version
}

// EngineVersion returns the engine version pinned by the project, if any.
func (p *Project) EngineVersion() string {
	if p == nil || p.Package.Metadata.Flutter == nil {
		return ""
	}

	return p.Package.Metadata.Flutter.EngineVersion
}

// Android returns a copy of the Android metadata with project-derived defaults.
func (p *Project) Android() AndroidMetadata {
	meta := p.Package.Metadata.Android
	meta.BuildTargets = append([]string(nil), meta.BuildTargets...)
	meta.Permissions = append([]string(nil), meta.Permissions...)

	if meta.PackageName == "" {
		meta.PackageName = "rust." + sanitizeJavaIdentifier(p.Name())
	}

	if meta.Label == "" {
		meta.Label = p.Name()
	}

	if meta.VersionName == "" {
		meta.VersionName = p.Version()
	}

	if meta.Res != "" && !filepath.IsAbs(meta.Res) {
		meta.Res = filepath.Join(p.Dir, meta.Res)
	}

	if meta.Keystore != "" && !filepath.IsAbs(meta.Keystore) {
		meta.Keystore = filepath.Join(p.Dir, meta.Keystore)
	}

	return meta
}

// AppImage returns a copy of the AppImage metadata with paths made absolute.
func (p *Project) AppImage() AppImageMetadata {
	meta := p.Package.Metadata.AppImage
	meta.Categories = append([]string(nil), meta.Categories...)

	if meta.Icon != "" && !filepath.IsAbs(meta.Icon) {
		meta.Icon = filepath.Join(p.Dir, meta.Icon)
	}

	return meta
}

// sanitizeJavaIdentifier turns a crate name into a valid Java package segment.
func sanitizeJavaIdentifier(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			out[i] = '_'
		}
	}

	// A segment may not start with a digit.
	if len(out) > 0 && out[0] >= '0' && out[0] <= '9' {
		return "_" + string(out)
	}

	return string(out)
}
