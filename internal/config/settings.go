package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds user-level preferences shared by every project.
type Settings struct {
	// CacheDir is the root of the engine artifact store.
	CacheDir string `yaml:"cache_dir"`
	// EngineURL is the download URL template. It may contain the
	// {version}, {triple} and {profile} placeholders.
	EngineURL string `yaml:"engine_url"`
	// LatestVersion pins the engine version used when neither the project
	// nor the environment names one.
	LatestVersion string `yaml:"latest_version"`
	// LatestVersionURL is queried for the newest engine version when no
	// other source yields one.
	LatestVersionURL string `yaml:"latest_version_url"`
	// StageTimeout bounds every external tool invocation of the pipeline.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// LogLevel is the default log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

const (
	// AppName is used for the settings and cache directory names.
	AppName = "cargo-flutter"

	// DefaultSettingsFilename is the settings file name inside the config directory.
	DefaultSettingsFilename = "settings.yaml"

	// DefaultEngineURL points at the prebuilt engine archives.
	DefaultEngineURL = "https://github.com/flutter-rs/engine-builds/releases/download/f-{version}/{triple}-{profile}.tar.xz"

	// DefaultLatestVersionURL answers with the newest published engine version.
	DefaultLatestVersionURL = "https://github.com/flutter-rs/engine-builds/releases/latest/download/version.txt"

	// DefaultStageTimeout is the default bound of a single pipeline stage.
	DefaultStageTimeout = 30 * time.Minute

	// DefaultFilePermissions is the default file permission for settings files.
	DefaultFilePermissions = 0o600
)

var (
	// errSettingsNotSet is returned when nil settings are provided.
	errSettingsNotSet = errors.New("settings are not set")
	// errUnknownPlaceholder is returned when the engine URL uses an unknown placeholder.
	errUnknownPlaceholder = errors.New("unknown placeholder in engine url")
)

// DefaultSettingsPath returns the settings file location inside the user config directory.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, AppName, DefaultSettingsFilename)
}

// DefaultCacheDir returns the engine store root inside the user cache directory.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, AppName, "engine")
}

// LoadSettings reads settings from path. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsPath()
	}

	var settings Settings

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err = yaml.Unmarshal(contents, &settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if err = ValidateSettings(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// SaveSettings writes settings to path, creating the parent directory.
func SaveSettings(path string, settings *Settings) error {
	if settings == nil {
		return errSettingsNotSet
	}

	if path == "" {
		path = DefaultSettingsPath()
	}

	if err := ValidateSettings(settings); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ValidateSettings fills defaults and checks URL fields.
func ValidateSettings(settings *Settings) error {
	if settings == nil {
		return errSettingsNotSet
	}

	if settings.CacheDir == "" {
		settings.CacheDir = DefaultCacheDir()
	}

	if settings.EngineURL == "" {
		settings.EngineURL = DefaultEngineURL
	}

	if settings.LatestVersionURL == "" {
		settings.LatestVersionURL = DefaultLatestVersionURL
	}

	if settings.StageTimeout <= 0 {
		settings.StageTimeout = DefaultStageTimeout
	}

	if err := validateEngineURL(settings.EngineURL); err != nil {
		return err
	}

	if _, err := url.ParseRequestURI(settings.LatestVersionURL); err != nil {
		return fmt.Errorf("invalid latest version url: %w", err)
	}

	return nil
}

// validateEngineURL checks the template placeholders and that the rest is a URL.
func validateEngineURL(template string) error {
	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			break
		}

		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return fmt.Errorf("%s: %w", template, errUnknownPlaceholder)
		}

		switch rest[start : start+end+1] {
		case "{version}", "{triple}", "{profile}":
		default:
			return fmt.Errorf("%s: %w", rest[start:start+end+1], errUnknownPlaceholder)
		}

		rest = rest[start+end+1:]
	}

	if _, err := url.ParseRequestURI(template); err != nil {
		return fmt.Errorf("invalid engine url: %w", err)
	}

	return nil
}
