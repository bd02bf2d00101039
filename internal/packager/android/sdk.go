package android

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// sdkEnvKeys are checked in order when the manifest has no sdk_path.
var sdkEnvKeys = []string{"ANDROID_SDK_ROOT", "ANDROID_HOME"} //nolint:gochecknoglobals // Read-only lookup order.

// sdk holds the tool paths of one Android SDK installation.
type sdk struct {
	root       string
	buildTools string
	platform   string
}

// locateSDK finds the SDK, its build tools and the platform jar for the target SDK version.
func locateSDK(meta *config.AndroidMetadata, env config.Environment) (*sdk, error) {
	root := meta.SdkPath
	for _, key := range sdkEnvKeys {
		if root != "" {
			break
		}

		root = env.Get(key)
	}

	if root == "" {
		return nil, packaging.ConfigErrorf("android sdk not found: set sdk_path or %s", strings.Join(sdkEnvKeys, "/"))
	}

	version := meta.BuildToolsVersion
	if version == "" {
		latest, err := latestBuildTools(filepath.Join(root, "build-tools"))
		if err != nil {
			return nil, err
		}

		version = latest
	}

	s := &sdk{
		root:       root,
		buildTools: filepath.Join(root, "build-tools", version),
		platform:   filepath.Join(root, "platforms", "android-"+strconv.Itoa(meta.TargetSdkVersion), "android.jar"),
	}

	if _, err := os.Stat(s.buildTools); err != nil {
		return nil, packaging.ConfigErrorf("android build tools %s: %v", version, err)
	}

	if _, err := os.Stat(s.platform); err != nil {
		return nil, packaging.ConfigErrorf("android platform %d: %v", meta.TargetSdkVersion, err)
	}

	return s, nil
}

func (s *sdk) tool(name string) string {
	return filepath.Join(s.buildTools, name)
}

// latestBuildTools returns the highest installed build tools version.
func latestBuildTools(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", packaging.ConfigErrorf("android build tools: %v", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			versions = append(versions, entry.Name())
		}
	}

	if len(versions) == 0 {
		return "", packaging.ConfigErrorf("no android build tools installed in %s", dir)
	}

	return slices.MaxFunc(versions, compareVersions), nil
}

// compareVersions orders dotted numeric versions such as "30.0.3" and "29.0.2".
// Non-numeric parts compare as strings.
func compareVersions(a, b string) int {
	split := func(r rune) bool { return r == '.' || r == '-' }
	as, bs := strings.FieldsFunc(a, split), strings.FieldsFunc(b, split)

	for i := range min(len(as), len(bs)) {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])

		switch {
		case aerr == nil && berr == nil && an != bn:
			return an - bn
		case (aerr != nil || berr != nil) && as[i] != bs[i]:
			return strings.Compare(as[i], bs[i])
		}
	}

	return len(as) - len(bs)
}
