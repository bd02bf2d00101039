package android

import (
	"context"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/cargo-flutter/internal/config"
	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/toolchain"
	"github.com/oshokin/cargo-flutter/internal/toolchain/toolchaintest"
)

const (
	armTriple   = "aarch64-linux-android"
	armv7Triple = "armv7-linux-androideabi"
)

// TestAbiForTriple maps every supported android triple and rejects the rest.
func TestAbiForTriple(t *testing.T) {
	t.Parallel()

	tests := map[string]ABI{
		"aarch64-linux-android":         Arm64,
		"armv7-linux-androideabi":       ArmV7a,
		"thumbv7neon-linux-androideabi": ArmV7a,
		"i686-linux-android":            X86,
		"x86_64-linux-android":          X86_64,
	}

	for triple, want := range tests {
		got, err := AbiForTriple(triple)
		require.NoError(t, err, triple)
		require.Equal(t, want, got, triple)
	}

	_, err := AbiForTriple("x86_64-unknown-linux-gnu")
	require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
}

// TestDeclaredABIs accepts triples and ABI names and falls back to the context triple.
func TestDeclaredABIs(t *testing.T) {
	t.Parallel()

	abis, err := declaredABIs([]string{armTriple, "armeabi-v7a", "thumbv7neon-linux-androideabi"}, armTriple)
	require.NoError(t, err)
	require.Equal(t, []ABI{Arm64, ArmV7a}, abis)

	abis, err = declaredABIs(nil, "x86_64-linux-android")
	require.NoError(t, err)
	require.Equal(t, []ABI{X86_64}, abis)

	_, err = declaredABIs([]string{"mips"}, armTriple)
	require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
}

// TestMapLibraries_MultiABI verifies each library lands under the ABI of its own triple, in order.
func TestMapLibraries_MultiABI(t *testing.T) {
	t.Parallel()

	model := packaging.NewBuilder("hello-app").
		AddBin("/build/hello-app").
		AddLibFor("/engine/arm64/libflutter_engine.so", armTriple).
		AddLibFor("/engine/armv7/libflutter_engine.so", armv7Triple).
		AddLib("/build/app.so").
		AddLibFor("/build/armv7/app.so", armv7Triple).
		Build()

	libs, err := MapLibraries(model, armTriple, []ABI{Arm64, ArmV7a})
	require.NoError(t, err)
	require.Len(t, libs, 2)

	require.Equal(t, []SharedLibrary{
		{ABI: Arm64, Path: "/build/hello-app", Filename: "libhello_app.so"},
		{ABI: Arm64, Path: "/engine/arm64/libflutter_engine.so", Filename: "libflutter_engine.so"},
		{ABI: Arm64, Path: "/build/app.so", Filename: "app.so"},
	}, libs[BuildTarget{Name: "hello-app", ABI: Arm64}])

	require.Equal(t, []SharedLibrary{
		{ABI: ArmV7a, Path: "/engine/armv7/libflutter_engine.so", Filename: "libflutter_engine.so"},
		{ABI: ArmV7a, Path: "/build/armv7/app.so", Filename: "app.so"},
	}, libs[BuildTarget{Name: "hello-app", ABI: ArmV7a}])
}

// TestMapLibraries_UndeclaredABI rejects a library built for an ABI nobody asked for.
func TestMapLibraries_UndeclaredABI(t *testing.T) {
	t.Parallel()

	model := packaging.NewBuilder("hello").
		AddBin("/build/hello").
		AddLibFor("/engine/x86/libflutter_engine.so", "i686-linux-android").
		Build()

	_, err := MapLibraries(model, armTriple, []ABI{Arm64})
	require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
}

// TestMapLibraries_UncoveredABI rejects a declared ABI that has no library.
func TestMapLibraries_UncoveredABI(t *testing.T) {
	t.Parallel()

	model := packaging.NewBuilder("hello").
		AddBin("/build/hello").
		AddLib("/engine/libflutter_engine.so").
		Build()

	_, err := MapLibraries(model, armTriple, []ABI{Arm64, X86})
	require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
	require.ErrorContains(t, err, "x86")
}

// TestRenderManifest checks the NativeActivity manifest carries the configured fields.
func TestRenderManifest(t *testing.T) {
	t.Parallel()

	meta := config.DefaultAndroidMetadata()
	meta.PackageName = "rust.hello"
	meta.Label = "Hello"
	meta.VersionName = "1.2.3"
	meta.Fullscreen = true
	meta.Permissions = []string{"android.permission.INTERNET"}

	contents, err := renderManifest(&meta, "hello")
	require.NoError(t, err)

	text := string(contents)
	require.True(t, strings.HasPrefix(text, xml.Header))
	require.Contains(t, text, `xmlns:android="http://schemas.android.com/apk/res/android"`)
	require.Contains(t, text, `package="rust.hello"`)
	require.Contains(t, text, `android:versionCode="1"`)
	require.Contains(t, text, `android:minSdkVersion="21"`)
	require.Contains(t, text, `android:targetSdkVersion="30"`)
	require.Contains(t, text, `<uses-permission android:name="android.permission.INTERNET"></uses-permission>`)
	require.Contains(t, text, `android:value="hello"`)
	require.Contains(t, text, fullscreenTheme)
	require.NotContains(t, text, "android:icon")
}

// TestCompareVersions orders build tools numerically.
func TestCompareVersions(t *testing.T) {
	t.Parallel()

	require.Positive(t, compareVersions("30.0.3", "29.0.2"))
	require.Positive(t, compareVersions("30.0.10", "30.0.9"))
	require.Negative(t, compareVersions("28.0.3", "30.0.0"))
	require.Zero(t, compareVersions("30.0.3", "30.0.3"))
}

// fakeSDK lays out the directories locateSDK looks for and returns the sdk root.
func fakeSDK(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for _, dir := range []string{"build-tools/29.0.2", "build-tools/30.0.3", "platforms/android-30"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "platforms/android-30/android.jar"), nil, 0o600))

	return root
}

// fakeBuild creates the binary, libraries and asset dir of a build and returns its model.
func fakeBuild(t *testing.T, buildDir string) *packaging.Model {
	t.Helper()

	files := []string{"hello", "libflutter_engine.so", "app.so"}
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(buildDir, name), []byte(name), 0o600))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "flutter_assets"), 0o755))

	return packaging.NewBuilder("hello").
		AddBin(filepath.Join(buildDir, "hello")).
		AddLib(filepath.Join(buildDir, "libflutter_engine.so")).
		AddLib(filepath.Join(buildDir, "app.so")).
		AddAsset(filepath.Join(buildDir, "flutter_assets")).
		Build()
}

// TestPackager_Build runs the whole tool sequence against a recording runner.
func TestPackager_Build(t *testing.T) {
	t.Parallel()

	buildDir := t.TempDir()
	model := fakeBuild(t, buildDir)

	meta := config.DefaultAndroidMetadata()
	meta.PackageName = "rust.hello"
	meta.Label = "hello"
	meta.Keystore = "/keys/release.jks"

	recorder := toolchaintest.NewRecorder()
	env := config.Environment{"ANDROID_HOME": fakeSDK(t)}
	pctx := &packaging.Context{BuildDir: buildDir, Triple: armTriple, Profile: packaging.Release}

	artifact, err := New(meta, recorder, env).Build(context.Background(), pctx, model, true)
	require.NoError(t, err)
	require.Equal(t, &packaging.Artifact{
		Format:    FormatName,
		Path:      filepath.Join(buildDir, "apk", "hello.apk"),
		Signature: packaging.SignatureSigned,
	}, artifact)

	require.Equal(t, []string{
		"aapt package",
		"aapt add",
		"aapt add",
		"aapt add",
		"zipalign -f",
		"apksigner sign",
	}, recorder.Names())

	aapt, ok := recorder.Find("aapt")
	require.True(t, ok)
	require.Contains(t, aapt.Name, filepath.Join("build-tools", "30.0.3"))
	require.Contains(t, aapt.Args, filepath.Join(buildDir, "flutter_assets"))

	stageDir := filepath.Join(buildDir, "apk", "hello")
	require.FileExists(t, filepath.Join(stageDir, manifestFilename))
	require.FileExists(t, filepath.Join(stageDir, "lib", "arm64-v8a", "libhello.so"))
	require.FileExists(t, filepath.Join(stageDir, "lib", "arm64-v8a", "libflutter_engine.so"))
	require.FileExists(t, filepath.Join(stageDir, "lib", "arm64-v8a", "app.so"))

	signer, ok := recorder.Find("apksigner")
	require.True(t, ok)
	require.Contains(t, signer.Args, "/keys/release.jks")
	require.Contains(t, signer.Args, "pass:android")
}

// TestPackager_BuildUnsignedDebugKeystore verifies that unsigned builds skip apksigner and signed
// builds without a keystore generate the debug one.
func TestPackager_BuildUnsignedDebugKeystore(t *testing.T) {
	t.Parallel()

	buildDir := t.TempDir()
	model := fakeBuild(t, buildDir)
	env := config.Environment{"ANDROID_SDK_ROOT": fakeSDK(t), "HOME": t.TempDir()}
	pctx := &packaging.Context{BuildDir: buildDir, Triple: armTriple}

	recorder := toolchaintest.NewRecorder()
	artifact, err := New(config.DefaultAndroidMetadata(), recorder, env).Build(context.Background(), pctx, model, false)
	require.NoError(t, err)
	require.Equal(t, packaging.SignatureNotRequested, artifact.Signature)

	_, ok := recorder.Find("apksigner")
	require.False(t, ok)

	recorder = toolchaintest.NewRecorder()
	_, err = New(config.DefaultAndroidMetadata(), recorder, env).Build(context.Background(), pctx, model, true)
	require.NoError(t, err)

	keytool, ok := recorder.Find("keytool")
	require.True(t, ok)
	require.Contains(t, keytool.Args, filepath.Join(env["HOME"], ".android", debugKeystore))
}

// TestPackager_BuildErrors covers the configuration and tool failure kinds.
func TestPackager_BuildErrors(t *testing.T) {
	t.Parallel()

	buildDir := t.TempDir()
	model := fakeBuild(t, buildDir)
	env := config.Environment{"ANDROID_HOME": fakeSDK(t)}
	pctx := &packaging.Context{BuildDir: buildDir, Triple: armTriple}
	meta := config.DefaultAndroidMetadata()

	t.Run("no assets", func(t *testing.T) {
		t.Parallel()

		noAssets := packaging.NewBuilder("hello").AddBin(model.Bin().Path).AddLib(model.LibPaths()[0]).Build()

		_, err := New(meta, toolchaintest.NewRecorder(), env).Build(context.Background(), pctx, noAssets, false)
		require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
	})

	t.Run("non utf8 assets", func(t *testing.T) {
		t.Parallel()

		bad := packaging.NewBuilder("hello").AddBin(model.Bin().Path).AddAsset("/tmp/\xff\xfe").Build()

		_, err := New(meta, toolchaintest.NewRecorder(), env).Build(context.Background(), pctx, bad, false)
		require.ErrorIs(t, err, packaging.ErrNonRepresentablePath)
	})

	t.Run("no binary", func(t *testing.T) {
		t.Parallel()

		_, err := New(meta, toolchaintest.NewRecorder(), env).
			Build(context.Background(), pctx, packaging.NewBuilder("hello").Build(), false)
		require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
	})

	t.Run("no sdk", func(t *testing.T) {
		t.Parallel()

		_, err := New(meta, toolchaintest.NewRecorder(), config.Environment{}).
			Build(context.Background(), pctx, model, false)
		require.ErrorIs(t, err, packaging.ErrPackagingConfigInvalid)
	})

	t.Run("tool fails", func(t *testing.T) {
		t.Parallel()

		errAapt := errors.New("aapt: invalid manifest")
		recorder := toolchaintest.NewRecorder().Handle("aapt", func(toolchain.Command) ([]byte, error) {
			return nil, errAapt
		})

		_, err := New(meta, recorder, env).Build(context.Background(), pctx, model, false)
		require.ErrorIs(t, err, packaging.ErrPackagingToolFailed)
		require.ErrorIs(t, err, errAapt)
	})
}
