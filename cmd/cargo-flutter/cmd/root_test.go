package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
)

// TestRoot_NotInvokedThroughCargo verifies that running the binary directly is rejected.
func TestRoot_NotInvokedThroughCargo(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetArgs([]string{})
	root.SetOut(&bytes.Buffer{})

	require.ErrorIs(t, root.Execute(), packaging.ErrNotInvokedCorrectly)
}

// TestFlutter_FlagsStopAtSubcommand verifies that flags after the cargo subcommand stay with cargo.
func TestFlutter_FlagsStopAtSubcommand(t *testing.T) {
	t.Parallel()

	flutterCmd := newFlutterCmd()

	flags := flutterCmd.Flags()
	require.NoError(t, flags.Parse([]string{"--format", "apk", "--no-aot", "build", "--release", "--format", "x"}))
	require.Equal(t, []string{"build", "--release", "--format", "x"}, flags.Args())

	format, err := flags.GetString("format")
	require.NoError(t, err)
	require.Equal(t, "apk", format)

	noAot, err := flags.GetBool("no-aot")
	require.NoError(t, err)
	require.True(t, noAot)
}

// TestFlutter_RequiresSubcommand verifies that a cargo subcommand is mandatory.
func TestFlutter_RequiresSubcommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetArgs([]string{"flutter", "--no-flutter"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	require.Error(t, root.Execute())
}

// TestFlutter_SignFlagsExclusive verifies that --sign and --no-sign cannot be combined.
func TestFlutter_SignFlagsExclusive(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetArgs([]string{"flutter", "--sign", "--no-sign", "build"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	require.Error(t, root.Execute())
}

// TestRoot_Version verifies the version subcommand is attached.
func TestRoot_Version(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetArgs([]string{"version"})
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "cargo-flutter")
}
