package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/service/orchestrator"
	"github.com/oshokin/cargo-flutter/internal/version"
)

// newRootCmd builds the command tree. Cargo runs external subcommands as
// `cargo-flutter flutter <args>`, so the work happens in the flutter subcommand.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cargo-flutter",
		Short:         "Build, run and package flutter-rs applications",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return packaging.ErrNotInvokedCorrectly
		},
	}

	rootCmd.AddCommand(newFlutterCmd())
	version.AttachCobraVersionCommand(rootCmd)

	return rootCmd
}

func newFlutterCmd() *cobra.Command {
	options := &orchestrator.Options{}

	flutterCmd := &cobra.Command{
		Use:   "flutter [options] <cargo subcommand> [cargo args] [-- app args]",
		Short: "Run a cargo subcommand with the flutter engine, bundle and packaging steps",
		Example: "  cargo flutter run\n" +
			"  cargo flutter --format appimage build --release\n" +
			"  cargo flutter --format apk build --target aarch64-linux-android --release",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.CargoArgs = args

			return orchestrator.Run(ctx, options)
		},
	}

	flags := flutterCmd.Flags()
	// Everything after the cargo subcommand belongs to cargo.
	flags.SetInterspersed(false)

	flags.StringVarP(&options.Format, "format", "f", "", "packaging format (appimage, apk)")
	flags.BoolVar(&options.NoFlutter, "no-flutter", false, "skip the flutter bundle, aot and attach steps")
	flags.BoolVar(&options.NoBundle, "no-bundle", false, "skip the flutter bundle")
	flags.BoolVar(&options.NoAttach, "no-attach", false, "do not attach flutter to the running application")
	flags.BoolVar(&options.NoAot, "no-aot", false, "skip the aot snapshot of release builds")
	flags.BoolVar(&options.Sign, "sign", false, "sign debug packages")
	flags.BoolVar(&options.NoSign, "no-sign", false, "do not sign release packages")
	flags.StringVar(&options.SettingsPath, "settings", "", "path to the settings file")
	flags.StringVar(&options.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	flutterCmd.MarkFlagsMutuallyExclusive("sign", "no-sign")

	return flutterCmd
}

// Execute runs the cargo-flutter CLI and exits with non-zero status on error.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
