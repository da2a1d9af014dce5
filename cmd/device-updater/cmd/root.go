package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/service/server"
	"github.com/oshokin/device-updater/internal/service/updater"
	"github.com/oshokin/device-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured level.
	logLevel string
	// serverAddress dispatches requests to a running daemon.
	serverAddress string
	// showProgress draws a download progress bar.
	showProgress bool
	// listenAddress overrides the daemon listen address.
	listenAddress string

	components = []string{updater.ComponentInitramfs, updater.ComponentSquashfs}

	// rootCmd represents the base command for checking and applying device updates.
	rootCmd = &cobra.Command{
		Use:   "device-updater",
		Short: "Check for and apply initramfs and root filesystem updates.",
		Long: `Checks the published initramfs and root filesystem images against the installed
ones and applies updates. Results are printed as JSON.

Operations run in this process unless --server points to a running daemon.`,
		SilenceUsage: true,
	}

	checkCmd = &cobra.Command{
		Use:       "check [initramfs|squashfs]",
		Short:     "Report whether an update is available.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: components,
		RunE: func(_ *cobra.Command, args []string) error {
			return runOperation(updater.ActionCheck, args[0])
		},
	}

	updateCmd = &cobra.Command{
		Use:       "update [initramfs|squashfs]",
		Short:     "Download and apply an available update.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: components,
		RunE: func(_ *cobra.Command, args []string) error {
			return runOperation(updater.ActionUpdate, args[0])
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the updater gRPC daemon.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				LogLevel:      logLevel,
			}

			return server.Run(ctx, options)
		},
	}
)

func runOperation(action, component string) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	options := &updater.Options{
		ConfigPath:    configPath,
		LogLevel:      logLevel,
		Action:        action,
		Component:     component,
		ServerAddress: serverAddress,
		Progress:      showProgress,
	}

	return updater.Run(ctx, options)
}

// Execute runs the device-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	for _, command := range []*cobra.Command{checkCmd, updateCmd} {
		command.Flags().StringVar(&serverAddress, "server", "", "address of a running device-updater daemon")
	}

	updateCmd.Flags().BoolVar(&showProgress, "progress", false, "draw a download progress bar on stderr")
	serveCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "override the configured listen address")

	rootCmd.AddCommand(checkCmd, updateCmd, serveCmd)
}
