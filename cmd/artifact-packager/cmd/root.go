package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/device-updater/internal/service/packager"
	"github.com/oshokin/device-updater/internal/version"
)

var (
	// outputDir is the folder uploaded to the update server.
	outputDir string
	// platform is the image name prefix of root filesystem images.
	platform string
	// buildTime is the timestamp of root filesystem images.
	buildTime string

	// rootCmd represents the base command for preparing update artifacts.
	rootCmd = &cobra.Command{
		Use:   "artifact-packager [artifact...]",
		Short: "Prepare update artifacts and digest sidecars for the update server.",
		Long: `Copies artifacts into the output folder and writes an md5sum style sidecar
next to each one. With --platform, root filesystem images are renamed to
<platform>_<YYYY-MM-DD_HH_MM>.squashfs as expected by the timestamp strategy.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &packager.Options{
				Artifacts: args,
				OutputDir: outputDir,
				Platform:  platform,
				BuildTime: buildTime,
			}

			_, err := packager.Run(ctx, options)

			return err
		},
	}
)

// Execute runs the artifact-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "updates", "folder to publish artifacts into")
	rootCmd.Flags().StringVarP(&platform, "platform", "p", "", "image name prefix, e.g. debian-neon-image-rpi4")
	rootCmd.Flags().StringVarP(&buildTime, "time", "t", "", "image timestamp in the YYYY-MM-DD_HH_MM format")
}
