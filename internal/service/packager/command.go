package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/device-updater/internal/checksum"
	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/resolver"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Artifacts are the files to publish.
	Artifacts []string
	// OutputDir is the folder that is uploaded to the update server.
	OutputDir string
	// Platform is the image name prefix of root filesystem images,
	// e.g. debian-neon-image-rpi4. Without it images keep their names.
	Platform string
	// BuildTime is the YYYY-MM-DD_HH_MM timestamp of root filesystem images.
	// The modification time of each image is used when empty.
	BuildTime string
}

// Published describes one artifact copied into the output folder.
type Published struct {
	// Source is the packaged file.
	Source string
	// Path is the published copy.
	Path string
	// Sidecar is the digest file next to the copy.
	Sidecar string
	// Digest is the hex digest of the contents.
	Digest string
}

var (
	errNoArtifacts     = errors.New("no artifacts to package")
	errInvalidPlatform = errors.New("platform must not contain underscores")
	errInvalidTime     = errors.New("invalid build time")
)

// packager copies artifacts into the output folder under the names the
// updater looks for and writes their digest sidecars.
type packager struct {
	opts *Options
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) ([]Published, error) {
	ctx = logger.WithName(ctx, "artifact-packager")

	if err := validate(opts); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil { //nolint:gosec,mnd // Published folder is world readable.
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	p := &packager{opts: opts}

	published := make([]Published, 0, len(opts.Artifacts))

	for _, artifact := range opts.Artifacts {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		result, err := p.publish(ctx, artifact)
		if err != nil {
			return published, fmt.Errorf("package %s: %w", artifact, err)
		}

		published = append(published, result)
	}

	printNextSteps(ctx, opts.OutputDir, published)

	return published, nil
}

func validate(opts *Options) error {
	if len(opts.Artifacts) == 0 {
		return errNoArtifacts
	}

	if strings.Contains(opts.Platform, "_") {
		return fmt.Errorf("%w: %q", errInvalidPlatform, opts.Platform)
	}

	if opts.BuildTime != "" {
		if _, err := time.Parse(resolver.TimestampLayout, opts.BuildTime); err != nil {
			return fmt.Errorf("%w: %q: %w", errInvalidTime, opts.BuildTime, err)
		}
	}

	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	return nil
}

func (p *packager) publish(ctx context.Context, artifact string) (Published, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return Published{}, err
	}

	name := p.publishedName(artifact, info.ModTime())
	destination := filepath.Join(p.opts.OutputDir, name)

	logger.InfoKV(ctx, "Publishing artifact", "source", artifact, "name", name)

	if err = copyFile(artifact, destination); err != nil {
		return Published{}, err
	}

	digest, err := checksum.FileDigest(destination)
	if err != nil {
		return Published{}, err
	}

	sidecar := destination + checksum.SidecarExtension

	if err = os.WriteFile(sidecar, []byte(checksum.FormatSidecar(digest, name)), 0o644); err != nil { //nolint:gosec,mnd // Published files are world readable.
		return Published{}, fmt.Errorf("write sidecar: %w", err)
	}

	return Published{
		Source:  artifact,
		Path:    destination,
		Sidecar: sidecar,
		Digest:  digest,
	}, nil
}

// publishedName renames root filesystem images to <platform>_<time>.squashfs.
func (p *packager) publishedName(artifact string, modified time.Time) string {
	name := filepath.Base(artifact)
	if p.opts.Platform == "" || !strings.HasSuffix(name, resolver.ImageExtension) {
		return name
	}

	stamp := p.opts.BuildTime
	if stamp == "" {
		stamp = modified.UTC().Format(resolver.TimestampLayout)
	}

	return p.opts.Platform + "_" + stamp + resolver.ImageExtension
}

func copyFile(source, destination string) error {
	in, err := os.Open(filepath.Clean(source))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(destination), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		return multierror.Append(fmt.Errorf("copy to %s: %w", destination, err), out.Close(), os.Remove(destination))
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destination, err)
	}

	return os.Chmod(destination, 0o644) //nolint:gosec,mnd // Published files are world readable.
}

// printNextSteps logs which files to upload and where the updater expects them.
func printNextSteps(ctx context.Context, outputDir string, published []Published) {
	files := make([]string, 0, len(published)*2) //nolint:mnd // Artifact and sidecar.
	for _, item := range published {
		files = append(files, filepath.Base(item.Path), filepath.Base(item.Sidecar))
	}

	sort.Strings(files)

	var builder strings.Builder

	builder.WriteString("You should upload the following files from the folder ")
	builder.WriteString(outputDir)
	builder.WriteString(":\n")
	builder.WriteString(strings.Join(files, ",\n"))
	builder.WriteString("\n\nRoot filesystem images belong to the folder set as squashfs_url, ")
	builder.WriteString("the initramfs and its sidecar to the location set as initramfs_url.")

	logger.Info(ctx, builder.String())
}
