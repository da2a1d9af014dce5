package applier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/device-updater/internal/checksum"
	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
)

const (
	// StageSuffix is appended to the target while it is being written.
	StageSuffix = ".new"
	// DefaultImageMode is the mode of a staged image.
	DefaultImageMode os.FileMode = 0o644
)

// Stager copies a verified image to the path read on the next boot.
type Stager struct {
	target string
	mode   os.FileMode
}

// NewStager creates a stager writing to target.
func NewStager(target string) *Stager {
	return &Stager{
		target: filepath.Clean(target),
		mode:   DefaultImageMode,
	}
}

// Target returns the staging path.
func (s *Stager) Target() string {
	return s.target
}

// Stage copies source over the target. The target is replaced with a rename
// after the copy matched the source digest; on failure it is left untouched.
func (s *Stager) Stage(ctx context.Context, source string) (err error) {
	logger.InfoKV(ctx, "Staging image", "source", source, "target", s.target)

	if err = s.checkWritable(); err != nil {
		return err
	}

	expected, err := checksum.FileDigest(source)
	if err != nil {
		return fmt.Errorf("digest %s: %w: %w", source, update.ErrFilesystem, err)
	}

	staged := s.target + StageSuffix

	defer func() {
		if err != nil {
			_ = os.Remove(staged)
		}
	}()

	actual, err := copyFile(source, staged, s.mode)
	if err != nil {
		return err
	}

	if actual != expected {
		return fmt.Errorf("%w: staged copy digest %s, source %s", update.ErrFilesystem, actual, expected)
	}

	if err = os.Rename(staged, s.target); err != nil {
		return fmt.Errorf("rename %s: %w: %w", staged, update.ErrFilesystem, err)
	}

	logger.InfoKV(ctx, "Image staged, it will be used after restart", "target", s.target, "md5", actual)

	return nil
}

// checkWritable verifies that the target directory accepts new files.
func (s *Stager) checkWritable() error {
	options := goupdate.Options{
		TargetPath: s.target,
		TargetMode: s.mode,
	}

	if err := options.CheckPermissions(); err != nil {
		return fmt.Errorf("target %s is not writable: %w: %w", s.target, update.ErrFilesystem, err)
	}

	return nil
}

// copyFile streams source into destination and returns the digest of what was written.
func copyFile(source, destination string, mode os.FileMode) (string, error) {
	in, err := os.Open(filepath.Clean(source))
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %w", source, update.ErrFilesystem, err)
	}

	defer func() {
		_ = in.Close()
	}()

	//nolint:gosec // Destination is the configured staging path.
	out, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return "", fmt.Errorf("create %s: %w: %w", destination, update.ErrFilesystem, err)
	}

	hasher := checksum.DefaultFunction.New()

	_, copyErr := io.Copy(io.MultiWriter(out, hasher), in)
	syncErr := out.Sync()
	closeErr := out.Close()

	if err = multierror.Append(nil, copyErr, syncErr, closeErr).ErrorOrNil(); err != nil {
		return "", fmt.Errorf("write %s: %w: %w", destination, update.ErrFilesystem, err)
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
