package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/metrics"
)

const componentSquashfs = "squashfs"

// CheckSquashfsUpdate reports whether a newer root filesystem image exists.
func (e *Engine) CheckSquashfsUpdate(ctx context.Context) (update.SquashfsCheck, error) {
	ctx = logger.WithKV(logger.WithName(ctx, OperationCheckSquashfs), "strategy", e.resolver.Strategy().String())
	started := time.Now()

	result, err := e.resolver.Check(ctx, e.buildInfo.Get(ctx))
	if err != nil {
		e.record(OperationCheckSquashfs, metrics.OutcomeError, started)

		if raised(err) {
			return update.SquashfsCheck{}, err
		}

		logger.ErrorKV(ctx, "Root filesystem check failed", "error", err)

		return update.SquashfsCheck{Error: err.Error()}, nil
	}

	e.record(OperationCheckSquashfs, availability(result.Available), started)

	return update.SquashfsCheck{Available: result.Available}, nil
}

// UpdateSquashfs downloads a newer root filesystem image and stages it for
// the next boot. NewVersion is set to the staged version.
func (e *Engine) UpdateSquashfs(ctx context.Context) (update.SquashfsUpdate, error) {
	ctx = logger.WithKV(logger.WithName(ctx, OperationUpdateSquashfs), "strategy", e.resolver.Strategy().String())
	started := time.Now()

	logger.Info(ctx, "Checking squashfs update")

	result, err := e.resolver.Check(ctx, e.buildInfo.Get(ctx))
	if err != nil {
		e.record(OperationUpdateSquashfs, metrics.OutcomeError, started)

		if raised(err) {
			return update.SquashfsUpdate{}, err
		}

		logger.ErrorKV(ctx, "Root filesystem check failed", "error", err)

		return update.SquashfsUpdate{Error: err.Error()}, nil
	}

	if !result.Available {
		logger.Info(ctx, "Already updated")
		e.record(OperationUpdateSquashfs, metrics.OutcomeCurrent, started)

		return update.SquashfsUpdate{}, nil
	}

	if err = e.stageImage(ctx, result); err != nil {
		logger.ErrorKV(ctx, "Root filesystem update failed", "error", err)
		e.record(OperationUpdateSquashfs, metrics.OutcomeFailed, started)

		return update.SquashfsUpdate{Error: err.Error()}, nil
	}

	e.buildInfo.Reset()
	e.record(OperationUpdateSquashfs, metrics.OutcomeUpdated, started)

	logger.InfoKV(ctx, "Update available and will be installed on restart", "version", result.Version.Value)

	return update.SquashfsUpdate{NewVersion: update.Ptr(result.Version.Value)}, nil
}

func (e *Engine) stageImage(ctx context.Context, result update.CheckResult) error {
	destination, err := downloadPath(e.cfg.DownloadDir, result.Artifact.Filename)
	if err != nil {
		return err
	}

	outcome, err := e.downloader.Download(ctx, result.Artifact.URL, destination)
	if err != nil {
		e.metrics.RecordDownload(metrics.OutcomeFailed, 0)

		return err
	}

	e.recordDownload(outcome)

	if err = e.stager.Stage(ctx, outcome.Path); err != nil {
		e.metrics.RecordApply(componentSquashfs, metrics.OutcomeFailed)

		return err
	}

	e.metrics.RecordApply(componentSquashfs, metrics.OutcomeUpdated)

	return nil
}

// downloadPath keeps remote file names inside the download directory.
func downloadPath(dir, filename string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		return "", fmt.Errorf("%w: artifact file name %q", update.ErrInvalidContent, filename)
	}

	return filepath.Join(dir, name), nil
}
