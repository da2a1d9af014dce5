package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/device-updater/internal/checksum"
	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/metrics"
)

const componentInitramfs = "initramfs"

// CheckInitramfsUpdate reports whether the published initramfs differs from
// the installed one. The published digest is preferred; without it the
// candidate is downloaded and compared.
func (e *Engine) CheckInitramfsUpdate(ctx context.Context) (update.InitramfsCheck, error) {
	ctx = logger.WithName(ctx, OperationCheckInitramfs)
	started := time.Now()

	if e.cfg.InitramfsURL == "" {
		e.record(OperationCheckInitramfs, metrics.OutcomeError, started)

		return update.InitramfsCheck{}, fmt.Errorf("initramfs_url: %w", update.ErrMissingURL)
	}

	available, err := e.initramfsDiffers(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Initramfs check failed", "error", err)
		e.record(OperationCheckInitramfs, metrics.OutcomeError, started)

		return update.InitramfsCheck{Error: err.Error()}, nil
	}

	e.record(OperationCheckInitramfs, availability(available), started)

	return update.InitramfsCheck{Available: available}, nil
}

// UpdateInitramfs downloads the published initramfs and, when it differs
// from the installed one, runs the apply operation.
func (e *Engine) UpdateInitramfs(ctx context.Context) (update.InitramfsUpdate, error) {
	ctx = logger.WithName(ctx, OperationUpdateInitramfs)
	started := time.Now()

	logger.Info(ctx, "Checking initramfs update")

	if _, err := os.Stat(e.cfg.InitramfsPath); errors.Is(err, os.ErrNotExist) {
		logger.DebugKV(ctx, "No initramfs to update", "path", e.cfg.InitramfsPath)
		e.record(OperationUpdateInitramfs, metrics.OutcomeSkipped, started)

		return update.InitramfsUpdate{}, nil
	}

	if e.cfg.InitramfsURL == "" {
		e.record(OperationUpdateInitramfs, metrics.OutcomeError, started)

		return update.InitramfsUpdate{}, fmt.Errorf("initramfs_url: %w", update.ErrMissingURL)
	}

	changed, err := e.fetchInitramfs(ctx, e.initramfsArtifact(ctx))
	if err != nil {
		logger.ErrorKV(ctx, "Initramfs update failed", "error", err)
		e.record(OperationUpdateInitramfs, metrics.OutcomeError, started)

		return update.InitramfsUpdate{Error: err.Error()}, nil
	}

	if !changed {
		logger.Debug(ctx, "No initramfs update")
		e.record(OperationUpdateInitramfs, metrics.OutcomeCurrent, started)

		return update.InitramfsUpdate{Updated: update.Ptr(false)}, nil
	}

	if err = e.initramfs.Apply(ctx); err != nil {
		e.metrics.RecordApply(componentInitramfs, metrics.OutcomeFailed)
		e.record(OperationUpdateInitramfs, metrics.OutcomeFailed, started)

		return update.InitramfsUpdate{Updated: update.Ptr(false), Error: err.Error()}, nil
	}

	e.buildInfo.Reset()
	e.metrics.RecordApply(componentInitramfs, metrics.OutcomeUpdated)
	e.record(OperationUpdateInitramfs, metrics.OutcomeUpdated, started)

	return update.InitramfsUpdate{Updated: update.Ptr(true)}, nil
}

// initramfsDiffers compares against the sidecar digest, falling back to a
// downloaded candidate when the digest is unavailable.
func (e *Engine) initramfsDiffers(ctx context.Context) (bool, error) {
	artifact := e.initramfsArtifact(ctx)
	if artifact.Hash == "" {
		return e.fetchInitramfs(ctx, artifact)
	}

	matches, err := e.comparator.MatchesDigest(e.cfg.InitramfsPath, artifact.Hash)
	if err != nil {
		return false, fmt.Errorf("digest %s: %w: %w", e.cfg.InitramfsPath, update.ErrFilesystem, err)
	}

	if matches {
		logger.Info(ctx, "Initramfs not changed")

		return false, nil
	}

	logger.Info(ctx, "Initramfs update available")

	return true, nil
}

// initramfsArtifact references the published initramfs. Hash is the sidecar
// digest, empty when the sidecar is unavailable.
func (e *Engine) initramfsArtifact(ctx context.Context) update.ArtifactReference {
	artifact := update.ArtifactReference{
		URL:      e.cfg.InitramfsURL,
		Filename: filepath.Base(e.cfg.InitramfsUpdatePath),
	}

	sidecarURL := e.cfg.InitramfsURL + checksum.SidecarExtension

	digest, err := e.sidecarDigest(ctx, sidecarURL)
	if err != nil {
		logger.WarnKV(ctx, "Unable to get md5, downloading latest initramfs", "url", sidecarURL, "error", err)

		return artifact
	}

	artifact.Hash = digest

	return artifact
}

func (e *Engine) sidecarDigest(ctx context.Context, sidecarURL string) (string, error) {
	contents, err := e.client.Text(ctx, sidecarURL)
	if err != nil {
		return "", err
	}

	return checksum.ParseSidecar(contents)
}

// fetchInitramfs downloads the candidate to the update path and reports
// whether it differs from the installed one. A candidate left by an earlier
// run is reused only while it matches the published digest. An identical
// candidate is removed.
func (e *Engine) fetchInitramfs(ctx context.Context, artifact update.ArtifactReference) (bool, error) {
	candidate := e.cfg.InitramfsUpdatePath

	if err := e.discardStaleCandidate(ctx, candidate, artifact.Hash); err != nil {
		return false, err
	}

	outcome, err := e.downloader.Download(ctx, artifact.URL, candidate)
	if err != nil {
		e.metrics.RecordDownload(metrics.OutcomeFailed, 0)

		return false, err
	}

	e.recordDownload(outcome)

	if artifact.Hash != "" {
		verified, verifyErr := e.comparator.MatchesDigest(outcome.Path, artifact.Hash)
		if verifyErr != nil {
			return false, fmt.Errorf("digest %s: %w: %w", outcome.Path, update.ErrFilesystem, verifyErr)
		}

		if !verified {
			e.removeCandidate(ctx, outcome.Path)

			return false, fmt.Errorf("%w: %s does not match the published digest", update.ErrInvalidContent, artifact.URL)
		}
	}

	matches, err := e.comparator.MatchesFile(e.cfg.InitramfsPath, outcome.Path)
	if err != nil {
		return false, fmt.Errorf("compare initramfs: %w: %w", update.ErrFilesystem, err)
	}

	if !matches {
		return true, nil
	}

	logger.Info(ctx, "Initramfs not changed, removing downloaded file")
	e.removeCandidate(ctx, outcome.Path)

	return false, nil
}

// discardStaleCandidate removes an existing candidate that no longer matches
// the published digest. Without a digest the candidate is kept.
func (e *Engine) discardStaleCandidate(ctx context.Context, candidate, digest string) error {
	if digest == "" {
		return nil
	}

	if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	current, err := e.comparator.MatchesDigest(candidate, digest)
	if err != nil {
		return fmt.Errorf("digest %s: %w: %w", candidate, update.ErrFilesystem, err)
	}

	if !current {
		logger.InfoKV(ctx, "Discarding outdated initramfs candidate", "path", candidate)

		if err = os.Remove(candidate); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w: %w", candidate, update.ErrFilesystem, err)
		}
	}

	return nil
}

func (e *Engine) removeCandidate(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove downloaded initramfs", "path", path, "error", err)
	}
}

func (e *Engine) recordDownload(outcome update.DownloadOutcome) {
	if outcome.Skipped {
		e.metrics.RecordDownload(metrics.OutcomeSkipped, 0)

		return
	}

	e.metrics.RecordDownload(metrics.OutcomeUpdated, outcome.Bytes)
}

func availability(available bool) string {
	if available {
		return metrics.OutcomeAvailable
	}

	return metrics.OutcomeCurrent
}
