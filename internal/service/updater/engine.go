package updater

import (
	"context"
	"errors"
	"time"

	"github.com/oshokin/device-updater/internal/applier"
	"github.com/oshokin/device-updater/internal/checksum"
	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/fetcher"
	"github.com/oshokin/device-updater/internal/metrics"
	"github.com/oshokin/device-updater/internal/remote"
	"github.com/oshokin/device-updater/internal/repository/buildinfo"
	"github.com/oshokin/device-updater/internal/resolver"
)

// Operation names used in logs and metrics.
const (
	OperationCheckInitramfs  = "check_initramfs_update"
	OperationUpdateInitramfs = "update_initramfs"
	OperationCheckSquashfs   = "check_squashfs_update"
	OperationUpdateSquashfs  = "update_squashfs"
)

// BuildInfoSource provides the installed build info.
type BuildInfoSource interface {
	Get(ctx context.Context) update.BuildInfo
	Reset()
}

// RemoteClient is the transport of the engine.
type RemoteClient interface {
	resolver.RemoteClient
	fetcher.Opener
	Text(ctx context.Context, rawURL string) (string, error)
}

// Downloader fetches artifacts to local paths.
type Downloader interface {
	Download(ctx context.Context, rawURL, destination string) (update.DownloadOutcome, error)
}

// Applier applies a downloaded initramfs.
type Applier interface {
	Apply(ctx context.Context) error
}

// Stager stages a root filesystem image for the next boot.
type Stager interface {
	Stage(ctx context.Context, source string) error
}

// Engine checks for and applies updates. It is not safe for concurrent
// use; callers serialize requests.
type Engine struct {
	cfg        *config.Config
	buildInfo  BuildInfoSource
	client     RemoteClient
	resolver   resolver.Resolver
	comparator *checksum.Comparator
	downloader Downloader
	initramfs  Applier
	operation  applier.Operation
	stager     Stager
	metrics    *metrics.Collector
	progress   fetcher.ProgressFunc
}

// Option configures the engine.
type Option func(*Engine)

// WithBuildInfo replaces the build info cache.
func WithBuildInfo(source BuildInfoSource) Option {
	return func(e *Engine) {
		e.buildInfo = source
	}
}

// WithRemote replaces the transport used for listings, sidecars and downloads.
func WithRemote(client RemoteClient) Option {
	return func(e *Engine) {
		e.client = client
	}
}

// WithResolver replaces the root filesystem versioning strategy.
func WithResolver(r resolver.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithDownloader replaces the artifact fetcher.
func WithDownloader(d Downloader) Option {
	return func(e *Engine) {
		e.downloader = d
	}
}

// WithInitramfsOperation replaces the operation that applies the initramfs.
func WithInitramfsOperation(operation applier.Operation) Option {
	return func(e *Engine) {
		e.operation = operation
	}
}

// WithStager replaces the root filesystem stager.
func WithStager(s Stager) Option {
	return func(e *Engine) {
		e.stager = s
	}
}

// WithMetrics records operations into the collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithProgress reports download progress.
func WithProgress(progress fetcher.ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = progress
	}
}

// New creates an engine for cfg. Components not provided through options are
// built from the configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{
		cfg:        cfg,
		comparator: checksum.NewComparator(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		e.client = remote.New(
			remote.WithTimeout(cfg.HTTPTimeout),
			remote.WithRetries(cfg.Retries),
		)
	}

	if e.resolver == nil {
		r, err := resolver.New(cfg, e.client)
		if err != nil {
			return nil, err
		}

		e.resolver = r
	}

	if e.downloader == nil {
		e.downloader = fetcher.New(
			fetcher.WithOpener(e.client),
			fetcher.WithProgress(e.progress),
		)
	}

	if e.buildInfo == nil {
		e.buildInfo = buildinfo.NewCache(cfg.BuildInfoPath)
	}

	if e.operation == nil {
		e.operation = applier.NewServiceOperation(cfg.InitramfsService)
	}

	if e.initramfs == nil {
		e.initramfs = applier.NewInitramfs(e.operation, cfg.ApplyTimeout)
	}

	if e.stager == nil {
		e.stager = applier.NewStager(cfg.SquashfsPath)
	}

	return e, nil
}

// Strategy reports the configured root filesystem versioning scheme.
func (e *Engine) Strategy() update.Scheme {
	return e.resolver.Strategy()
}

// ResetBuildInfo forces the next operation to reload the build info.
func (e *Engine) ResetBuildInfo() {
	e.buildInfo.Reset()
}

// raised reports whether err is returned to the caller rather than reported
// in the result: configuration errors and malformed release tags.
func raised(err error) bool {
	return errors.Is(err, update.ErrConfiguration) || errors.Is(err, update.ErrInvalidTag)
}

func (e *Engine) record(operation, outcome string, started time.Time) {
	e.metrics.RecordOperation(operation, outcome, time.Since(started))
}
