package resolver

import (
	"context"
	"fmt"

	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/remote"
)

// Resolver answers "is there a newer artifact, and where is it".
type Resolver interface {
	// Strategy reports the versioning scheme of the descriptors it returns.
	Strategy() update.Scheme
	// Check compares the installed build info with the remote store.
	Check(ctx context.Context, info update.BuildInfo) (update.CheckResult, error)
}

// Lister reads directory listings.
type Lister interface {
	ListLinks(ctx context.Context, pageURL string) ([]remote.Link, error)
}

// JSONGetter reads JSON documents.
type JSONGetter interface {
	JSON(ctx context.Context, rawURL string, v any, opts ...remote.RequestOption) error
}

// RemoteClient is what both strategies need from the transport.
type RemoteClient interface {
	Lister
	JSONGetter
}

// New builds the resolver selected by cfg.Strategy.
//
//nolint:ireturn // The strategy is chosen at runtime.
func New(cfg *config.Config, client RemoteClient) (Resolver, error) {
	switch cfg.Strategy {
	case config.StrategyTimestamp, "":
		return NewTimestamp(client, cfg.SquashfsURL), nil
	case config.StrategyRelease:
		source := NewReleaseAPI(client, cfg.ReleaseAPIURL)

		return NewRelease(source, cfg.ReleaseDownloadURL, cfg.ReleaseChannel, cfg.Platforms), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", update.ErrConfiguration, cfg.Strategy)
	}
}
