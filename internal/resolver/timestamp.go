package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
)

const (
	// TimestampLayout is the strict YYYY-MM-DD_HH_MM format of image timestamps.
	TimestampLayout = "2006-01-02_15_04"
	// ImageExtension is the extension of root filesystem images.
	ImageExtension = ".squashfs"
)

// IsNewer reports whether latest is strictly later than current.
// Any parse failure reports true: a malformed timestamp must never block updates.
func IsNewer(current, latest string) bool {
	currentTime, err := time.Parse(TimestampLayout, current)
	if err != nil {
		return true
	}

	latestTime, err := time.Parse(TimestampLayout, latest)
	if err != nil {
		return true
	}

	return latestTime.After(currentTime)
}

// ImageTimestamp extracts the date-time part of an image file name: everything
// after the first underscore up to the extension.
func ImageTimestamp(name string) string {
	_, rest, found := strings.Cut(name, "_")
	if !found {
		return ""
	}

	if dot := strings.LastIndex(rest, "."); dot >= 0 {
		rest = rest[:dot]
	}

	return rest
}

// Timestamp is the legacy strategy over a listing of dated image files.
type Timestamp struct {
	lister     Lister
	listingURL string
}

// NewTimestamp creates the timestamp strategy for the listing at listingURL.
func NewTimestamp(lister Lister, listingURL string) *Timestamp {
	return &Timestamp{
		lister:     lister,
		listingURL: listingURL,
	}
}

// Strategy implements Resolver.
func (r *Timestamp) Strategy() update.Scheme {
	return update.SchemeTimestamp
}

// Check implements Resolver.
func (r *Timestamp) Check(ctx context.Context, info update.BuildInfo) (update.CheckResult, error) {
	if r.listingURL == "" {
		return update.NoUpdate(), update.ErrMissingURL
	}

	installed := info.Component(update.ComponentBaseOS)

	links, err := r.lister.ListLinks(ctx, r.listingURL)
	if err != nil {
		return update.NoUpdate(), err
	}

	candidates := links[:0:0]

	for _, link := range links {
		if strings.HasSuffix(link.Name, ImageExtension) && strings.HasPrefix(link.Name, installed.Name) {
			candidates = append(candidates, link)
		}
	}

	if len(candidates) == 0 {
		return update.NoUpdate(), update.ErrNoArtifacts
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Name > candidates[j].Name
	})

	newest := candidates[0]
	remoteTime := ImageTimestamp(newest.Name)

	switch {
	case installed.Time == remoteTime:
		logger.InfoKV(ctx, "Already updated", "time", remoteTime)

		return update.NoUpdate(), nil
	case IsNewer(installed.Time, remoteTime):
		logger.InfoKV(ctx, "New root filesystem image", "name", newest.Name, "installed", installed.Time)

		version := update.VersionDescriptor{Scheme: update.SchemeTimestamp, Value: remoteTime}
		artifact := update.ArtifactReference{URL: newest.URL, Filename: newest.Name}

		return update.Found(version, artifact), nil
	default:
		logger.InfoKV(ctx, "Installed image is newer than latest", "installed", installed.Time, "latest", remoteTime)

		return update.NoUpdate(), nil
	}
}
