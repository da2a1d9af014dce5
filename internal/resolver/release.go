package resolver

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/remote"
)

// tagDateLayout is the dotted date of release tags.
const tagDateLayout = "06.01.02"

var tagPattern = regexp.MustCompile(`^(\d{2}\.\d{2}\.\d{2})(?:\.([A-Za-z]+)(\d*))?$`)

// preReleaseSuffix matches the trailing pre-release part of a tag, e.g. .beta1.
var preReleaseSuffix = regexp.MustCompile(`\.[A-Za-z]+\d*$`)

// preReleaseMarkers compacts suffix words into their short normalized form.
//
//nolint:gochecknoglobals // Read-only lookup table.
var preReleaseMarkers = map[string]string{
	"a":       "a",
	"alpha":   "a",
	"b":       "b",
	"beta":    "b",
	"c":       "rc",
	"rc":      "rc",
	"pre":     "rc",
	"preview": "rc",
}

// Tag is a validated release tag.
type Tag struct {
	// Raw is the tag as published.
	Raw string
	// Date is the dotted date part, e.g. 24.02.28.
	Date string
	// Marker is the compacted pre-release marker (a, b or rc), empty for stable tags.
	Marker string
	// Number is the pre-release number, possibly empty.
	Number string
}

// ParseTag validates a release tag: three dot-separated numeric date segments
// and an optional pre-release suffix. Malformed tags are a hard error.
func ParseTag(raw string) (Tag, error) {
	matches := tagPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if matches == nil {
		return Tag{}, fmt.Errorf("%w: %q", update.ErrInvalidTag, raw)
	}

	if _, err := time.Parse(tagDateLayout, matches[1]); err != nil {
		return Tag{}, fmt.Errorf("%w: %q: %w", update.ErrInvalidTag, raw, err)
	}

	tag := Tag{
		Raw:    matches[0],
		Date:   matches[1],
		Number: matches[3],
	}

	if matches[2] != "" {
		marker, ok := preReleaseMarkers[strings.ToLower(matches[2])]
		if !ok {
			return Tag{}, fmt.Errorf("%w: %q: unknown pre-release suffix", update.ErrInvalidTag, raw)
		}

		tag.Marker = marker
	}

	return tag, nil
}

// IsPreRelease reports whether the tag carries a pre-release suffix.
func (t Tag) IsPreRelease() bool {
	return t.Marker != ""
}

// Version returns the normalized version, e.g. 24.02.28.beta1 → 24.02.28b1.
func (t Tag) Version() string {
	return t.Date + t.Marker + t.Number
}

// Platform maps an installed image name to the asset path segment of its hardware.
func Platform(platforms map[string]string, imageName string) (string, error) {
	segment, ok := platforms[imageName]
	if !ok || segment == "" {
		return "", fmt.Errorf("%w: %q", update.ErrUnknownPlatform, imageName)
	}

	return segment, nil
}

// ReleaseArtifact is the deterministic mapping of a tag and a platform.
type ReleaseArtifact struct {
	Tag      Tag
	Version  string
	URL      string
	Filename string
}

// ResolveTag maps a validated tag and platform to the normalized version and
// the platform-specific download location.
func ResolveTag(downloadURL string, tag Tag, platform, imageName string) (ReleaseArtifact, error) {
	base, err := url.Parse(strings.TrimRight(downloadURL, "/"))
	if err != nil {
		return ReleaseArtifact{}, fmt.Errorf("%w: release download url: %w", update.ErrConfiguration, err)
	}

	filename := imageName + "_" + tag.Version() + ImageExtension

	return ReleaseArtifact{
		Tag:      tag,
		Version:  tag.Version(),
		URL:      base.JoinPath(tag.Raw, platform, filename).String(),
		Filename: filename,
	}, nil
}

// TagSource returns the latest tag of a release channel.
type TagSource interface {
	LatestTag(ctx context.Context, channel string) (string, error)
}

// Release is the tag-based strategy: one release serves several hardware
// variants, selected by a platform path segment.
type Release struct {
	source      TagSource
	downloadURL string
	channel     string
	platforms   map[string]string
}

// NewRelease creates the tag-based strategy.
func NewRelease(source TagSource, downloadURL, channel string, platforms map[string]string) *Release {
	if channel == "" {
		channel = config.ChannelStable
	}

	return &Release{
		source:      source,
		downloadURL: downloadURL,
		channel:     channel,
		platforms:   platforms,
	}
}

// Strategy implements Resolver.
func (r *Release) Strategy() update.Scheme {
	return update.SchemeReleaseTag
}

// Check implements Resolver.
func (r *Release) Check(ctx context.Context, info update.BuildInfo) (update.CheckResult, error) {
	if r.downloadURL == "" {
		return update.NoUpdate(), update.ErrMissingURL
	}

	installed := info.Component(update.ComponentBaseOS)

	platform, err := Platform(r.platforms, installed.Name)
	if err != nil {
		return update.NoUpdate(), err
	}

	rawTag, err := r.source.LatestTag(ctx, r.channel)
	if err != nil {
		return update.NoUpdate(), err
	}

	tag, err := ParseTag(rawTag)
	if err != nil {
		return update.NoUpdate(), err
	}

	artifact, err := ResolveTag(r.downloadURL, tag, platform, installed.Name)
	if err != nil {
		return update.NoUpdate(), err
	}

	if !isNewerRelease(ctx, installed.Version, artifact.Version) {
		logger.InfoKV(ctx, "Already updated", "version", installed.Version, "latest", artifact.Version)

		return update.NoUpdate(), nil
	}

	logger.InfoKV(ctx, "New release", "tag", tag.Raw, "version", artifact.Version, "platform", platform)

	version := update.VersionDescriptor{Scheme: update.SchemeReleaseTag, Value: artifact.Version}
	reference := update.ArtifactReference{URL: artifact.URL, Filename: artifact.Filename}

	return update.Found(version, reference), nil
}

// isNewerRelease compares normalized versions. The installed version may be
// recorded as published (24.02.28.beta1) or normalized (24.02.28b1). A missing
// or unparsable installed version never blocks an update; the latest version
// has already been validated.
func isNewerRelease(ctx context.Context, installed, latest string) bool {
	if installed == "" {
		return true
	}

	if tag, err := ParseTag(installed); err == nil {
		installed = tag.Version()
	}

	if installed == latest {
		return false
	}

	installedVersion, err := goversion.NewVersion(installed)
	if err != nil {
		logger.WarnKV(ctx, "Unparsable installed version, assuming update", "version", installed, "error", err)
		return true
	}

	latestVersion, err := goversion.NewVersion(latest)
	if err != nil {
		return true
	}

	return latestVersion.GreaterThan(installedVersion)
}

// releaseListSize is how many recent releases are scanned for a channel.
const releaseListSize = 30

// releaseEntry is the subset of the release API response we need.
type releaseEntry struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

// ReleaseAPI reads release tags from a GitHub-style releases endpoint,
// newest first.
type ReleaseAPI struct {
	client  JSONGetter
	baseURL string
}

// NewReleaseAPI creates a tag source for the repository API at baseURL.
func NewReleaseAPI(client JSONGetter, baseURL string) *ReleaseAPI {
	return &ReleaseAPI{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// LatestTag returns the most recent tag published in channel. Stable tags
// carry no suffix and are not marked pre-release; beta tags carry a suffix or
// are marked pre-release.
func (a *ReleaseAPI) LatestTag(ctx context.Context, channel string) (string, error) {
	if a.baseURL == "" {
		return "", update.ErrMissingURL
	}

	endpoint := fmt.Sprintf("%s/releases?per_page=%d", a.baseURL, releaseListSize)

	var releases []releaseEntry
	if err := a.client.JSON(ctx, endpoint, &releases, remote.WithHeader("Accept", "application/vnd.github+json")); err != nil {
		return "", err
	}

	for _, release := range releases {
		if release.Draft {
			continue
		}

		if inChannel(release, channel) {
			return release.TagName, nil
		}
	}

	return "", fmt.Errorf("%w: %s", update.ErrNoRelease, channel)
}

// inChannel classifies a release by its trailing pre-release suffix and the
// prerelease flag without validating the tag, so a malformed latest tag is
// still selected and rejected by ParseTag.
func inChannel(release releaseEntry, channel string) bool {
	preRelease := release.Prerelease || preReleaseSuffix.MatchString(release.TagName)

	if channel == config.ChannelBeta {
		return preRelease
	}

	return !preRelease
}
