package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option of the updater engine and the daemon around it.
type Config struct {
	// InitramfsURL is the direct download location of the latest initramfs.
	// A sidecar digest is looked up at InitramfsURL + ".md5".
	InitramfsURL string `yaml:"initramfs_url"`
	// InitramfsPath is the installed initramfs read by the boot loader.
	InitramfsPath string `yaml:"initramfs_path"`
	// InitramfsUpdatePath is where a candidate initramfs is downloaded to.
	InitramfsUpdatePath string `yaml:"initramfs_update_path"`
	// InitramfsService is the system unit that installs a downloaded initramfs.
	InitramfsService string `yaml:"initramfs_service"`
	// ApplyTimeout bounds the wait for the initramfs service.
	ApplyTimeout time.Duration `yaml:"apply_timeout"`

	// SquashfsURL is the directory listing of dated root filesystem images.
	SquashfsURL string `yaml:"squashfs_url"`
	// SquashfsPath is where a new root filesystem image is staged for the next boot.
	SquashfsPath string `yaml:"squashfs_path"`
	// DownloadDir keeps downloaded root filesystem images, one file per version.
	DownloadDir string `yaml:"download_dir"`
	// BuildInfoPath is the JSON metadata of the installed image.
	BuildInfoPath string `yaml:"build_info_path"`

	// Strategy selects the root filesystem versioning scheme: timestamp or release.
	Strategy string `yaml:"strategy"`
	// ReleaseAPIURL is the base of the release-tag API.
	ReleaseAPIURL string `yaml:"release_api_url"`
	// ReleaseDownloadURL is the base of per-platform release assets.
	ReleaseDownloadURL string `yaml:"release_download_url"`
	// ReleaseChannel is stable or beta.
	ReleaseChannel string `yaml:"release_channel"`
	// Platforms maps installed image names to the asset path segment of their hardware.
	Platforms map[string]string `yaml:"platforms"`

	// HTTPTimeout bounds metadata requests and the wait for artifact response headers.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// Retries is the number of extra attempts for failed network requests.
	Retries int `yaml:"retries"`

	// ListenAddress is the gRPC address of the daemon.
	ListenAddress string `yaml:"listen_address"`
	// MetricsAddress enables the Prometheus endpoint when set.
	MetricsAddress string `yaml:"metrics_address"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile tees logs into a rotating file when set.
	LogFile string `yaml:"log_file"`
	// MarkerPath is the run marker that keeps update invocations from overlapping.
	MarkerPath string `yaml:"marker_path"`
	// MarkerLifetime is the age after which a run marker is considered stale.
	MarkerLifetime time.Duration `yaml:"marker_lifetime"`
}

const (
	// DefaultConfigFilename is the default settings location on the device.
	DefaultConfigFilename = "/etc/neon/device-updater.yaml"

	// StrategyTimestamp compares dated file names from a directory listing.
	StrategyTimestamp = "timestamp"
	// StrategyRelease looks up release tags.
	StrategyRelease = "release"

	// ChannelStable selects tags without a pre-release suffix.
	ChannelStable = "stable"
	// ChannelBeta selects tags with a pre-release suffix.
	ChannelBeta = "beta"

	// DefaultInitramfsURL is the published initramfs of the reference image.
	DefaultInitramfsURL = "https://github.com/NeonGeckoCom/neon_debos/raw/dev/overlays/02-rpi4/boot/firmware/initramfs"
	// DefaultInitramfsPath is the installed initramfs.
	DefaultInitramfsPath = "/boot/firmware/initramfs"
	// DefaultInitramfsUpdatePath is the initramfs download location.
	DefaultInitramfsUpdatePath = "/opt/neon/initramfs"
	// DefaultInitramfsService is the unit applying a downloaded initramfs.
	DefaultInitramfsService = "update-initramfs"
	// DefaultApplyTimeout bounds the initramfs service run.
	DefaultApplyTimeout = 30 * time.Second
	// DefaultSquashfsURL is the listing of dated root filesystem images.
	DefaultSquashfsURL = "https://2222.us/app/files/neon_images/pi/mycroft_mark_2/updates/"
	// DefaultSquashfsPath is read by the boot process on the next restart.
	DefaultSquashfsPath = "/opt/neon/update.squashfs"
	// DefaultBuildInfoPath is the installed image metadata.
	DefaultBuildInfoPath = "/opt/neon/build_info.json"
	// DefaultReleaseAPIURL is the release-tag API of the image repository.
	DefaultReleaseAPIURL = "https://api.github.com/repos/NeonGeckoCom/neon-os"
	// DefaultReleaseDownloadURL hosts release assets per platform.
	DefaultReleaseDownloadURL = "https://2222.us/app/files/neon_images/releases"
	// DefaultHTTPTimeout bounds a single request.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultRetries is the number of extra attempts for network requests.
	DefaultRetries = 2
	// DefaultListenAddress is the daemon gRPC address.
	DefaultListenAddress = "127.0.0.1:50061"
	// DefaultLogLevel is used when none is configured.
	DefaultLogLevel = "info"
	// DefaultMarkerFilename is created in the temporary directory unless marker_path is set.
	DefaultMarkerFilename = "device-updater.marker"
	// DefaultMarkerLifetime covers the download of a full root filesystem image.
	DefaultMarkerLifetime = time.Hour

	// DefaultFilePermissions is the permission of files written by the updater.
	DefaultFilePermissions = 0o600
)

var (
	errConfigIsNotSet    = errors.New("configuration is not set")
	errUnknownStrategy   = errors.New("unknown versioning strategy")
	errUnknownChannel    = errors.New("unknown release channel")
	errNegativeRetries   = errors.New("retries must not be negative")
	errInvalidListenAddr = errors.New("invalid listen address")
)

// DefaultPlatforms maps the reference image names to their asset path segments.
func DefaultPlatforms() map[string]string {
	return map[string]string{
		"debian-neon-image-rpi4": "rpi4",
		"debian-neon-image-opi5": "opi5",
	}
}

// Default returns a Config with every default resolved.
func Default() *Config {
	cfg := &Config{
		InitramfsURL: DefaultInitramfsURL,
		SquashfsURL:  DefaultSquashfsURL,
		Retries:      DefaultRetries,
	}

	// Defaults never fail validation.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := &Config{
		InitramfsURL: DefaultInitramfsURL,
		SquashfsURL:  DefaultSquashfsURL,
		Retries:      DefaultRetries,
	}
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the format of the provided settings.
// Empty remote locations are allowed here; the operations needing them
// report a configuration error when invoked.
//
//nolint:cyclop // A flat list of defaults reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.InitramfsPath == "" {
		cfg.InitramfsPath = DefaultInitramfsPath
	}

	if cfg.InitramfsUpdatePath == "" {
		cfg.InitramfsUpdatePath = DefaultInitramfsUpdatePath
	}

	if cfg.InitramfsService == "" {
		cfg.InitramfsService = DefaultInitramfsService
	}

	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}

	if cfg.SquashfsPath == "" {
		cfg.SquashfsPath = DefaultSquashfsPath
	}

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Dir(cfg.InitramfsUpdatePath)
	}

	if cfg.BuildInfoPath == "" {
		cfg.BuildInfoPath = DefaultBuildInfoPath
	}

	if cfg.Strategy == "" {
		cfg.Strategy = StrategyTimestamp
	}

	if cfg.ReleaseAPIURL == "" {
		cfg.ReleaseAPIURL = DefaultReleaseAPIURL
	}

	if cfg.ReleaseDownloadURL == "" {
		cfg.ReleaseDownloadURL = DefaultReleaseDownloadURL
	}

	if cfg.ReleaseChannel == "" {
		cfg.ReleaseChannel = ChannelStable
	}

	if len(cfg.Platforms) == 0 {
		cfg.Platforms = DefaultPlatforms()
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.MarkerPath == "" {
		cfg.MarkerPath = filepath.Join(os.TempDir(), DefaultMarkerFilename)
	}

	if cfg.MarkerLifetime <= 0 {
		cfg.MarkerLifetime = DefaultMarkerLifetime
	}

	return validateFormats(cfg)
}

func validateFormats(cfg *Config) error {
	switch cfg.Strategy {
	case StrategyTimestamp, StrategyRelease:
	default:
		return fmt.Errorf("%w: %s", errUnknownStrategy, cfg.Strategy)
	}

	switch cfg.ReleaseChannel {
	case ChannelStable, ChannelBeta:
	default:
		return fmt.Errorf("%w: %s", errUnknownChannel, cfg.ReleaseChannel)
	}

	if cfg.Retries < 0 {
		return errNegativeRetries
	}

	for name, location := range map[string]string{
		"initramfs_url":        cfg.InitramfsURL,
		"squashfs_url":         cfg.SquashfsURL,
		"release_api_url":      cfg.ReleaseAPIURL,
		"release_download_url": cfg.ReleaseDownloadURL,
	} {
		if location == "" {
			continue
		}

		if _, err := url.ParseRequestURI(location); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("%w: %w", errInvalidListenAddr, err)
	}

	if cfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	return nil
}
