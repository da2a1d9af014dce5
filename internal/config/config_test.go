package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate_Defaults checks that every option gets its default.
func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := new(Config)
	require.NoError(t, Validate(cfg))

	require.Equal(t, DefaultInitramfsPath, cfg.InitramfsPath)
	require.Equal(t, DefaultInitramfsUpdatePath, cfg.InitramfsUpdatePath)
	require.Equal(t, "/opt/neon", cfg.DownloadDir)
	require.Equal(t, DefaultApplyTimeout, cfg.ApplyTimeout)
	require.Equal(t, StrategyTimestamp, cfg.Strategy)
	require.Equal(t, ChannelStable, cfg.ReleaseChannel)
	require.Equal(t, "rpi4", cfg.Platforms["debian-neon-image-rpi4"])
	require.Empty(t, cfg.InitramfsURL)
}

// TestValidate_Rejects covers malformed values.
func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
	require.Error(t, Validate(&Config{Strategy: "semver"}))
	require.Error(t, Validate(&Config{ReleaseChannel: "nightly"}))
	require.Error(t, Validate(&Config{Retries: -1}))
	require.Error(t, Validate(&Config{SquashfsURL: "not a url"}))
	require.Error(t, Validate(&Config{ListenAddress: "no-port"}))
	require.Error(t, Validate(&Config{MetricsAddress: "no-port"}))
}

// TestLoad_MissingFileYieldsDefaults ensures a device without settings still runs.
func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultInitramfsURL, cfg.InitramfsURL)
	require.Equal(t, DefaultSquashfsURL, cfg.SquashfsURL)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		InitramfsURL:   "https://updates.local/initramfs",
		SquashfsURL:    "https://updates.local/squashfs/",
		Strategy:       StrategyRelease,
		ReleaseChannel: ChannelBeta,
		ApplyTimeout:   45 * time.Second,
		Retries:        3,
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.InitramfsURL, loaded.InitramfsURL)
	require.Equal(t, cfg.SquashfsURL, loaded.SquashfsURL)
	require.Equal(t, StrategyRelease, loaded.Strategy)
	require.Equal(t, ChannelBeta, loaded.ReleaseChannel)
	require.Equal(t, 45*time.Second, loaded.ApplyTimeout)
	require.Equal(t, 3, loaded.Retries)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_ExplicitEmptyURL keeps an explicitly cleared location empty.
func TestLoad_ExplicitEmptyURL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("initramfs_url: \"\"\n"), DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, cfg.InitramfsURL)
	require.Equal(t, DefaultSquashfsURL, cfg.SquashfsURL)
}
