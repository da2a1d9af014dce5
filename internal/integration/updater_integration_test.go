package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/service/packager"
	"github.com/oshokin/device-updater/internal/service/server"
	"github.com/oshokin/device-updater/internal/service/updater"
)

const platform = "debian-neon-image-rpi4"

// publish packages an image and an initramfs and serves the folder the way
// a plain file server lists it.
func publish(t *testing.T, initramfs []byte) string {
	t.Helper()

	source := t.TempDir()
	output := t.TempDir()

	image := filepath.Join(source, "rootfs.squashfs")
	require.NoError(t, os.WriteFile(image, []byte("image 16:30"), 0o600))

	initramfsPath := filepath.Join(source, "initramfs")
	require.NoError(t, os.WriteFile(initramfsPath, initramfs, 0o600))

	_, err := packager.Run(context.Background(), &packager.Options{
		Artifacts: []string{image, initramfsPath},
		OutputDir: output,
		Platform:  platform,
		BuildTime: "2023-08-04_16_30",
	})
	require.NoError(t, err)

	files := httptest.NewServer(http.StripPrefix("/updates/", http.FileServer(http.Dir(output))))
	t.Cleanup(files.Close)

	return files.URL + "/updates/"
}

// writeConfig prepares a device with an older image and the given initramfs.
func writeConfig(t *testing.T, updatesURL string, initramfs []byte) (string, *config.Config) {
	t.Helper()

	device := t.TempDir()

	settings := &config.Config{
		InitramfsURL:        updatesURL + "initramfs",
		InitramfsPath:       filepath.Join(device, "boot", "initramfs"),
		InitramfsUpdatePath: filepath.Join(device, "opt", "initramfs"),
		SquashfsURL:         updatesURL,
		SquashfsPath:        filepath.Join(device, "opt", "update.squashfs"),
		BuildInfoPath:       filepath.Join(device, "opt", "build_info.json"),
		MarkerPath:          filepath.Join(device, "device-updater.marker"),
		ListenAddress:       reservePort(t),
		LogLevel:            "error",
		HTTPTimeout:         5 * time.Second,
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(settings.InitramfsPath), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(settings.BuildInfoPath), 0o755))
	require.NoError(t, os.WriteFile(settings.InitramfsPath, initramfs, 0o600))
	require.NoError(t, os.WriteFile(settings.BuildInfoPath,
		[]byte(`{"base_os":{"name":"`+platform+`","time":"2023-08-04_10_30"}}`), 0o600))

	path := filepath.Join(device, "device-updater.yaml")
	require.NoError(t, config.Save(path, settings))

	return path, settings
}

func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

func runCLI(t *testing.T, opts *updater.Options) map[string]any {
	t.Helper()

	var output bytes.Buffer

	opts.Output = &output
	require.NoError(t, updater.Run(context.Background(), opts))

	var result map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &result))

	return result
}

// TestCLI_InProcess checks and stages a packaged image without a daemon.
func TestCLI_InProcess(t *testing.T) {
	initramfs := []byte("initramfs")
	configPath, settings := writeConfig(t, publish(t, initramfs), initramfs)

	result := runCLI(t, &updater.Options{
		ConfigPath: configPath,
		Action:     updater.ActionCheck,
		Component:  updater.ComponentInitramfs,
	})
	require.Equal(t, map[string]any{"available": false}, result)

	result = runCLI(t, &updater.Options{
		ConfigPath: configPath,
		Action:     updater.ActionCheck,
		Component:  updater.ComponentSquashfs,
	})
	require.Equal(t, map[string]any{"available": true}, result)

	result = runCLI(t, &updater.Options{
		ConfigPath: configPath,
		Action:     updater.ActionUpdate,
		Component:  updater.ComponentSquashfs,
	})
	require.Equal(t, map[string]any{"new_version": "2023-08-04_16_30"}, result)

	staged, err := os.ReadFile(settings.SquashfsPath)
	require.NoError(t, err)
	require.Equal(t, "image 16:30", string(staged))
	require.NoFileExists(t, settings.MarkerPath)
}

// TestCLI_ThroughDaemon sends the same requests to a running daemon.
func TestCLI_ThroughDaemon(t *testing.T) {
	initramfs := []byte("initramfs")
	configPath, settings := writeConfig(t, publish(t, []byte("newer initramfs")), initramfs)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)

	go func() {
		stopped <- server.Run(ctx, &server.Options{ConfigPath: configPath})
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-stopped:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", settings.ListenAddress, 100*time.Millisecond)
		if err != nil {
			return false
		}

		_ = conn.Close()

		return true
	}, 5*time.Second, 50*time.Millisecond)

	result := runCLI(t, &updater.Options{
		ConfigPath:    configPath,
		ServerAddress: settings.ListenAddress,
		Action:        updater.ActionCheck,
		Component:     updater.ComponentInitramfs,
	})
	require.Equal(t, map[string]any{"available": true}, result)

	result = runCLI(t, &updater.Options{
		ConfigPath:    configPath,
		ServerAddress: settings.ListenAddress,
		Action:        updater.ActionUpdate,
		Component:     updater.ComponentSquashfs,
	})
	require.Equal(t, map[string]any{"new_version": "2023-08-04_16_30"}, result)
	require.FileExists(t, settings.SquashfsPath)
}
