package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/remote"
)

func newFetcher(opts ...Option) *Fetcher {
	return New(append([]Option{WithOpener(remote.New(remote.WithRetries(0)))}, opts...)...)
}

func artifactServer(t *testing.T, payload []byte, contentType string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(ts.Close)

	return ts, &hits
}

func TestDownload_StreamsAndRenames(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x5a, 0x00, 0xff}, 100_000)
	ts, _ := artifactServer(t, payload, "application/octet-stream")

	var calls, last atomic.Int64

	f := newFetcher(WithChunkSize(4096), WithProgress(func(written, total int64) {
		calls.Add(1)
		last.Store(written)
		require.Equal(t, int64(len(payload)), total)
	}))

	destination := filepath.Join(t.TempDir(), "nested", "image_2023-08-04_16_30.squashfs")

	outcome, err := f.Download(context.Background(), ts.URL+"/image_2023-08-04_16_30.squashfs", destination)
	require.NoError(t, err)
	require.False(t, outcome.Skipped)
	require.Equal(t, destination, outcome.Path)
	require.Equal(t, int64(len(payload)), outcome.Bytes)

	data, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	require.NoFileExists(t, destination+TempSuffix)
	require.Greater(t, calls.Load(), int64(1))
	require.Equal(t, int64(len(payload)), last.Load())
}

func TestDownload_SkipsExistingDestination(t *testing.T) {
	t.Parallel()

	ts, hits := artifactServer(t, []byte("new"), "application/octet-stream")
	destination := filepath.Join(t.TempDir(), "initramfs")
	require.NoError(t, os.WriteFile(destination, []byte("old"), 0o600))

	f := newFetcher()

	for i := 0; i < 2; i++ {
		outcome, err := f.Download(context.Background(), ts.URL+"/initramfs", destination)
		require.NoError(t, err)
		require.True(t, outcome.Skipped)
		require.Equal(t, destination, outcome.Path)
	}

	require.Zero(t, hits.Load())

	data, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
}

func TestDownload_RejectsListingPages(t *testing.T) {
	t.Parallel()

	page := []byte("<!DOCTYPE html><html><body><a href=\"a.squashfs\">a.squashfs</a></body></html>")

	cases := map[string]string{
		"declared html":  "text/html; charset=utf-8",
		"declared xhtml": "application/xhtml+xml",
		"sniffed html":   "application/octet-stream",
	}

	for name, contentType := range cases {
		name, contentType := name, contentType
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ts, _ := artifactServer(t, page, contentType)
			destination := filepath.Join(t.TempDir(), "initramfs")

			_, err := newFetcher().Download(context.Background(), ts.URL+"/initramfs", destination)
			require.ErrorIs(t, err, update.ErrInvalidContent)
			require.NoFileExists(t, destination)
			require.NoFileExists(t, destination+TempSuffix)
		})
	}
}

func TestDownload_RejectsDirectoryURL(t *testing.T) {
	t.Parallel()

	ts, hits := artifactServer(t, []byte("payload"), "application/octet-stream")
	destination := filepath.Join(t.TempDir(), "artifact")

	_, err := newFetcher().Download(context.Background(), ts.URL+"/updates/", destination)
	require.ErrorIs(t, err, update.ErrInvalidContent)
	require.Zero(t, hits.Load())
	require.NoFileExists(t, destination)
}

func TestDownload_AllowList(t *testing.T) {
	t.Parallel()

	ts, _ := artifactServer(t, []byte("payload"), "application/json")
	destination := filepath.Join(t.TempDir(), "artifact")

	f := newFetcher(WithAllowedContentTypes("application/octet-stream", "application/vnd.squashfs"))

	_, err := f.Download(context.Background(), ts.URL+"/artifact", destination)
	require.ErrorIs(t, err, update.ErrInvalidContent)
	require.NoFileExists(t, destination)

	ts, _ = artifactServer(t, []byte("payload"), "application/octet-stream")

	_, err = f.Download(context.Background(), ts.URL+"/artifact", destination)
	require.NoError(t, err)
	require.FileExists(t, destination)
}

func TestDownload_ErrorStatusLeavesNoFile(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	destination := filepath.Join(t.TempDir(), "artifact")

	_, err := newFetcher().Download(context.Background(), ts.URL+"/artifact", destination)
	require.ErrorIs(t, err, update.ErrNetwork)
	require.NoFileExists(t, destination)
	require.NoFileExists(t, destination+TempSuffix)
}

// TestDownload_TruncatedBodyLeavesNoFile drops the connection mid-body.
func TestDownload_TruncatedBodyLeavesNoFile(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 1000))

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		hijacker, ok := w.(http.Hijacker)
		if !ok {
			return
		}

		conn, _, err := hijacker.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer ts.Close()

	destination := filepath.Join(t.TempDir(), "artifact")

	_, err := newFetcher().Download(context.Background(), ts.URL+"/artifact", destination)
	require.ErrorIs(t, err, update.ErrNetwork)
	require.NoFileExists(t, destination)
	require.NoFileExists(t, destination+TempSuffix)
}

func TestDownload_CanceledContext(t *testing.T) {
	t.Parallel()

	ts, _ := artifactServer(t, []byte("payload"), "application/octet-stream")
	destination := filepath.Join(t.TempDir(), "artifact")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher().Download(ctx, ts.URL+"/artifact", destination)
	require.Error(t, err)
	require.NoFileExists(t, destination)
}
