package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/remote"
)

const (
	// DefaultChunkSize is the size of a single streamed write.
	DefaultChunkSize = 32 << 10
	// TempSuffix is appended to the destination while a download is in progress.
	TempSuffix = ".download"

	sniffSize = 512
	dirMode   = 0o755
	fileMode  = 0o644
)

// listingTypes are media types of pages rather than artifacts.
//
//nolint:gochecknoglobals // Read-only lookup table.
var listingTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

// Opener opens artifact streams.
type Opener interface {
	Open(ctx context.Context, rawURL string, opts ...remote.RequestOption) (*http.Response, error)
}

// ProgressFunc receives the number of bytes written so far and the expected
// total, or -1 when the server did not send a length.
type ProgressFunc func(written, total int64)

// Fetcher downloads artifacts.
type Fetcher struct {
	opener       Opener
	chunkSize    int
	allowedTypes map[string]struct{}
	progress     ProgressFunc
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithOpener replaces the transport.
func WithOpener(opener Opener) Option {
	return func(f *Fetcher) {
		if opener != nil {
			f.opener = opener
		}
	}
}

// WithChunkSize changes the size of a streamed write.
func WithChunkSize(size int) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.chunkSize = size
		}
	}
}

// WithAllowedContentTypes restricts downloads to the given media types.
func WithAllowedContentTypes(types ...string) Option {
	return func(f *Fetcher) {
		f.allowedTypes = make(map[string]struct{}, len(types))
		for _, value := range types {
			f.allowedTypes[strings.ToLower(value)] = struct{}{}
		}
	}
}

// WithProgress reports progress after every chunk.
func WithProgress(progress ProgressFunc) Option {
	return func(f *Fetcher) {
		f.progress = progress
	}
}

// New creates a fetcher using the default remote client unless WithOpener is set.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		chunkSize: DefaultChunkSize,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.opener == nil {
		f.opener = remote.New()
	}

	return f
}

// Download fetches rawURL into destination. An existing destination is
// returned as is without any network access.
func (f *Fetcher) Download(ctx context.Context, rawURL, destination string) (update.DownloadOutcome, error) {
	destination = filepath.Clean(destination)

	if _, err := os.Stat(destination); err == nil {
		logger.InfoKV(ctx, "Artifact already downloaded", "path", destination)

		return update.DownloadOutcome{Path: destination, Skipped: true}, nil
	}

	if err := checkURL(rawURL); err != nil {
		return update.DownloadOutcome{}, err
	}

	response, err := f.opener.Open(ctx, rawURL)
	if err != nil {
		return update.DownloadOutcome{}, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	head := make([]byte, sniffSize)

	n, err := io.ReadFull(response.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return update.DownloadOutcome{}, fmt.Errorf("read %s: %w: %w", rawURL, update.ErrNetwork, err)
	}

	head = head[:n]

	if err = f.checkContentType(response.Header.Get("Content-Type"), head); err != nil {
		return update.DownloadOutcome{}, fmt.Errorf("%s: %w", rawURL, err)
	}

	logger.InfoKV(ctx, "Downloading artifact", "url", rawURL, "path", destination, "size", response.ContentLength)

	written, err := f.store(ctx, io.MultiReader(bytes.NewReader(head), response.Body), destination, response.ContentLength)
	if err != nil {
		return update.DownloadOutcome{}, err
	}

	logger.InfoKV(ctx, "Artifact downloaded", "path", destination, "bytes", written)

	return update.DownloadOutcome{Path: destination, Bytes: written}, nil
}

// store streams body into a temporary sibling of destination and renames it
// into place. Any failure removes the temporary file.
func (f *Fetcher) store(ctx context.Context, body io.Reader, destination string, total int64) (written int64, err error) {
	if err = os.MkdirAll(filepath.Dir(destination), dirMode); err != nil {
		return 0, fmt.Errorf("create download directory: %w: %w", update.ErrFilesystem, err)
	}

	temporary := destination + TempSuffix

	//nolint:gosec // Destination is chosen by the operator configuration.
	file, err := os.OpenFile(temporary, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w: %w", temporary, update.ErrFilesystem, err)
	}

	defer func() {
		if err == nil {
			return
		}

		var result *multierror.Error

		result = multierror.Append(result, err)

		if closeErr := file.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			result = multierror.Append(result, closeErr)
		}

		if removeErr := os.Remove(temporary); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", temporary, removeErr))
		}

		err = result.ErrorOrNil()
	}()

	written, err = f.copy(ctx, file, body, total)
	if err != nil {
		return written, err
	}

	if err = file.Sync(); err != nil {
		return written, fmt.Errorf("sync %s: %w: %w", temporary, update.ErrFilesystem, err)
	}

	if err = file.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w: %w", temporary, update.ErrFilesystem, err)
	}

	if err = os.Rename(temporary, destination); err != nil {
		return written, fmt.Errorf("rename %s: %w: %w", temporary, update.ErrFilesystem, err)
	}

	return written, nil
}

func (f *Fetcher) copy(ctx context.Context, dst io.Writer, src io.Reader, total int64) (int64, error) {
	buffer := make([]byte, f.chunkSize)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("download interrupted: %w: %w", update.ErrNetwork, err)
		}

		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, err := dst.Write(buffer[:n]); err != nil {
				return written, fmt.Errorf("write: %w: %w", update.ErrFilesystem, err)
			}

			written += int64(n)

			if f.progress != nil {
				f.progress(written, total)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return written, fmt.Errorf("read: %w: %w", update.ErrNetwork, readErr)
		}
	}

	if total > 0 && written != total {
		return written, fmt.Errorf("%w: got %d of %d bytes", update.ErrNetwork, written, total)
	}

	return written, nil
}

// checkContentType rejects listing pages and, when an allow-list is set,
// every other type not on it. Without a header the type is sniffed.
func (f *Fetcher) checkContentType(header string, head []byte) error {
	mediaType := ""

	if header != "" {
		parsed, _, err := mime.ParseMediaType(header)
		if err == nil {
			mediaType = strings.ToLower(parsed)
		}
	}

	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(head))

	if _, ok := listingTypes[mediaType]; ok {
		return fmt.Errorf("%w: %s", update.ErrInvalidContent, mediaType)
	}

	if _, ok := listingTypes[sniffed]; ok {
		return fmt.Errorf("%w: body looks like %s", update.ErrInvalidContent, sniffed)
	}

	if len(f.allowedTypes) == 0 {
		return nil
	}

	if mediaType == "" {
		mediaType = sniffed
	}

	if _, ok := f.allowedTypes[mediaType]; !ok {
		return fmt.Errorf("%w: %s is not allowed", update.ErrInvalidContent, mediaType)
	}

	return nil
}

// checkURL rejects addresses that name a directory.
func checkURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", update.ErrMissingURL, rawURL, err)
	}

	if parsed.Path == "" || strings.HasSuffix(parsed.Path, "/") {
		return fmt.Errorf("%w: %s names a directory", update.ErrInvalidContent, rawURL)
	}

	return nil
}
