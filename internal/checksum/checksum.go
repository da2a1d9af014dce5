package checksum

import (
	"bufio"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Ensure MD5 is linked in for crypto.MD5.New.
	_ "crypto/md5"
)

// DefaultFunction fingerprints artifacts and matches the publisher's sidecar files.
const DefaultFunction crypto.Hash = crypto.MD5

// SidecarExtension is appended to an artifact URL to locate its published digest.
const SidecarExtension = ".md5"

var (
	errHashUnavailable = errors.New("hash function unavailable")
	errEmptySidecar    = errors.New("sidecar digest is empty")
	errMalformedDigest = errors.New("malformed digest")
)

// ReaderDigest consumes r and returns its hex digest.
func ReaderDigest(r io.Reader) (string, error) {
	if !DefaultFunction.Available() {
		return "", errHashUnavailable
	}

	hasher := DefaultFunction.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// FileDigest streams the file at path and returns its hex digest.
func FileDigest(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	return ReaderDigest(bufio.NewReader(file))
}

// ParseSidecar extracts the digest from sidecar contents in md5sum format:
// the first field of the first line.
func ParseSidecar(contents string) (string, error) {
	line, _, _ := strings.Cut(contents, "\n")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", errEmptySidecar
	}

	digest := strings.ToLower(fields[0])
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != hex.EncodedLen(DefaultFunction.Size()) {
		return "", fmt.Errorf("%w: %q", errMalformedDigest, fields[0])
	}

	return digest, nil
}

// FormatSidecar renders a sidecar file body for the named artifact.
func FormatSidecar(digest, name string) string {
	return digest + "  " + name + "\n"
}
