package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "5d41402abc4b2a76b9719d911017c592"

func writeFile(t *testing.T, dir, name string, contents []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	return path
}

// TestFileDigest matches the well-known MD5 of "hello".
func TestFileDigest(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "hello", []byte("hello"))

	digest, err := FileDigest(path)
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)

	digest, err = ReaderDigest(strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)
}

// TestParseSidecar accepts md5sum output and rejects garbage.
func TestParseSidecar(t *testing.T) {
	t.Parallel()

	digest, err := ParseSidecar(strings.ToUpper(helloDigest) + "  initramfs\nsecond line\n")
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)

	digest, err = ParseSidecar(FormatSidecar(helloDigest, "initramfs"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)

	_, err = ParseSidecar("")
	require.Error(t, err)

	_, err = ParseSidecar("<html>not found</html>")
	require.Error(t, err)
}

// TestComparator_IdenticalAndSingleByteDifference covers both comparison modes.
func TestComparator_IdenticalAndSingleByteDifference(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := []byte("initramfs-payload-0123456789")

	local := writeFile(t, dir, "local", payload)
	same := writeFile(t, dir, "same", payload)

	changed := append([]byte(nil), payload...)
	changed[len(changed)/2] ^= 0x01
	different := writeFile(t, dir, "different", changed)

	c := NewComparator()

	ok, err := c.MatchesFile(local, same)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.MatchesFile(local, different)
	require.NoError(t, err)
	require.False(t, ok)

	sameDigest, err := FileDigest(same)
	require.NoError(t, err)

	ok, err = c.MatchesDigest(local, sameDigest)
	require.NoError(t, err)
	require.True(t, ok)

	differentDigest, err := FileDigest(different)
	require.NoError(t, err)

	ok, err = c.MatchesDigest(local, differentDigest)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestComparator_MissingFiles treats a missing local file as changed.
func TestComparator_MissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	candidate := writeFile(t, dir, "candidate", []byte("hello"))
	c := NewComparator()

	ok, err := c.MatchesDigest(filepath.Join(dir, "absent"), helloDigest)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.MatchesFile(filepath.Join(dir, "absent"), candidate)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = c.MatchesFile(candidate, filepath.Join(dir, "absent"))
	require.Error(t, err)
}
