package applier

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/device-updater/internal/domain/update"
)

func TestStager_Stage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "debian-neon-image-rpi4_2023-08-04_16_30.squashfs")
	target := filepath.Join(dir, "update.squashfs")

	payload := bytes.Repeat([]byte("squashfs"), 10_000)
	require.NoError(t, os.WriteFile(source, payload, 0o600))
	require.NoError(t, os.WriteFile(target, []byte("previous image"), 0o600))

	stager := NewStager(target)
	require.Equal(t, target, stager.Target())
	require.NoError(t, stager.Stage(context.Background(), source))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.NoFileExists(t, target+StageSuffix)
	require.FileExists(t, source)
}

func TestStager_MissingSourceKeepsTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "update.squashfs")
	require.NoError(t, os.WriteFile(target, []byte("previous image"), 0o600))

	err := NewStager(target).Stage(context.Background(), filepath.Join(dir, "missing.squashfs"))
	require.ErrorIs(t, err, update.ErrFilesystem)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "previous image", string(data))
	require.NoFileExists(t, target+StageSuffix)
}

func TestStager_UnwritableTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "image.squashfs")
	require.NoError(t, os.WriteFile(source, []byte("image"), 0o600))

	err := NewStager(filepath.Join(dir, "missing-dir", "update.squashfs")).Stage(context.Background(), source)
	require.ErrorIs(t, err, update.ErrFilesystem)
}

func TestCopyFile_ReadFailureIsFilesystemError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	destination := filepath.Join(dir, "update.squashfs"+StageSuffix)

	_, err := copyFile(dir, destination, DefaultImageMode)
	require.ErrorIs(t, err, update.ErrFilesystem)
	require.ErrorContains(t, err, "is a directory")
}
