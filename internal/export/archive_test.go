package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "screenshots"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "recordings", "r1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storage, "screenshots", "shot.png"), []byte("pngdata"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(storage, "recordings", "r1", "frame_0.jpg"), []byte("jpgdata"), 0o644))
	// events.db must not be packaged.
	require.NoError(t, os.WriteFile(filepath.Join(storage, "events.db"), []byte("sqlite"), 0o644))

	archive := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, ArchiveSession(storage, archive))

	target := t.TempDir()
	require.NoError(t, Extract(archive, target))

	data, err := os.ReadFile(filepath.Join(target, "screenshots", "shot.png"))
	require.NoError(t, err)
	require.Equal(t, "pngdata", string(data))

	data, err = os.ReadFile(filepath.Join(target, "recordings", "r1", "frame_0.jpg"))
	require.NoError(t, err)
	require.Equal(t, "jpgdata", string(data))

	_, err = os.Stat(filepath.Join(target, "events.db"))
	require.True(t, os.IsNotExist(err))
}

func TestArchiveMissingDirectoriesSkipped(t *testing.T) {
	storage := t.TempDir()
	archive := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, ArchiveSession(storage, archive))
	require.NoError(t, Extract(archive, t.TempDir()))
}
