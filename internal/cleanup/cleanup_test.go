package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepPartials(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3.part"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.part"), 0o755))

	n, err := SweepPartials(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, filepath.Join(dir, "a.mp3.part"))
	assert.FileExists(t, filepath.Join(dir, "b.mp3"))
	assert.DirExists(t, filepath.Join(dir, "sub.part"))
}

func TestSweepPartials_MissingDir(t *testing.T) {
	n, err := SweepPartials(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemovePartial(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "song.mp3")
	part := PartialPath(dest)

	assert.Equal(t, dest+".part", part)
	require.NoError(t, os.WriteFile(part, []byte("x"), 0o644))

	require.NoError(t, RemovePartial(context.Background(), part))
	assert.NoFileExists(t, part)

	assert.NoError(t, RemovePartial(context.Background(), part), "missing file is fine")
}
