package organize

import (
	"os"
	"path/filepath"
	"testing"

	"downsort/internal/errors"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/old.zip", []byte("zip"), 0o644))
	require.NoError(t, fs.MkdirAll("/in/folder", 0o755))
	d := NewDeleter(fs)

	require.NoError(t, d.Delete("/in/old.zip"))
	exists, err := afero.Exists(fs, "/in/old.zip")
	require.NoError(t, err)
	assert.False(t, exists)

	err = d.Delete("/in/old.zip")
	require.Error(t, err)
	assert.True(t, errors.IsFileNotFound(err))

	err = d.Delete("/in/folder")
	require.Error(t, err)
	assert.Equal(t, errors.InvalidOperation, errors.KindOf(err))
}

func TestDeletePermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o755))
	target := filepath.Join(locked, "keep.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	err := NewDeleter(afero.NewOsFs()).Delete(target)
	require.Error(t, err)
	assert.True(t, errors.IsFileAccessDenied(err))

	_, err = os.Stat(target)
	assert.NoError(t, err)
}
