package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFilePreservesMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755))

	dst := filepath.Join(dir, "nested", "dst.sh")
	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))
}

func TestCopyDirRecreatesSymlinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "modules")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "kernel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "kernel", "mod.ko"), []byte("ko"), 0o644))
	require.NoError(t, os.Symlink("/usr/src/linux", filepath.Join(src, "build")))

	dst := filepath.Join(dir, "staged")
	require.NoError(t, CopyDir(src, dst))

	assert.FileExists(t, filepath.Join(dst, "kernel", "mod.ko"))
	target, err := os.Readlink(filepath.Join(dst, "build"))
	require.NoError(t, err, "symlink must be recreated, not followed")
	assert.Equal(t, "/usr/src/linux", target)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, Exists(dir))
	assert.False(t, Exists(filepath.Join(dir, "absent")))
}
