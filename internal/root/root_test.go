package root

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"vmountfs/internal/devfs"
	"vmountfs/internal/ramfs"
	"vmountfs/internal/vfs"
)

func abs(p string) vfs.AbsPath { return vfs.NewAbsPath(p) }
func rel(p string) vfs.RelPath { return vfs.NewRelPath(p) }

// failingFS refuses to unmount.
type failingFS struct {
	*ramfs.FileSystem
	err error
}

func (f failingFS) Umount() error { return f.err }

func setupRoot(t *testing.T) (*RootDirectory, *ramfs.FileSystem, *devfs.FileSystem, *ramfs.FileSystem) {
	t.Helper()
	mainFS, dev, tmp := ramfs.New(), devfs.New(), ramfs.New()
	r := NewRootDirectory(mainFS)
	require.NoError(t, r.Mount(abs("/dev"), dev))
	require.NoError(t, r.Mount(abs("/tmp"), tmp))
	require.NoError(t, vfs.CreateRecursive(mainFS.RootDir(), rel("etc/passwd"), vfs.NodeTypeFile))
	return r, mainFS, dev, tmp
}

func TestLongestPrefixDispatch(t *testing.T) {
	r, mainFS, dev, tmp := setupRoot(t)

	t.Run("device path goes to devfs", func(t *testing.T) {
		n, err := r.Lookup(rel("dev/null"))
		require.NoError(t, err)
		assert.Equal(t, devfs.NullDev{}, n)
		assert.Equal(t, vfs.FileSystem(dev), r.FileSystemAt(abs("/dev/null")))
	})

	t.Run("other paths go to main", func(t *testing.T) {
		n, err := r.Lookup(rel("etc/passwd"))
		require.NoError(t, err)
		want, err := mainFS.RootDir().Lookup(rel("etc/passwd"))
		require.NoError(t, err)
		assert.Same(t, want, n)
		assert.Equal(t, vfs.FileSystem(mainFS), r.FileSystemAt(abs("/etc/passwd")))
	})

	t.Run("component boundary", func(t *testing.T) {
		assert.Equal(t, vfs.FileSystem(mainFS), r.FileSystemAt(abs("/devices")))
		_, err := r.Lookup(rel("devices"))
		assert.ErrorIs(t, err, vfs.ErrNotFound)
	})

	t.Run("mount point resolves to mounted root", func(t *testing.T) {
		n, err := r.Lookup(rel("tmp"))
		require.NoError(t, err)
		assert.Same(t, tmp.RootDir(), n)
	})

	t.Run("nested mount wins", func(t *testing.T) {
		inner := ramfs.New()
		require.NoError(t, r.Mount(abs("/tmp/inner"), inner))
		assert.Equal(t, vfs.FileSystem(inner), r.FileSystemAt(abs("/tmp/inner/x")))
		assert.Equal(t, vfs.FileSystem(tmp), r.FileSystemAt(abs("/tmp/other")))

		// the mount directory was created inside /tmp, not the main fs
		_, err := tmp.RootDir().Lookup(rel("inner"))
		assert.NoError(t, err)

		assert.ErrorIs(t, r.Unmount(abs("/tmp")), vfs.ErrPermissionDenied)
		require.NoError(t, r.Unmount(abs("/tmp/inner")))
	})
}

func TestMount(t *testing.T) {
	r, _, _, _ := setupRoot(t)

	assert.ErrorIs(t, r.Mount(abs("/"), ramfs.New()), vfs.ErrInvalidInput)
	assert.ErrorIs(t, r.Mount(abs("/tmp"), ramfs.New()), vfs.ErrAlreadyExists)
	assert.ErrorIs(t, r.Mount(abs("/etc/passwd"), ramfs.New()), vfs.ErrNotADirectory)

	require.NoError(t, r.Mount(abs("/mnt/data"), ramfs.New()))
	assert.True(t, r.Contains(abs("/mnt/data")))
	assert.False(t, r.Contains(abs("/mnt")))
	assert.Len(t, r.MountPoints(), 3)

	// the mount directory shows up in the main listing
	var names []string
	buf := make([]vfs.DirEntry, 8)
	n, err := r.ReadDir(0, buf)
	require.NoError(t, err)
	for _, e := range buf[:n] {
		names = append(names, e.Name)
	}
	assert.Subset(t, names, []string{"dev", "etc", "mnt", "tmp"})

	require.NoError(t, r.Unmount(abs("/mnt/data")))
	assert.False(t, r.Contains(abs("/mnt/data")))
	assert.ErrorIs(t, r.Unmount(abs("/mnt/data")), vfs.ErrNotFound)
}

func TestCreateUnlink(t *testing.T) {
	r, _, _, tmp := setupRoot(t)

	require.NoError(t, r.Create(rel("tmp/file"), vfs.NodeTypeFile))
	_, err := tmp.RootDir().Lookup(rel("file"))
	require.NoError(t, err)

	// the mount directory already exists
	assert.NoError(t, r.Create(rel("tmp"), vfs.NodeTypeDir))

	assert.ErrorIs(t, r.Create(rel("dev/new"), vfs.NodeTypeFile), vfs.ErrPermissionDenied)

	assert.ErrorIs(t, r.Unlink(rel("tmp")), vfs.ErrPermissionDenied)
	assert.ErrorIs(t, r.Unlink(rel("dev")), vfs.ErrPermissionDenied)
	require.NoError(t, r.Unlink(rel("tmp/file")))
	assert.ErrorIs(t, r.Unlink(rel("tmp/file")), vfs.ErrNotFound)
}

func TestCreateRecursiveAcrossMounts(t *testing.T) {
	r, mainFS, _, tmp := setupRoot(t)

	require.NoError(t, vfs.CreateRecursive(r, rel("tmp/a/b/c"), vfs.NodeTypeFile))
	_, err := tmp.RootDir().Lookup(rel("a/b/c"))
	require.NoError(t, err)

	require.NoError(t, vfs.CreateRecursive(r, rel("x/y"), vfs.NodeTypeDir))
	_, err = mainFS.RootDir().Lookup(rel("x/y"))
	require.NoError(t, err)

	err = vfs.CreateRecursive(r, rel("tmp/a/b/c"), vfs.NodeTypeFile)
	assert.ErrorIs(t, err, vfs.ErrAlreadyExists)
}

func TestRename(t *testing.T) {
	r, _, _, tmp := setupRoot(t)
	require.NoError(t, r.Create(rel("tmp/a"), vfs.NodeTypeFile))
	node, err := r.Lookup(rel("tmp/a"))
	require.NoError(t, err)

	t.Run("within a mount", func(t *testing.T) {
		require.NoError(t, r.Rename(rel("tmp/a"), rel("tmp/b")))
		n, err := tmp.RootDir().Lookup(rel("b"))
		require.NoError(t, err)
		assert.Same(t, node, n)
	})

	t.Run("across mounts", func(t *testing.T) {
		err := r.Rename(rel("tmp/b"), rel("etc/b"))
		assert.ErrorIs(t, err, vfs.ErrCrossDevice)

		// nothing moved
		_, err = r.Lookup(rel("tmp/b"))
		assert.NoError(t, err)
		_, err = r.Lookup(rel("etc/b"))
		assert.ErrorIs(t, err, vfs.ErrNotFound)
	})

	t.Run("mount points", func(t *testing.T) {
		assert.ErrorIs(t, r.Rename(rel("tmp"), rel("tmp2")), vfs.ErrPermissionDenied)
		assert.ErrorIs(t, r.Rename(rel("etc"), rel("dev")), vfs.ErrPermissionDenied)
	})

	t.Run("directory holding a mount", func(t *testing.T) {
		require.NoError(t, r.Mount(abs("/mnt/usb"), ramfs.New()))
		assert.ErrorIs(t, r.Rename(rel("mnt"), rel("media")), vfs.ErrPermissionDenied)
	})
}

func TestClose(t *testing.T) {
	errA, errB := errors.New("a busy"), errors.New("b busy")
	r := NewRootDirectory(ramfs.New())
	require.NoError(t, r.Mount(abs("/a"), failingFS{ramfs.New(), errA}))
	require.NoError(t, r.Mount(abs("/b"), failingFS{ramfs.New(), errB}))
	require.NoError(t, r.Mount(abs("/c"), ramfs.New()))

	err := r.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Empty(t, r.MountPoints())
}
