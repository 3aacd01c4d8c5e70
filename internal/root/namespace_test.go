package root

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmountfs/internal/devfs"
	"vmountfs/internal/ramfs"
	"vmountfs/internal/vfs"
)

func setupNamespace(t *testing.T) *Namespace {
	t.Helper()
	ns := NewNamespace()
	require.NoError(t, ns.InitRootFS([]MountPoint{
		NewMountPoint("/", ramfs.New()),
		NewMountPoint("/dev", devfs.New()),
	}))
	t.Cleanup(func() { _ = ns.Close() })
	return ns
}

func TestInitRootFS(t *testing.T) {
	t.Run("requires a root mount first", func(t *testing.T) {
		ns := NewNamespace()
		err := ns.InitRootFS([]MountPoint{NewMountPoint("/dev", devfs.New())})
		assert.ErrorIs(t, err, vfs.ErrInvalidInput)
		assert.ErrorIs(t, ns.InitRootFS(nil), vfs.ErrInvalidInput)
	})

	t.Run("mounts the rest", func(t *testing.T) {
		ns := setupNamespace(t)
		assert.True(t, ns.RootDir().Contains(abs("/dev")))
		cwd, err := ns.CurrentDir()
		require.NoError(t, err)
		assert.True(t, cwd.IsRoot())
	})

	t.Run("duplicate mount fails", func(t *testing.T) {
		ns := NewNamespace()
		err := ns.InitRootFS([]MountPoint{
			NewMountPoint("/", ramfs.New()),
			NewMountPoint("/tmp", ramfs.New()),
			NewMountPoint("/tmp", ramfs.New()),
		})
		assert.ErrorIs(t, err, vfs.ErrAlreadyExists)
		assert.Nil(t, ns.RootDir())
	})

	t.Run("teardown errors are reported", func(t *testing.T) {
		errBusy := errors.New("busy")
		ns := NewNamespace()
		err := ns.InitRootFS([]MountPoint{
			NewMountPoint("/", ramfs.New()),
			NewMountPoint("/busy", failingFS{ramfs.New(), errBusy}),
			NewMountPoint("/busy", ramfs.New()),
		})
		assert.ErrorIs(t, err, vfs.ErrAlreadyExists)
		assert.ErrorIs(t, err, errBusy)
		assert.Nil(t, ns.RootDir())
	})
}

func TestSetCurrentDir(t *testing.T) {
	ns := setupNamespace(t)
	r := ns.RootDir()
	require.NoError(t, vfs.CreateRecursive(r, rel("home/user"), vfs.NodeTypeDir))
	require.NoError(t, r.Create(rel("home/file"), vfs.NodeTypeFile))
	require.NoError(t, r.Create(rel("locked"), vfs.NodeTypeDir))
	perm := vfs.NodePerm(0o600)
	locked, err := r.Lookup(rel("locked"))
	require.NoError(t, err)
	require.NoError(t, locked.SetAttr(vfs.SetAttrRequest{Perm: &perm}))

	require.NoError(t, ns.SetCurrentDir(abs("/home/user")))
	cwd, err := ns.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/home/user", cwd.String())

	assert.ErrorIs(t, ns.SetCurrentDir(abs("/home/file")), vfs.ErrNotADirectory)
	assert.ErrorIs(t, ns.SetCurrentDir(abs("/locked")), vfs.ErrPermissionDenied)
	assert.ErrorIs(t, ns.SetCurrentDir(abs("/missing")), vfs.ErrNotFound)

	// failures leave the working directory alone
	cwd, err = ns.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/home/user", cwd.String())
}

func TestAbsolutePath(t *testing.T) {
	ns := setupNamespace(t)
	require.NoError(t, vfs.CreateRecursive(ns.RootDir(), rel("home/user"), vfs.NodeTypeDir))
	require.NoError(t, ns.SetCurrentDir(abs("/home/user")))

	tests := []struct {
		raw  string
		want string
	}{
		{"/etc/passwd", "/etc/passwd"},
		{"notes.txt", "/home/user/notes.txt"},
		{"../other", "/home/other"},
		{"./a//b/", "/home/user/a/b"},
		{"../../../..", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ns.AbsolutePath(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := ns.AbsolutePath("")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	_, err = ns.AbsolutePath("bad\x00name")
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)
}

func TestParentNodeOf(t *testing.T) {
	ns := setupNamespace(t)
	r := ns.RootDir()
	require.NoError(t, vfs.CreateRecursive(r, rel("home/user"), vfs.NodeTypeDir))
	home, err := r.Lookup(rel("home"))
	require.NoError(t, err)

	assert.Same(t, r, ns.ParentNodeOf(home, "/abs"))
	assert.Same(t, home, ns.ParentNodeOf(home, "rel"))
	assert.Same(t, r, ns.ParentNodeOf(nil, "rel"))

	require.NoError(t, ns.SetCurrentDir(abs("/home/user")))
	user, err := r.Lookup(rel("home/user"))
	require.NoError(t, err)
	assert.Same(t, user, ns.ParentNodeOf(nil, "rel"))
}
