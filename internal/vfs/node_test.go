package vfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDir accepts every Create and records the calls. Paths listed in
// existing fail with ErrAlreadyExists; failAt fails with its error.
type recordingDir struct {
	UnimplementedNode
	calls    []string
	existing map[string]bool
	failAt   map[string]error
}

func (d *recordingDir) Create(path RelPath, ty NodeType) error {
	d.calls = append(d.calls, ty.String()+":"+path.String())
	if err, ok := d.failAt[path.String()]; ok {
		return err
	}
	if d.existing[path.String()] {
		return ErrAlreadyExists
	}
	return nil
}

type fastCreator struct {
	recordingDir
	got RelPath
}

func (d *fastCreator) CreateRecursive(path RelPath, _ NodeType) error {
	d.got = path
	return nil
}

func TestCreateRecursive(t *testing.T) {
	t.Run("creates prefixes then the final node", func(t *testing.T) {
		d := &recordingDir{}
		require.NoError(t, CreateRecursive(d, NewRelPath("a/b/c"), NodeTypeFile))
		assert.Equal(t, []string{"dir:a", "dir:a/b", "file:a/b/c"}, d.calls)
	})

	t.Run("tolerates existing prefixes", func(t *testing.T) {
		d := &recordingDir{existing: map[string]bool{"a": true, "a/b": true}}
		require.NoError(t, CreateRecursive(d, NewRelPath("a/b/c"), NodeTypeFile))
		assert.Len(t, d.calls, 3)
	})

	t.Run("final already exists surfaces unchanged", func(t *testing.T) {
		d := &recordingDir{existing: map[string]bool{"a": true, "a/b": true}}
		err := CreateRecursive(d, NewRelPath("a/b"), NodeTypeDir)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("other prefix failures abort", func(t *testing.T) {
		boom := errors.New("device error")
		d := &recordingDir{failAt: map[string]error{"a": boom}}
		err := CreateRecursive(d, NewRelPath("a/b/c"), NodeTypeFile)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"dir:a"}, d.calls)
	})

	t.Run("single component", func(t *testing.T) {
		d := &recordingDir{}
		require.NoError(t, CreateRecursive(d, NewRelPath("x"), NodeTypeDir))
		assert.Equal(t, []string{"dir:x"}, d.calls)
	})

	t.Run("uses the node's own implementation", func(t *testing.T) {
		d := &fastCreator{}
		require.NoError(t, CreateRecursive(d, NewRelPath("a/b"), NodeTypeDir))
		assert.Equal(t, "a/b", d.got.String())
		assert.Empty(t, d.calls)
	})
}

func TestUnimplementedNode(t *testing.T) {
	var n Node = UnimplementedNode{}

	assert.NoError(t, n.Open())
	assert.NoError(t, n.Release())
	assert.Nil(t, n.Parent())

	_, err := n.GetAttr()
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.ReadAt(0, make([]byte, 1))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.WriteAt(0, []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.Lookup(NewRelPath("a"))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.ReadDir(0, make([]DirEntry, 1))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, n.Create(NewRelPath("a"), NodeTypeFile), ErrUnsupported)
	assert.ErrorIs(t, n.Unlink(NewRelPath("a")), ErrUnsupported)
	assert.ErrorIs(t, n.Rename(NewRelPath("a"), NewRelPath("b")), ErrUnsupported)
	assert.ErrorIs(t, n.Truncate(0), ErrUnsupported)
	assert.ErrorIs(t, n.Fsync(), ErrUnsupported)
	assert.ErrorIs(t, n.SetAttr(SetAttrRequest{}), ErrUnsupported)

	var fs UnimplementedFileSystem
	assert.NoError(t, fs.Mount(RootPath(), nil))
	assert.NoError(t, fs.Umount())
	assert.ErrorIs(t, fs.Format(), ErrUnsupported)
}

func TestNodeAttr(t *testing.T) {
	file := NewFileAttr(1000, BlocksFor(1000))
	assert.True(t, file.IsFile())
	assert.Equal(t, uint64(2), file.Blocks)
	assert.Equal(t, uint32(0o100666), file.StatMode())
	assert.Equal(t, "rw-rw-rw-", file.Perm.String())

	dir := NewDirAttr(0, 0)
	assert.True(t, dir.IsDir())
	assert.Equal(t, uint32(0o040755), dir.StatMode())
	assert.True(t, dir.Perm.OwnerExecutable())
	assert.Equal(t, byte('d'), dir.Type.Char())

	dev := NewNodeAttr(0o666, NodeTypeCharDevice, 0, 0)
	assert.Equal(t, uint32(0o020666), dev.StatMode())
	assert.Equal(t, NodeTypeCharDevice, NodeTypeFromFileMode(dev.FileMode()))
	assert.Equal(t, NodeTypeDir, NodeTypeFromFileMode(dir.FileMode()))
	assert.Equal(t, NodeTypeFile, NodeTypeFromFileMode(file.FileMode()))
}

func TestErrorWrapping(t *testing.T) {
	err := NewFSError(OpLookup, "/a", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "operation lookup on /a failed: path not found", err.Error())

	// re-wrapping with the same context is a no-op
	assert.Same(t, err, NewFSError(OpLookup, "/a", err))

	noPath := NewFSError(OpMount, "", ErrInvalidInput)
	assert.Equal(t, "operation mount failed: invalid input", noPath.Error())
}
