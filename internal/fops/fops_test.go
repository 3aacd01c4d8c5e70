package fops

import (
	"errors"
	"io"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"vmountfs/internal/capability"
	"vmountfs/internal/ramfs"
	"vmountfs/internal/vfs"
)

// spyNode counts the calls that reach it.
type spyNode struct {
	vfs.UnimplementedNode
	attr       vfs.NodeAttr
	opens      int
	releases   int
	writes     int
	reads      int
	releaseErr error
}

func (s *spyNode) Open() error                    { s.opens++; return nil }
func (s *spyNode) Release() error                 { s.releases++; return s.releaseErr }
func (s *spyNode) GetAttr() (vfs.NodeAttr, error) { return s.attr, nil }

func (s *spyNode) ReadAt(uint64, []byte) (int, error) {
	s.reads++
	return 0, nil
}

func (s *spyNode) WriteAt(_ uint64, buf []byte) (int, error) {
	s.writes++
	return len(buf), nil
}

func newSpy(perm vfs.NodePerm) *spyNode {
	return &spyNode{attr: vfs.NewNodeAttr(perm, vfs.NodeTypeFile, 0, 0)}
}

func newRamFile(t *testing.T, content string) vfs.Node {
	t.Helper()
	root := ramfs.New().RootDir()
	require.NoError(t, root.Create(vfs.NewRelPath("f"), vfs.NodeTypeFile))
	n, err := root.Lookup(vfs.NewRelPath("f"))
	require.NoError(t, err)
	if content != "" {
		_, err = n.WriteAt(0, []byte(content))
		require.NoError(t, err)
	}
	return n
}

func readContent(t *testing.T, n vfs.Node) string {
	t.Helper()
	attr, err := n.GetAttr()
	require.NoError(t, err)
	buf := make([]byte, attr.Size)
	read, err := n.ReadAt(0, buf)
	require.NoError(t, err)
	return string(buf[:read])
}

var path = vfs.NewAbsPath("/f")

func TestOpenOptionsIsValid(t *testing.T) {
	tests := []struct {
		name string
		opts OpenOptions
		want bool
	}{
		{"nothing", OpenOptions{}, false},
		{"create only", OpenOptions{Create: true}, false},
		{"read", OpenOptions{Read: true}, true},
		{"read truncate", OpenOptions{Read: true, Truncate: true}, false},
		{"read create", OpenOptions{Read: true, Create: true}, false},
		{"read create new", OpenOptions{Read: true, CreateNew: true}, false},
		{"read cloexec", OpenOptions{Read: true, CloseOnExec: true}, true},
		{"write", OpenOptions{Write: true}, true},
		{"write truncate create", OpenOptions{Write: true, Truncate: true, Create: true}, true},
		{"write create new", OpenOptions{Write: true, CreateNew: true}, true},
		{"append", OpenOptions{Append: true}, true},
		{"append create", OpenOptions{Append: true, Create: true}, true},
		{"append truncate", OpenOptions{Append: true, Truncate: true}, false},
		{"append truncate create new", OpenOptions{Append: true, Truncate: true, CreateNew: true}, true},
		{"write append truncate", OpenOptions{Write: true, Append: true, Truncate: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.IsValid())
		})
	}
}

func TestOpenOptionsCap(t *testing.T) {
	assert.Equal(t, capability.Read, OpenOptions{Read: true}.Cap())
	assert.Equal(t, capability.Write, OpenOptions{Append: true}.Cap())
	assert.Equal(t, capability.Read|capability.Write, OpenOptions{Read: true, Write: true}.Cap())
}

func TestOptionsFromFlags(t *testing.T) {
	assert.Equal(t, OpenOptions{Read: true}, OptionsFromFlags(os.O_RDONLY))
	assert.Equal(t, OpenOptions{Write: true, Create: true, Truncate: true},
		OptionsFromFlags(os.O_WRONLY|os.O_CREATE|os.O_TRUNC))
	assert.Equal(t, OpenOptions{Read: true, Write: true, Create: true, CreateNew: true},
		OptionsFromFlags(os.O_RDWR|os.O_CREATE|os.O_EXCL))
	assert.Equal(t, OpenOptions{Write: true, Append: true, CloseOnExec: true},
		OptionsFromFlags(os.O_WRONLY|os.O_APPEND|unix.O_CLOEXEC))
}

func TestOpenTypeChecks(t *testing.T) {
	root := ramfs.New().RootDir()
	require.NoError(t, root.Create(vfs.NewRelPath("d"), vfs.NodeTypeDir))
	dir, err := root.Lookup(vfs.NewRelPath("d"))
	require.NoError(t, err)
	file := newRamFile(t, "")

	_, err = OpenFile(path, dir, ReadOnly())
	assert.ErrorIs(t, err, vfs.ErrIsADirectory)

	_, err = OpenDir(path, file, ReadOnly())
	assert.ErrorIs(t, err, vfs.ErrNotADirectory)

	_, err = OpenFile(path, file, OpenOptions{Read: true, Truncate: true})
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)
}

func TestOpenPermissions(t *testing.T) {
	spy := newSpy(0o444)
	_, err := OpenFile(path, spy, OpenOptions{Write: true})
	assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
	_, err = OpenFile(path, spy, OpenOptions{Append: true})
	assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
	assert.Zero(t, spy.opens)

	f, err := OpenFile(path, spy, ReadOnly())
	require.NoError(t, err)
	assert.Equal(t, 1, spy.opens)
	assert.Equal(t, capability.Read, f.Cap())
	require.NoError(t, f.Close())
}

func TestCapabilityGating(t *testing.T) {
	t.Run("read only handle", func(t *testing.T) {
		spy := newSpy(0o666)
		f, err := OpenFile(path, spy, ReadOnly())
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("x"))
		assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
		_, err = f.WriteAt([]byte("x"), 0)
		assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
		assert.ErrorIs(t, f.Truncate(0), vfs.ErrPermissionDenied)
		assert.ErrorIs(t, f.Flush(), vfs.ErrPermissionDenied)
		assert.Zero(t, spy.writes)

		_, err = f.GetAttr()
		assert.NoError(t, err)
		_, err = f.Seek(0, io.SeekEnd)
		assert.NoError(t, err)
	})

	t.Run("write only handle", func(t *testing.T) {
		spy := newSpy(0o666)
		f, err := OpenFile(path, spy, OpenOptions{Write: true})
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Read(make([]byte, 4))
		assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
		_, err = f.ReadAt(make([]byte, 4), 0)
		assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
		assert.Zero(t, spy.reads)

		n, err := f.Write([]byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 1, spy.writes)
	})
}

func TestRoundTrip(t *testing.T) {
	f, err := OpenFile(path, newRamFile(t, ""), OpenOptions{Read: true, Write: true})
	require.NoError(t, err)
	defer f.Close()

	data := []byte("hello, mounted world")
	n, err := f.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	pos, err := f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	n, err = f.Read(make([]byte, 4))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestAppendOrdering(t *testing.T) {
	node := newRamFile(t, "")
	appender, err := OpenFile(path, node, OpenOptions{Append: true})
	require.NoError(t, err)
	defer appender.Close()
	other, err := OpenFile(path, node, OpenOptions{Write: true})
	require.NoError(t, err)
	defer other.Close()

	_, err = appender.Write([]byte("aaa"))
	require.NoError(t, err)
	_, err = other.WriteAt([]byte("XXXXXX"), 0)
	require.NoError(t, err)
	_, err = appender.Write([]byte("bbb"))
	require.NoError(t, err)

	assert.Equal(t, "XXXXXXbbb", readContent(t, node))
}

func TestReadAtAndWriteAt(t *testing.T) {
	f, err := OpenFile(path, newRamFile(t, "abc"), OpenOptions{Read: true, Write: true})
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 8)
	n, err := f.ReadAt(buf[:5], 1)
	assert.Equal(t, 2, n)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "bc", string(buf[:n]))

	_, err = f.ReadAt(buf, -1)
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)
	_, err = f.WriteAt(buf, -1)
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)

	// positional writes leave the cursor at 0
	_, err = f.WriteAt([]byte("Z"), 5)
	require.NoError(t, err)
	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)

	n, err = f.ReadAt(buf[:6], 0)
	require.NoError(t, err)
	assert.Equal(t, "abc\x00\x00Z", string(buf[:n]))
}

func TestSeek(t *testing.T) {
	f, err := OpenFile(path, newRamFile(t, "0123456789"), ReadOnly())
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)

	buf := make([]byte, 1)
	_, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "8", string(buf))

	pos, err = f.Seek(-4, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos)

	_, err = f.Seek(-6, io.SeekCurrent)
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)
	_, err = f.Seek(0, 42)
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)

	_, err = f.Seek(math.MaxInt64, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Seek(1, io.SeekCurrent)
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)

	// a failed seek keeps the cursor
	pos, err = f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), pos)
}

func TestTruncate(t *testing.T) {
	node := newRamFile(t, "truncate me")
	f, err := OpenFile(path, node, OpenOptions{Write: true})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Truncate(8))
	assert.Equal(t, "truncate", readContent(t, node))
	require.NoError(t, f.Flush())
}

func TestClose(t *testing.T) {
	spy := newSpy(0o666)
	spy.releaseErr = errors.New("device busy")
	f, err := OpenFile(path, spy, OpenOptions{Read: true, Write: true})
	require.NoError(t, err)

	require.NoError(t, f.Close())
	assert.Equal(t, 1, spy.releases)

	assert.ErrorIs(t, f.Close(), vfs.ErrClosed)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, vfs.ErrClosed)
	_, err = f.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, vfs.ErrClosed)
	assert.Equal(t, 1, spy.releases)
}

func TestDirectory(t *testing.T) {
	root := ramfs.New().RootDir()
	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, root.Create(vfs.NewRelPath(name), vfs.NodeTypeFile))
	}

	d, err := OpenDir(vfs.RootPath(), root, ReadOnly())
	require.NoError(t, err)

	var names []string
	buf := make([]vfs.DirEntry, 1)
	for {
		n, err := d.ReadDir(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		names = append(names, buf[0].Name)
	}
	assert.Equal(t, []string{".", "..", "a", "b", "c"}, names)
	assert.Equal(t, 5, d.EntryIdx())

	d.SetEntryIdx(3)
	n, err := d.ReadDir(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "b", buf[0].Name)

	attr, err := d.GetAttr()
	require.NoError(t, err)
	assert.True(t, attr.IsDir())
	assert.Equal(t, "/", d.Path().String())

	require.NoError(t, d.Close())
	_, err = d.ReadDir(buf)
	assert.ErrorIs(t, err, vfs.ErrClosed)
}

func TestDirectoryPermissions(t *testing.T) {
	root := ramfs.New().RootDir()
	require.NoError(t, root.Create(vfs.NewRelPath("a"), vfs.NodeTypeFile))

	// Execute is granted to the handle, not required of the mode
	perm := vfs.NodePerm(0o600)
	require.NoError(t, root.SetAttr(vfs.SetAttrRequest{Perm: &perm}))
	d, err := OpenDir(vfs.RootPath(), root, ReadOnly())
	require.NoError(t, err)
	buf := make([]vfs.DirEntry, 8)
	n, err := d.ReadDir(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, d.Close())

	perm = vfs.NodePerm(0o300)
	require.NoError(t, root.SetAttr(vfs.SetAttrRequest{Perm: &perm}))
	_, err = OpenDir(vfs.RootPath(), root, ReadOnly())
	assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
}
