package fops

import (
	"io"
	"math"
	"sync"

	"vmountfs/internal/capability"
	"vmountfs/internal/vfs"
)

// File is an open regular file. Every node operation is gated by the rights
// stamped at open time. The cursor is private to the handle.
type File struct {
	mu     sync.Mutex
	path   vfs.AbsPath
	node   capability.WithCap[vfs.Node]
	append bool
	offset uint64
	closed bool
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.ReaderAt        = (*File)(nil)
	_ io.WriterAt        = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

// OpenFile opens node as a file handle. The requested rights must be covered
// by the node's owner permission bits.
func OpenFile(path vfs.AbsPath, node vfs.Node, opts OpenOptions) (*File, error) {
	if !opts.IsValid() {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrInvalidInput)
	}
	attr, err := node.GetAttr()
	if err != nil {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), err)
	}
	if attr.IsDir() {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrIsADirectory)
	}
	c := opts.Cap()
	if !PermToCap(attr.Perm).Contains(c) {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrPermissionDenied)
	}
	if err := node.Open(); err != nil {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), err)
	}

	logger.Trace("Opened file %q with %s", path.String(), c)
	return &File{
		path:   path,
		node:   capability.New(node, c),
		append: opts.Append,
	}, nil
}

// Path returns the path the file was opened by.
func (f *File) Path() vfs.AbsPath {
	return f.path
}

// Cap returns the rights stamped on the handle.
func (f *File) Cap() capability.Cap {
	return f.node.Cap()
}

func (f *File) accessLocked(c capability.Cap) (vfs.Node, error) {
	if f.closed {
		return nil, vfs.ErrClosed
	}
	return f.node.Access(c)
}

func (f *File) fail(op string, err error) error {
	if err == io.EOF {
		return err
	}
	return vfs.NewFSError(op, f.path.String(), err)
}

// GetAttr returns the node attributes. No rights are needed.
func (f *File) GetAttr() (vfs.NodeAttr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.None)
	if err != nil {
		return vfs.NodeAttr{}, f.fail(vfs.OpGetattr, err)
	}
	attr, err := node.GetAttr()
	if err != nil {
		return vfs.NodeAttr{}, f.fail(vfs.OpGetattr, err)
	}
	return attr, nil
}

// Read reads at the cursor and advances it.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.Read)
	if err != nil {
		return 0, f.fail(vfs.OpRead, err)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := node.ReadAt(f.offset, p)
	f.offset += uint64(n)
	if err != nil {
		return n, f.fail(vfs.OpRead, err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes at the cursor and advances it. In append mode the cursor is
// moved to the current end of file before every write.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.Write)
	if err != nil {
		return 0, f.fail(vfs.OpWrite, err)
	}
	if f.append {
		attr, err := node.GetAttr()
		if err != nil {
			return 0, f.fail(vfs.OpWrite, err)
		}
		f.offset = attr.Size
	}
	n, err := node.WriteAt(f.offset, p)
	f.offset += uint64(n)
	if err != nil {
		return n, f.fail(vfs.OpWrite, err)
	}
	if n < len(p) {
		return n, f.fail(vfs.OpWrite, io.ErrShortWrite)
	}
	return n, nil
}

// ReadAt reads at off without moving the cursor.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.Read)
	if err != nil {
		return 0, f.fail(vfs.OpRead, err)
	}
	if off < 0 {
		return 0, f.fail(vfs.OpRead, vfs.ErrInvalidInput)
	}
	n, err := node.ReadAt(uint64(off), p)
	if err != nil {
		return n, f.fail(vfs.OpRead, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes at off without moving the cursor. Append mode does not
// apply.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.Write)
	if err != nil {
		return 0, f.fail(vfs.OpWrite, err)
	}
	if off < 0 {
		return 0, f.fail(vfs.OpWrite, vfs.ErrInvalidInput)
	}
	n, err := node.WriteAt(uint64(off), p)
	if err != nil {
		return n, f.fail(vfs.OpWrite, err)
	}
	if n < len(p) {
		return n, f.fail(vfs.OpWrite, io.ErrShortWrite)
	}
	return n, nil
}

// Seek moves the cursor. io.SeekEnd is relative to the current size.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.None)
	if err != nil {
		return 0, f.fail(vfs.OpSeek, err)
	}

	var base uint64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		attr, err := node.GetAttr()
		if err != nil {
			return 0, f.fail(vfs.OpSeek, err)
		}
		base = attr.Size
	default:
		return 0, f.fail(vfs.OpSeek, vfs.ErrInvalidInput)
	}

	pos, ok := addOffset(base, offset)
	if !ok {
		return 0, f.fail(vfs.OpSeek, vfs.ErrInvalidInput)
	}
	f.offset = uint64(pos)
	return pos, nil
}

// addOffset returns base+delta if the result fits in [0, MaxInt64].
func addOffset(base uint64, delta int64) (int64, bool) {
	if base > math.MaxInt64 {
		return 0, false
	}
	b := int64(base)
	if delta > 0 && b > math.MaxInt64-delta {
		return 0, false
	}
	pos := b + delta
	if pos < 0 {
		return 0, false
	}
	return pos, true
}

// Truncate changes the file size. The cursor is left alone.
func (f *File) Truncate(size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.Write)
	if err != nil {
		return f.fail(vfs.OpTruncate, err)
	}
	if err := node.Truncate(size); err != nil {
		return f.fail(vfs.OpTruncate, err)
	}
	return nil
}

// Flush syncs the node to its backing store.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.accessLocked(capability.Write)
	if err != nil {
		return f.fail(vfs.OpFsync, err)
	}
	if err := node.Fsync(); err != nil {
		return f.fail(vfs.OpFsync, err)
	}
	return nil
}

// Close releases the node. The release error is logged, never returned.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.fail(vfs.OpRelease, vfs.ErrClosed)
	}
	f.closed = true
	if err := f.node.AccessUnchecked().Release(); err != nil {
		logger.Debug("Release of %q failed: %v", f.path.String(), err)
	}
	return nil
}
