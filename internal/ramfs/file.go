package ramfs

import (
	"sync"

	"vmountfs/internal/vfs"
)

// maxFileSize bounds how far a write or truncate can grow a file.
const maxFileSize = 1 << 32

// FileNode is a regular file whose content lives in memory.
type FileNode struct {
	vfs.UnimplementedNode
	mu      sync.RWMutex
	content []byte
	perm    vfs.NodePerm
	uid     uint32
	gid     uint32
	nlink   int
}

func newFileNode() *FileNode {
	return &FileNode{perm: vfs.DefaultFilePerm, nlink: 1}
}

func (f *FileNode) blocks() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return vfs.BlocksFor(uint64(len(f.content)))
}

// Links returns the number of directory entries referring to f.
func (f *FileNode) Links() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nlink
}

// GetAttr implements vfs.Node.
func (f *FileNode) GetAttr() (vfs.NodeAttr, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	size := uint64(len(f.content))
	attr := vfs.NewNodeAttr(f.perm, vfs.NodeTypeFile, size, vfs.BlocksFor(size))
	attr.UID, attr.GID = f.uid, f.gid
	return attr, nil
}

// SetAttr implements vfs.Node.
func (f *FileNode) SetAttr(req vfs.SetAttrRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Size != nil {
		if err := f.truncateLocked(*req.Size); err != nil {
			return err
		}
	}
	if req.Perm != nil {
		f.perm = *req.Perm & vfs.PermMask
	}
	if req.UID != nil {
		f.uid = *req.UID
	}
	if req.GID != nil {
		f.gid = *req.GID
	}
	return nil
}

// ReadAt implements vfs.Node.
func (f *FileNode) ReadAt(offset uint64, buf []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if offset >= uint64(len(f.content)) {
		return 0, nil
	}
	return copy(buf, f.content[offset:]), nil
}

// WriteAt implements vfs.Node. Writing past the end zero-fills the gap.
func (f *FileNode) WriteAt(offset uint64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := offset + uint64(len(buf))
	if end < offset || end > maxFileSize {
		return 0, vfs.ErrNoSpace
	}
	if end > uint64(len(f.content)) {
		f.growLocked(end)
	}
	return copy(f.content[offset:end], buf), nil
}

// Truncate implements vfs.Node.
func (f *FileNode) Truncate(size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.truncateLocked(size)
}

// Fsync implements vfs.Node. There is nothing to flush.
func (f *FileNode) Fsync() error {
	return nil
}

func (f *FileNode) truncateLocked(size uint64) error {
	if size > maxFileSize {
		return vfs.ErrNoSpace
	}
	if size <= uint64(len(f.content)) {
		clear(f.content[size:])
		f.content = f.content[:size]
		return nil
	}
	f.growLocked(size)
	return nil
}

func (f *FileNode) growLocked(size uint64) {
	if size <= uint64(cap(f.content)) {
		f.content = f.content[:size]
		return
	}
	grown := make([]byte, size, max(size, uint64(2*cap(f.content))))
	copy(grown, f.content)
	f.content = grown
}
