package hostfs

import (
	"errors"
	"io"
	"math"
	"os"
	"path"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"vmountfs/internal/vfs"
)

// Node is a file or directory below the source directory. ".." never leaves
// the source root.
type Node struct {
	vfs.UnimplementedNode
	fs *FileSystem

	mu       sync.Mutex
	rel      string
	file     *os.File
	writable bool
	refs     int
}

func (n *Node) relPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rel
}

func (n *Node) setRel(rel string) {
	n.mu.Lock()
	n.rel = rel
	n.mu.Unlock()
}

func (n *Node) local() (string, error) {
	return n.fs.toLocal(n.relPath())
}

func (n *Node) closeFile() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refs = 0
	if n.file == nil {
		return nil
	}
	err := n.file.Close()
	n.file = nil
	return mapOSError(err)
}

func attrFromInfo(info os.FileInfo) vfs.NodeAttr {
	size := uint64(max(info.Size(), 0))
	attr := vfs.NewNodeAttr(vfs.NodePerm(info.Mode().Perm()), vfs.NodeTypeFromFileMode(info.Mode()), size, vfs.BlocksFor(size))
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		attr.UID = st.Uid
		attr.GID = st.Gid
		attr.Blocks = uint64(max(st.Blocks, 0))
	}
	return attr
}

// GetAttr implements vfs.Node.
func (n *Node) GetAttr() (vfs.NodeAttr, error) {
	local, err := n.local()
	if err != nil {
		return vfs.NodeAttr{}, err
	}
	info, err := os.Lstat(local)
	if err != nil {
		return vfs.NodeAttr{}, mapOSError(err)
	}
	return attrFromInfo(info), nil
}

// SetAttr implements vfs.Node.
func (n *Node) SetAttr(req vfs.SetAttrRequest) error {
	if n.fs.readOnly {
		return vfs.ErrPermissionDenied
	}
	local, err := n.local()
	if err != nil {
		return err
	}
	if req.Size != nil {
		if *req.Size > math.MaxInt64 {
			return vfs.ErrInvalidInput
		}
		if err := os.Truncate(local, int64(*req.Size)); err != nil {
			return mapOSError(err)
		}
	}
	if req.Perm != nil {
		if err := os.Chmod(local, os.FileMode(*req.Perm&vfs.PermMask)); err != nil {
			return mapOSError(err)
		}
	}
	if req.UID != nil || req.GID != nil {
		uid, gid := -1, -1
		if req.UID != nil {
			uid = int(*req.UID)
		}
		if req.GID != nil {
			gid = int(*req.GID)
		}
		if err := os.Lchown(local, uid, gid); err != nil {
			return mapOSError(err)
		}
	}
	return nil
}

// Open implements vfs.Node. The first open of a regular file opens the host
// file; later opens share it until the last Release.
func (n *Node) Open() error {
	local, err := n.local()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refs > 0 {
		n.refs++
		return nil
	}

	info, err := os.Lstat(local)
	if err != nil {
		return mapOSError(err)
	}
	if info.Mode().IsRegular() {
		writable := !n.fs.readOnly
		flag := os.O_RDONLY
		if writable {
			flag = os.O_RDWR
		}
		f, err := os.OpenFile(local, flag, 0)
		if err != nil && writable && errors.Is(err, os.ErrPermission) {
			writable = false
			f, err = os.OpenFile(local, os.O_RDONLY, 0)
		}
		if err != nil {
			return mapOSError(err)
		}
		n.file, n.writable = f, writable
		logger.Trace("Opened host file %q (writable: %v)", local, writable)
	}
	n.refs = 1
	return nil
}

// Release implements vfs.Node.
func (n *Node) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refs == 0 {
		return nil
	}
	n.refs--
	if n.refs > 0 || n.file == nil {
		return nil
	}
	err := n.file.Close()
	n.file = nil
	logger.Trace("Closed host file %q", n.rel)
	return mapOSError(err)
}

// withFile runs fn on the shared host file, or on a temporary one when the
// node is not open with the needed access.
func (n *Node) withFile(write bool, fn func(*os.File) (int, error)) (int, error) {
	local, err := n.local()
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.file != nil && (!write || n.writable) {
		return fn(n.file)
	}
	flag := os.O_RDONLY
	if write {
		flag = os.O_WRONLY
	}
	f, err := os.OpenFile(local, flag, 0)
	if err != nil {
		return 0, mapOSError(err)
	}
	defer f.Close()
	return fn(f)
}

// ReadAt implements vfs.Node.
func (n *Node) ReadAt(offset uint64, buf []byte) (int, error) {
	if offset > math.MaxInt64 {
		return 0, nil
	}
	return n.withFile(false, func(f *os.File) (int, error) {
		read, err := f.ReadAt(buf, int64(offset))
		if err == io.EOF {
			err = nil
		}
		return read, mapOSError(err)
	})
}

// WriteAt implements vfs.Node.
func (n *Node) WriteAt(offset uint64, buf []byte) (int, error) {
	if n.fs.readOnly {
		return 0, vfs.ErrPermissionDenied
	}
	if offset > math.MaxInt64-uint64(len(buf)) {
		return 0, vfs.ErrNoSpace
	}
	return n.withFile(true, func(f *os.File) (int, error) {
		written, err := f.WriteAt(buf, int64(offset))
		return written, mapOSError(err)
	})
}

// Fsync implements vfs.Node.
func (n *Node) Fsync() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.file == nil || !n.writable {
		return nil
	}
	return mapOSError(n.file.Sync())
}

// Truncate implements vfs.Node.
func (n *Node) Truncate(size uint64) error {
	return n.SetAttr(vfs.SetAttrRequest{Size: &size})
}

// Parent implements vfs.Node.
func (n *Node) Parent() vfs.Node {
	rel := n.relPath()
	if rel == "" {
		n.fs.mu.Lock()
		defer n.fs.mu.Unlock()
		return n.fs.mountParent
	}
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	return n.fs.node(dir)
}

// Lookup implements vfs.Node.
func (n *Node) Lookup(rel vfs.RelPath) (vfs.Node, error) {
	if rel.IsEmpty() {
		return n, nil
	}
	target := n.fs.resolve(n.relPath(), rel)
	local, err := n.fs.toLocal(target)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(local); err != nil {
		if errors.Is(err, unix.ENOTDIR) {
			return nil, vfs.ErrInvalidInput
		}
		return nil, mapOSError(err)
	}
	return n.fs.node(target), nil
}

// Create implements vfs.Node. Regular files, directories and fifos can be
// created.
func (n *Node) Create(rel vfs.RelPath, ty vfs.NodeType) error {
	switch rel.Base() {
	case "", ".", "..":
		return nil
	}
	if n.fs.readOnly {
		return vfs.ErrPermissionDenied
	}
	local, err := n.fs.toLocal(n.fs.resolve(n.relPath(), rel))
	if err != nil {
		return err
	}

	logger.Debug("Creating %s %q", ty, local)
	switch ty {
	case vfs.NodeTypeDir:
		return mapOSError(os.Mkdir(local, os.FileMode(vfs.DefaultDirPerm)))
	case vfs.NodeTypeFile:
		f, err := os.OpenFile(local, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(vfs.DefaultFilePerm))
		if err != nil {
			return mapOSError(err)
		}
		return mapOSError(f.Close())
	case vfs.NodeTypeFifo:
		return mapOSError(unix.Mkfifo(local, uint32(vfs.DefaultFilePerm)))
	default:
		return vfs.ErrUnsupported
	}
}

// Link implements vfs.Node with a host hard link.
func (n *Node) Link(name string, src vfs.Node) (vfs.Node, error) {
	if n.fs.readOnly {
		return nil, vfs.ErrPermissionDenied
	}
	srcNode, ok := src.(*Node)
	if !ok || srcNode.fs != n.fs {
		return nil, vfs.ErrCrossDevice
	}
	srcLocal, err := srcNode.local()
	if err != nil {
		return nil, err
	}
	target := n.fs.resolve(n.relPath(), vfs.NewRelPath(name))
	local, err := n.fs.toLocal(target)
	if err != nil {
		return nil, err
	}
	if err := os.Link(srcLocal, local); err != nil {
		return nil, mapOSError(err)
	}
	return n.fs.node(target), nil
}

// Unlink implements vfs.Node.
func (n *Node) Unlink(rel vfs.RelPath) error {
	switch rel.Base() {
	case "", ".", "..":
		return vfs.ErrInvalidInput
	}
	if n.fs.readOnly {
		return vfs.ErrPermissionDenied
	}
	target := n.fs.resolve(n.relPath(), rel)
	local, err := n.fs.toLocal(target)
	if err != nil {
		return err
	}
	if err := os.Remove(local); err != nil {
		return mapOSError(err)
	}
	n.fs.forget(target)
	logger.Debug("Removed %q", local)
	return nil
}

// Rename implements vfs.Node.
func (n *Node) Rename(src, dst vfs.RelPath) error {
	for _, p := range []vfs.RelPath{src, dst} {
		switch p.Base() {
		case "", ".", "..":
			return vfs.ErrInvalidInput
		}
	}
	if n.fs.readOnly {
		return vfs.ErrPermissionDenied
	}
	base := n.relPath()
	from, to := n.fs.resolve(base, src), n.fs.resolve(base, dst)
	if from == to {
		return nil
	}
	if under(to, from) {
		return vfs.ErrInvalidInput
	}
	fromLocal, err := n.fs.toLocal(from)
	if err != nil {
		return err
	}
	toLocal, err := n.fs.toLocal(to)
	if err != nil {
		return err
	}
	if err := os.Rename(fromLocal, toLocal); err != nil {
		return mapOSError(err)
	}
	n.fs.move(from, to)
	logger.Debug("Renamed %q to %q", fromLocal, toLocal)
	return nil
}

// ReadDir implements vfs.Node. Entries come in name order after "." and "..".
func (n *Node) ReadDir(startIdx int, entries []vfs.DirEntry) (int, error) {
	if startIdx < 0 {
		return 0, vfs.ErrInvalidInput
	}
	local, err := n.local()
	if err != nil {
		return 0, err
	}
	list, err := os.ReadDir(local)
	if err != nil {
		return 0, mapOSError(err)
	}

	count := 0
	for idx := startIdx; count < len(entries); idx++ {
		switch {
		case idx == 0:
			entries[count] = vfs.DirEntry{Name: ".", Type: vfs.NodeTypeDir}
		case idx == 1:
			entries[count] = vfs.DirEntry{Name: "..", Type: vfs.NodeTypeDir}
		case idx-2 < len(list):
			e := list[idx-2]
			entries[count] = vfs.DirEntry{Name: e.Name(), Type: vfs.NodeTypeFromFileMode(e.Type())}
		default:
			return count, nil
		}
		count++
	}
	return count, nil
}
