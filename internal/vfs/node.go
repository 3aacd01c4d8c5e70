package vfs

import (
	"errors"
)

// FileSystem is implemented by every mountable filesystem.
type FileSystem interface {
	// Mount is called when the filesystem is attached at path. mountPoint is
	// the directory node the filesystem is mounted on.
	Mount(path AbsPath, mountPoint Node) error
	// Umount is called when the filesystem is detached.
	Umount() error
	// Format wipes the filesystem.
	Format() error
	// Statfs returns filesystem statistics.
	Statfs() (FileSystemInfo, error)
	// RootDir returns the root directory node.
	RootDir() Node
}

// Node is a file or directory object. A node does not know its own path.
// Operations that do not apply to the node's type fail with ErrUnsupported.
type Node interface {
	// Open is called once for every successful handle open.
	Open() error
	// Release is paired with Open and called when the handle is closed.
	Release() error

	GetAttr() (NodeAttr, error)
	SetAttr(req SetAttrRequest) error

	// ReadAt and WriteAt are offset addressed. A short read means end of file.
	ReadAt(offset uint64, buf []byte) (int, error)
	WriteAt(offset uint64, buf []byte) (int, error)
	Fsync() error
	Truncate(size uint64) error

	// Parent returns the parent directory, or nil.
	Parent() Node
	Lookup(path RelPath) (Node, error)
	Create(path RelPath, ty NodeType) error
	Link(name string, src Node) (Node, error)
	Unlink(path RelPath) error
	Rename(src, dst RelPath) error
	// ReadDir fills entries starting at the startIdx-th entry and returns the
	// number filled. 0 means the directory is exhausted.
	ReadDir(startIdx int, entries []DirEntry) (int, error)
}

// RecursiveCreator is implemented by nodes with a faster CreateRecursive than
// the generic prefix walk. Implementations must tolerate existing prefixes.
type RecursiveCreator interface {
	CreateRecursive(path RelPath, ty NodeType) error
}

// CreateRecursive creates every missing directory along path and then the
// final component with type ty. Existing intermediate directories are not an
// error; the error of the final Create is returned unchanged.
func CreateRecursive(n Node, path RelPath, ty NodeType) error {
	if rc, ok := n.(RecursiveCreator); ok {
		return rc.CreateRecursive(path, ty)
	}

	comps := path.Components()
	prefix := RelPath{}
	for _, comp := range comps[:max(len(comps)-1, 0)] {
		prefix = prefix.Join(comp)
		if err := n.Create(prefix, NodeTypeDir); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	return n.Create(path, ty)
}

// UnimplementedNode can be embedded to get the default behavior for every
// operation a node kind does not support.
type UnimplementedNode struct{}

func (UnimplementedNode) Open() error    { return nil }
func (UnimplementedNode) Release() error { return nil }

func (UnimplementedNode) GetAttr() (NodeAttr, error)     { return NodeAttr{}, ErrUnsupported }
func (UnimplementedNode) SetAttr(_ SetAttrRequest) error { return ErrUnsupported }

func (UnimplementedNode) ReadAt(_ uint64, _ []byte) (int, error)  { return 0, ErrUnsupported }
func (UnimplementedNode) WriteAt(_ uint64, _ []byte) (int, error) { return 0, ErrUnsupported }
func (UnimplementedNode) Fsync() error                            { return ErrUnsupported }
func (UnimplementedNode) Truncate(_ uint64) error                 { return ErrUnsupported }

func (UnimplementedNode) Parent() Node                             { return nil }
func (UnimplementedNode) Lookup(_ RelPath) (Node, error)           { return nil, ErrUnsupported }
func (UnimplementedNode) Create(_ RelPath, _ NodeType) error       { return ErrUnsupported }
func (UnimplementedNode) Link(_ string, _ Node) (Node, error)      { return nil, ErrUnsupported }
func (UnimplementedNode) Unlink(_ RelPath) error                   { return ErrUnsupported }
func (UnimplementedNode) Rename(_, _ RelPath) error                { return ErrUnsupported }
func (UnimplementedNode) ReadDir(_ int, _ []DirEntry) (int, error) { return 0, ErrUnsupported }

// UnimplementedFileSystem can be embedded by filesystems that need no mount
// hooks. RootDir must still be provided.
type UnimplementedFileSystem struct{}

func (UnimplementedFileSystem) Mount(_ AbsPath, _ Node) error   { return nil }
func (UnimplementedFileSystem) Umount() error                   { return nil }
func (UnimplementedFileSystem) Format() error                   { return ErrUnsupported }
func (UnimplementedFileSystem) Statfs() (FileSystemInfo, error) { return FileSystemInfo{}, ErrUnsupported }

// EnsureDir returns ErrNotADirectory unless n is a directory.
func EnsureDir(n Node) error {
	attr, err := n.GetAttr()
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return ErrNotADirectory
	}
	return nil
}

// EnsureFile returns ErrIsADirectory if n is a directory.
func EnsureFile(n Node) error {
	attr, err := n.GetAttr()
	if err != nil {
		return err
	}
	if attr.IsDir() {
		return ErrIsADirectory
	}
	return nil
}
