// Package devfs provides a read-only directory of character devices.
package devfs

import (
	"sort"
	"sync"

	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("devfs")
)

const dirPerm vfs.NodePerm = 0o555

// FileSystem is a device filesystem. Its tree is fixed once built.
type FileSystem struct {
	vfs.UnimplementedFileSystem
	root *DirNode
}

// New creates a device filesystem with the standard null, zero, random and
// full devices.
func New() *FileSystem {
	fs := &FileSystem{root: NewDirNode(nil)}
	fs.root.Add("null", NullDev{})
	fs.root.Add("zero", ZeroDev{})
	fs.root.Add("random", RandomDev{})
	fs.root.Add("urandom", RandomDev{})
	fs.root.Add("full", FullDev{})
	return fs
}

// RootDir implements vfs.FileSystem.
func (fs *FileSystem) RootDir() vfs.Node {
	return fs.root
}

// Root returns the root directory for adding nodes during bring-up.
func (fs *FileSystem) Root() *DirNode {
	return fs.root
}

// Mount implements vfs.FileSystem.
func (fs *FileSystem) Mount(path vfs.AbsPath, mountPoint vfs.Node) error {
	logger.Debug("Mounting device filesystem at %q", path.String())
	if mountPoint != nil {
		fs.root.setParent(mountPoint.Parent())
	}
	return nil
}

// Umount implements vfs.FileSystem.
func (fs *FileSystem) Umount() error {
	fs.root.setParent(nil)
	return nil
}

// Statfs implements vfs.FileSystem.
func (fs *FileSystem) Statfs() (vfs.FileSystemInfo, error) {
	return vfs.FileSystemInfo{BlockSize: vfs.BlockSize, NameLen: 255}, nil
}

// DirNode is a devfs directory. Entries are added with Add or Mkdir before
// the filesystem is mounted and cannot be created or removed through the
// vfs.Node interface.
type DirNode struct {
	vfs.UnimplementedNode
	mu       sync.RWMutex
	parent   vfs.Node
	children map[string]vfs.Node
	names    []string
}

// NewDirNode creates an empty directory under parent.
func NewDirNode(parent vfs.Node) *DirNode {
	return &DirNode{parent: parent, children: make(map[string]vfs.Node)}
}

func (d *DirNode) setParent(parent vfs.Node) {
	d.mu.Lock()
	d.parent = parent
	d.mu.Unlock()
}

// Add registers node under name, replacing any existing entry.
func (d *DirNode) Add(name string, node vfs.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; !exists {
		d.names = append(d.names, name)
		sort.Strings(d.names)
	}
	d.children[name] = node
}

// Mkdir adds and returns a subdirectory.
func (d *DirNode) Mkdir(name string) *DirNode {
	sub := NewDirNode(d)
	d.Add(name, sub)
	return sub
}

// GetAttr implements vfs.Node.
func (d *DirNode) GetAttr() (vfs.NodeAttr, error) {
	return vfs.NewNodeAttr(dirPerm, vfs.NodeTypeDir, 4096, 0), nil
}

// Parent implements vfs.Node.
func (d *DirNode) Parent() vfs.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.parent
}

// Lookup implements vfs.Node.
func (d *DirNode) Lookup(path vfs.RelPath) (vfs.Node, error) {
	if path.IsEmpty() {
		return d, nil
	}
	name, rest := path.Split()

	d.mu.RLock()
	var node vfs.Node
	switch name {
	case ".":
		node = d
	case "..":
		node = d.parent
		if node == nil {
			node = d
		}
	default:
		node = d.children[name]
	}
	d.mu.RUnlock()

	if node == nil {
		return nil, vfs.ErrNotFound
	}
	if rest.IsEmpty() {
		return node, nil
	}
	if _, isDir := node.(*DirNode); !isDir && name != ".." {
		return nil, vfs.ErrInvalidInput
	}
	return node.Lookup(rest)
}

// Create implements vfs.Node. Existing entries report ErrAlreadyExists so
// recursive creation can walk through devfs directories.
func (d *DirNode) Create(path vfs.RelPath, _ vfs.NodeType) error {
	if _, err := d.Lookup(path); err == nil {
		return vfs.ErrAlreadyExists
	}
	return vfs.ErrPermissionDenied
}

// Unlink implements vfs.Node.
func (d *DirNode) Unlink(_ vfs.RelPath) error {
	return vfs.ErrPermissionDenied
}

// Rename implements vfs.Node.
func (d *DirNode) Rename(_, _ vfs.RelPath) error {
	return vfs.ErrPermissionDenied
}

// ReadDir implements vfs.Node.
func (d *DirNode) ReadDir(startIdx int, entries []vfs.DirEntry) (int, error) {
	if startIdx < 0 {
		return 0, vfs.ErrInvalidInput
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for idx := startIdx; n < len(entries); idx++ {
		switch {
		case idx == 0:
			entries[n] = vfs.DirEntry{Name: ".", Type: vfs.NodeTypeDir}
		case idx == 1:
			entries[n] = vfs.DirEntry{Name: "..", Type: vfs.NodeTypeDir}
		case idx-2 < len(d.names):
			name := d.names[idx-2]
			entries[n] = vfs.DirEntry{Name: name, Type: typeOf(d.children[name])}
		default:
			return n, nil
		}
		n++
	}
	return n, nil
}

func typeOf(n vfs.Node) vfs.NodeType {
	attr, err := n.GetAttr()
	if err != nil {
		return vfs.NodeTypeCharDevice
	}
	return attr.Type
}
