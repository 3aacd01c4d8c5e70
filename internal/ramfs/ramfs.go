// Package ramfs provides a filesystem that keeps every node in memory.
package ramfs

import (
	"sync"

	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("ramfs")
)

// FileSystem is a RAM-backed filesystem.
//
// A single RWMutex guards the directory structure of the whole tree so that
// renames between directories cannot deadlock. File contents are guarded by
// a mutex per file.
type FileSystem struct {
	mu   sync.RWMutex
	root *DirNode
}

// New creates an empty RAM filesystem.
func New() *FileSystem {
	fs := &FileSystem{}
	fs.root = newDirNode(fs, nil)
	logger.Debug("Created new RAM filesystem")
	return fs
}

// RootDir implements vfs.FileSystem.
func (fs *FileSystem) RootDir() vfs.Node {
	return fs.root
}

// Mount implements vfs.FileSystem. The root's parent becomes the parent of
// the mount point so ".." leaves the mount.
func (fs *FileSystem) Mount(path vfs.AbsPath, mountPoint vfs.Node) error {
	logger.Debug("Mounting RAM filesystem at %q", path.String())
	var parent vfs.Node
	if mountPoint != nil {
		parent = mountPoint.Parent()
	}
	fs.mu.Lock()
	fs.root.parent = parent
	fs.mu.Unlock()
	return nil
}

// Umount implements vfs.FileSystem.
func (fs *FileSystem) Umount() error {
	fs.mu.Lock()
	fs.root.parent = nil
	fs.mu.Unlock()
	return nil
}

// Format removes every node below the root.
func (fs *FileSystem) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logger.Info("Formatting RAM filesystem")
	fs.root.children.Clear(false)
	return nil
}

// Statfs implements vfs.FileSystem. Space is only bounded by memory, so no
// free counts are reported.
func (fs *FileSystem) Statfs() (vfs.FileSystemInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var files, blocks uint64
	var walk func(d *DirNode)
	walk = func(d *DirNode) {
		files++
		d.children.Ascend(func(item dirItem) bool {
			switch n := item.node.(type) {
			case *DirNode:
				walk(n)
			case *FileNode:
				files++
				blocks += n.blocks()
			}
			return true
		})
	}
	walk(fs.root)

	return vfs.FileSystemInfo{
		BlockSize: vfs.BlockSize,
		Blocks:    blocks,
		Files:     files,
		NameLen:   maxNameLen,
	}, nil
}
