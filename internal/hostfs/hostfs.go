// Package hostfs exposes a directory of the host filesystem as a
// mountable vfs.FileSystem.
package hostfs

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("hostfs")
)

// FileSystem maps a host source directory. Nodes are cached by their path
// relative to the source so that every lookup of a path yields the same
// node and open handles share one *os.File.
type FileSystem struct {
	source   string
	readOnly bool

	mu          sync.Mutex
	nodes       map[string]*Node
	mountParent vfs.Node
}

// New creates a filesystem over source, which must be an existing directory.
func New(source string, readOnly bool) (*FileSystem, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolve source %q: %w", source, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve source %q: %w", source, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat source %q: %w", source, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %q: %w", source, vfs.ErrNotADirectory)
	}

	logger.Debug("Created host filesystem over %q (read only: %v)", abs, readOnly)
	fs := &FileSystem{
		source:   abs,
		readOnly: readOnly,
		nodes:    make(map[string]*Node),
	}
	fs.nodes[""] = &Node{fs: fs}
	return fs, nil
}

// Source returns the resolved host directory.
func (fs *FileSystem) Source() string {
	return fs.source
}

// ReadOnly reports whether mutations are refused.
func (fs *FileSystem) ReadOnly() bool {
	return fs.readOnly
}

// RootDir implements vfs.FileSystem.
func (fs *FileSystem) RootDir() vfs.Node {
	return fs.node("")
}

// Mount implements vfs.FileSystem.
func (fs *FileSystem) Mount(at vfs.AbsPath, mountPoint vfs.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if mountPoint != nil {
		fs.mountParent = mountPoint.Parent()
	}
	logger.Info("Host directory %q mounted at %q", fs.source, at.String())
	return nil
}

// Umount implements vfs.FileSystem. Open host files are closed.
func (fs *FileSystem) Umount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mountParent = nil

	var err error
	for _, n := range fs.nodes {
		err = multierr.Append(err, n.closeFile())
	}
	return err
}

// Format implements vfs.FileSystem by removing everything below the source.
func (fs *FileSystem) Format() error {
	if fs.readOnly {
		return vfs.ErrPermissionDenied
	}
	entries, err := os.ReadDir(fs.source)
	if err != nil {
		return mapOSError(err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(fs.source, e.Name())); err != nil {
			return mapOSError(err)
		}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for rel := range fs.nodes {
		if rel != "" {
			delete(fs.nodes, rel)
		}
	}
	logger.Info("Formatted host directory %q", fs.source)
	return nil
}

// Statfs implements vfs.FileSystem.
func (fs *FileSystem) Statfs() (vfs.FileSystemInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.source, &st); err != nil {
		return vfs.FileSystemInfo{}, mapOSError(err)
	}
	return vfs.FileSystemInfo{
		BlockSize:   uint32(st.Bsize),
		Blocks:      st.Blocks,
		FreeBlocks:  st.Bfree,
		AvailBlocks: st.Bavail,
		Files:       st.Files,
		FreeFiles:   st.Ffree,
		NameLen:     uint32(st.Namelen),
	}, nil
}

// node returns the cached node for rel, creating it if needed.
func (fs *FileSystem) node(rel string) *Node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[rel]
	if !ok {
		n = &Node{fs: fs, rel: rel}
		fs.nodes[rel] = n
	}
	return n
}

// forget drops rel and everything below it from the cache.
func (fs *FileSystem) forget(rel string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for key := range fs.nodes {
		if key != "" && under(key, rel) {
			delete(fs.nodes, key)
		}
	}
}

// move re-keys from and everything below it after a rename. Cached nodes
// under to were replaced on disk and are dropped.
func (fs *FileSystem) move(from, to string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for key := range fs.nodes {
		if key != "" && under(key, to) {
			delete(fs.nodes, key)
		}
	}
	moved := make(map[string]*Node)
	for key, n := range fs.nodes {
		if key != "" && under(key, from) {
			delete(fs.nodes, key)
			newKey := to + strings.TrimPrefix(key, from)
			n.setRel(newKey)
			moved[newKey] = n
		}
	}
	for key, n := range moved {
		fs.nodes[key] = n
	}
}

func under(key, dir string) bool {
	return key == dir || strings.HasPrefix(key, dir+"/")
}

// resolve joins rel onto base inside the source. ".." never climbs above the
// source root.
func (fs *FileSystem) resolve(base string, rel vfs.RelPath) string {
	return strings.TrimPrefix(path.Clean("/"+path.Join(base, rel.String())), "/")
}

// toLocal maps a source-relative path to a host path. Paths that leave the
// source through a symlink are refused.
func (fs *FileSystem) toLocal(rel string) (string, error) {
	local := filepath.Join(fs.source, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(local)
	if err != nil {
		if !errors.Is(err, iofs.ErrNotExist) {
			return "", mapOSError(err)
		}
		// the final component may not exist yet
		dir, dirErr := filepath.EvalSymlinks(filepath.Dir(local))
		if dirErr == nil && !within(fs.source, dir) {
			logger.Warn("Refusing path %q that resolves outside %q", rel, fs.source)
			return "", vfs.ErrPermissionDenied
		}
		return local, nil
	}
	if !within(fs.source, resolved) {
		logger.Warn("Refusing path %q that resolves outside %q", rel, fs.source)
		return "", vfs.ErrPermissionDenied
	}
	return local, nil
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// mapOSError converts host errors to vfs errors. Unknown errors are passed
// through.
func mapOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENOTEMPTY):
		return vfs.ErrDirectoryNotEmpty
	case errors.Is(err, unix.ENOTDIR):
		return vfs.ErrNotADirectory
	case errors.Is(err, unix.EISDIR):
		return vfs.ErrIsADirectory
	case errors.Is(err, unix.EXDEV):
		return vfs.ErrCrossDevice
	case errors.Is(err, unix.ENOSPC):
		return vfs.ErrNoSpace
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENAMETOOLONG):
		return vfs.ErrInvalidInput
	case errors.Is(err, unix.EROFS), errors.Is(err, iofs.ErrPermission):
		return vfs.ErrPermissionDenied
	case errors.Is(err, iofs.ErrNotExist):
		return vfs.ErrNotFound
	case errors.Is(err, iofs.ErrExist):
		return vfs.ErrAlreadyExists
	default:
		return err
	}
}
