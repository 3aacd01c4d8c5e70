package root

import (
	"strings"
	"sync"

	"go.uber.org/multierr"

	"vmountfs/internal/vfs"
)

// Namespace is the default working-directory provider. It owns the
// RootDirectory built by InitRootFS and the current directory.
type Namespace struct {
	mu   sync.RWMutex
	root *RootDirectory
	cwd  vfs.AbsPath
}

// NewNamespace creates an uninitialized namespace. InitRootFS must be called
// before any other method.
func NewNamespace() *Namespace {
	return &Namespace{cwd: vfs.RootPath()}
}

// InitRootFS builds the root directory from mounts. The first mount point
// must be "/" and becomes the main filesystem; the rest are mounted in order.
func (ns *Namespace) InitRootFS(mounts []MountPoint) error {
	if len(mounts) == 0 || !mounts[0].Path.IsRoot() {
		return vfs.NewFSError(vfs.OpMount, "/", vfs.ErrInvalidInput)
	}

	root := NewRootDirectory(mounts[0].FS)
	if err := mounts[0].FS.Mount(vfs.RootPath(), nil); err != nil {
		return vfs.NewFSError(vfs.OpMount, "/", err)
	}
	for _, mp := range mounts[1:] {
		if err := root.Mount(mp.Path, mp.FS); err != nil {
			// leave nothing half mounted
			return multierr.Append(err, root.Close())
		}
	}

	ns.mu.Lock()
	ns.root = root
	ns.cwd = vfs.RootPath()
	ns.mu.Unlock()
	logger.Info("Root filesystem initialized with %d mount points", len(mounts))
	return nil
}

// RootDir returns the namespace root.
func (ns *Namespace) RootDir() *RootDirectory {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.root
}

// CurrentDir returns the working directory.
func (ns *Namespace) CurrentDir() (vfs.AbsPath, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.cwd, nil
}

// SetCurrentDir changes the working directory. The target must be a
// directory the owner may search.
func (ns *Namespace) SetCurrentDir(path vfs.AbsPath) error {
	root := ns.RootDir()
	node, err := root.Lookup(path.ToRel())
	if err != nil {
		return vfs.NewFSError(vfs.OpChdir, path.String(), err)
	}
	attr, err := node.GetAttr()
	if err != nil {
		return vfs.NewFSError(vfs.OpChdir, path.String(), err)
	}
	if !attr.IsDir() {
		return vfs.NewFSError(vfs.OpChdir, path.String(), vfs.ErrNotADirectory)
	}
	if !attr.Perm.OwnerExecutable() {
		return vfs.NewFSError(vfs.OpChdir, path.String(), vfs.ErrPermissionDenied)
	}

	ns.mu.Lock()
	ns.cwd = path
	ns.mu.Unlock()
	logger.Debug("Changed working directory to %q", path.String())
	return nil
}

// AbsolutePath resolves raw against the working directory.
func (ns *Namespace) AbsolutePath(raw string) (vfs.AbsPath, error) {
	if err := vfs.ValidatePath(raw); err != nil {
		return vfs.AbsPath{}, err
	}
	if strings.HasPrefix(raw, "/") {
		return vfs.NewAbsPath(raw), nil
	}
	cwd, err := ns.CurrentDir()
	if err != nil {
		return vfs.AbsPath{}, err
	}
	return cwd.Join(raw), nil
}

// ParentNodeOf returns the directory a raw path is resolved against: the
// root for absolute paths, dir if given, and the working directory otherwise.
func (ns *Namespace) ParentNodeOf(dir vfs.Node, raw string) vfs.Node {
	root := ns.RootDir()
	if strings.HasPrefix(raw, "/") {
		return root
	}
	if dir != nil {
		return dir
	}
	cwd, _ := ns.CurrentDir()
	if cwd.IsRoot() {
		return root
	}
	node, err := root.Lookup(cwd.ToRel())
	if err != nil {
		logger.Warn("Working directory %q is gone: %v", cwd.String(), err)
		return root
	}
	return node
}

// Close tears the namespace down.
func (ns *Namespace) Close() error {
	ns.mu.Lock()
	root := ns.root
	ns.root = nil
	ns.mu.Unlock()
	if root == nil {
		return nil
	}
	return root.Close()
}
