// Package root composes mounted filesystems into a single namespace.
package root

import (
	"errors"
	"sync"

	"go.uber.org/multierr"

	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("root")
)

// MountPoint binds an absolute path to a filesystem.
type MountPoint struct {
	Path vfs.AbsPath
	FS   vfs.FileSystem
}

// NewMountPoint creates a mount point for fs at path.
func NewMountPoint(path string, fs vfs.FileSystem) MountPoint {
	return MountPoint{Path: vfs.NewAbsPath(path), FS: fs}
}

// RootDirectory is the namespace root. The main filesystem covers "/" and
// every path not claimed by a more specific mount point. RootDirectory is a
// vfs.Node itself, so it can be handed to anything that takes a directory.
type RootDirectory struct {
	vfs.UnimplementedNode
	mainFS vfs.FileSystem
	mu     sync.RWMutex
	mounts []MountPoint
}

// NewRootDirectory creates a namespace whose "/" is mainFS.
func NewRootDirectory(mainFS vfs.FileSystem) *RootDirectory {
	return &RootDirectory{mainFS: mainFS}
}

// MainFS returns the filesystem mounted at "/".
func (r *RootDirectory) MainFS() vfs.FileSystem {
	return r.mainFS
}

// Mount attaches fs at path. The mount directory is created in whatever
// filesystem currently owns path.
func (r *RootDirectory) Mount(path vfs.AbsPath, fs vfs.FileSystem) error {
	if path.IsRoot() {
		return vfs.NewFSError(vfs.OpMount, path.String(), vfs.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mp := range r.mounts {
		if mp.Path == path {
			return vfs.NewFSError(vfs.OpMount, path.String(), vfs.ErrAlreadyExists)
		}
	}

	owner, rest := r.resolveLocked(path)
	if err := vfs.CreateRecursive(owner, rest, vfs.NodeTypeDir); err != nil && !errors.Is(err, vfs.ErrAlreadyExists) {
		return vfs.NewFSError(vfs.OpMount, path.String(), err)
	}
	mountPoint, err := owner.Lookup(rest)
	if err != nil {
		return vfs.NewFSError(vfs.OpMount, path.String(), err)
	}
	if err := vfs.EnsureDir(mountPoint); err != nil {
		return vfs.NewFSError(vfs.OpMount, path.String(), err)
	}
	if err := fs.Mount(path, mountPoint); err != nil {
		return vfs.NewFSError(vfs.OpMount, path.String(), err)
	}

	r.mounts = append(r.mounts, MountPoint{Path: path, FS: fs})
	logger.Info("Mounted filesystem at %q", path.String())
	return nil
}

// Unmount detaches the filesystem mounted at path.
func (r *RootDirectory) Unmount(path vfs.AbsPath) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, mp := range r.mounts {
		if mp.Path != path {
			continue
		}
		// a mount nested below this one would become unreachable
		for _, other := range r.mounts {
			if other.Path != path && other.Path.HasPrefix(path) {
				return vfs.NewFSError(vfs.OpUnmount, path.String(), vfs.ErrPermissionDenied)
			}
		}
		if err := mp.FS.Umount(); err != nil {
			return vfs.NewFSError(vfs.OpUnmount, path.String(), err)
		}
		r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
		logger.Info("Unmounted filesystem at %q", path.String())
		return nil
	}
	return vfs.NewFSError(vfs.OpUnmount, path.String(), vfs.ErrNotFound)
}

// Close unmounts every filesystem, most recent first, and then the main
// filesystem. All errors are reported.
func (r *RootDirectory) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for i := len(r.mounts) - 1; i >= 0; i-- {
		mp := r.mounts[i]
		if umountErr := mp.FS.Umount(); umountErr != nil {
			err = multierr.Append(err, vfs.NewFSError(vfs.OpUnmount, mp.Path.String(), umountErr))
		}
	}
	r.mounts = nil
	if umountErr := r.mainFS.Umount(); umountErr != nil {
		err = multierr.Append(err, vfs.NewFSError(vfs.OpUnmount, "/", umountErr))
	}
	return err
}

// Contains reports whether path is exactly a mount point.
func (r *RootDirectory) Contains(path vfs.AbsPath) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, mp := range r.mounts {
		if mp.Path == path {
			return true
		}
	}
	return false
}

// MountPoints returns a copy of the mount table, excluding "/".
func (r *RootDirectory) MountPoints() []MountPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]MountPoint(nil), r.mounts...)
}

// FileSystemAt returns the filesystem that owns path.
func (r *RootDirectory) FileSystemAt(path vfs.AbsPath) vfs.FileSystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fs, _, _ := r.lookupMountedLocked(path)
	return fs
}

// lookupMountedLocked selects the mount with the longest matching prefix and
// returns its filesystem, the path remaining inside it, and the mount index
// (-1 for the main filesystem).
func (r *RootDirectory) lookupMountedLocked(path vfs.AbsPath) (vfs.FileSystem, vfs.RelPath, int) {
	best, bestLen := -1, 0
	for i, mp := range r.mounts {
		if l := len(mp.Path.String()); l > bestLen && path.HasPrefix(mp.Path) {
			best, bestLen = i, l
		}
	}
	if best < 0 {
		return r.mainFS, path.ToRel(), -1
	}
	rest, _ := path.Rel(r.mounts[best].Path)
	return r.mounts[best].FS, rest, best
}

func (r *RootDirectory) resolveLocked(path vfs.AbsPath) (vfs.Node, vfs.RelPath) {
	fs, rest, _ := r.lookupMountedLocked(path)
	return fs.RootDir(), rest
}

// GetAttr implements vfs.Node.
func (r *RootDirectory) GetAttr() (vfs.NodeAttr, error) {
	return r.mainFS.RootDir().GetAttr()
}

// SetAttr implements vfs.Node.
func (r *RootDirectory) SetAttr(req vfs.SetAttrRequest) error {
	return r.mainFS.RootDir().SetAttr(req)
}

// ReadDir implements vfs.Node. Mount directories are listed because they
// were created in the main filesystem when mounted.
func (r *RootDirectory) ReadDir(startIdx int, entries []vfs.DirEntry) (int, error) {
	return r.mainFS.RootDir().ReadDir(startIdx, entries)
}

// Lookup implements vfs.Node. path is taken relative to "/".
func (r *RootDirectory) Lookup(path vfs.RelPath) (vfs.Node, error) {
	abs := vfs.NewAbsPath(path.String())
	r.mu.RLock()
	owner, rest := r.resolveLocked(abs)
	r.mu.RUnlock()

	logger.Trace("Dispatching lookup of %q", abs.String())
	node, err := owner.Lookup(rest)
	if err != nil {
		return nil, vfs.NewFSError(vfs.OpLookup, abs.String(), err)
	}
	return node, nil
}

// Create implements vfs.Node. Creating a mount point succeeds since the
// directory already exists.
func (r *RootDirectory) Create(path vfs.RelPath, ty vfs.NodeType) error {
	abs := vfs.NewAbsPath(path.String())
	r.mu.RLock()
	owner, rest := r.resolveLocked(abs)
	r.mu.RUnlock()

	if rest.IsEmpty() {
		return nil
	}
	if err := owner.Create(rest, ty); err != nil {
		return vfs.NewFSError(vfs.OpCreate, abs.String(), err)
	}
	return nil
}

// CreateRecursive implements vfs.RecursiveCreator. Each prefix is created in
// the filesystem that owns it, so a walk may cross mount points.
func (r *RootDirectory) CreateRecursive(path vfs.RelPath, ty vfs.NodeType) error {
	prefix := vfs.RootPath()
	comps := path.Components()
	for i, comp := range comps {
		prefix = prefix.Join(comp)
		want := vfs.NodeTypeDir
		if i == len(comps)-1 {
			want = ty
		}
		err := r.Create(prefix.ToRel(), want)
		if err != nil && (i == len(comps)-1 || !errors.Is(err, vfs.ErrAlreadyExists)) {
			return err
		}
	}
	return nil
}

// Link implements vfs.Node. The new name must live in the same filesystem as
// src; that is checked by the owning filesystem.
func (r *RootDirectory) Link(name string, src vfs.Node) (vfs.Node, error) {
	abs := vfs.NewAbsPath(name)
	r.mu.RLock()
	owner, rest := r.resolveLocked(abs)
	r.mu.RUnlock()

	if rest.IsEmpty() {
		return nil, vfs.NewFSError(vfs.OpLink, abs.String(), vfs.ErrAlreadyExists)
	}
	dir, err := owner.Lookup(rest.Dir())
	if err != nil {
		return nil, vfs.NewFSError(vfs.OpLink, abs.String(), err)
	}
	node, err := dir.Link(rest.Base(), src)
	if err != nil {
		return nil, vfs.NewFSError(vfs.OpLink, abs.String(), err)
	}
	return node, nil
}

// Unlink implements vfs.Node. Mount points cannot be removed.
func (r *RootDirectory) Unlink(path vfs.RelPath) error {
	abs := vfs.NewAbsPath(path.String())
	r.mu.RLock()
	owner, rest := r.resolveLocked(abs)
	r.mu.RUnlock()

	if rest.IsEmpty() {
		return vfs.NewFSError(vfs.OpRemove, abs.String(), vfs.ErrPermissionDenied)
	}
	if err := owner.Unlink(rest); err != nil {
		return vfs.NewFSError(vfs.OpRemove, abs.String(), err)
	}
	return nil
}

// Rename implements vfs.Node. Both paths must resolve to the same mount;
// a rename across mounts fails with ErrCrossDevice and moves nothing.
func (r *RootDirectory) Rename(src, dst vfs.RelPath) error {
	srcAbs, dstAbs := vfs.NewAbsPath(src.String()), vfs.NewAbsPath(dst.String())
	r.mu.RLock()
	srcFS, srcRest, srcIdx := r.lookupMountedLocked(srcAbs)
	_, dstRest, dstIdx := r.lookupMountedLocked(dstAbs)
	coversMount := false
	for _, mp := range r.mounts {
		if mp.Path.HasPrefix(srcAbs) {
			coversMount = true
		}
	}
	r.mu.RUnlock()

	if srcRest.IsEmpty() || dstRest.IsEmpty() || coversMount {
		return vfs.NewFSError(vfs.OpRename, srcAbs.String(), vfs.ErrPermissionDenied)
	}
	if srcIdx != dstIdx {
		return vfs.NewFSError(vfs.OpRename, srcAbs.String(), vfs.ErrCrossDevice)
	}
	if err := srcFS.RootDir().Rename(srcRest, dstRest); err != nil {
		return vfs.NewFSError(vfs.OpRename, srcAbs.String(), err)
	}
	return nil
}
