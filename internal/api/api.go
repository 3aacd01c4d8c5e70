// Package api is the path-based entry point into the namespace. Every raw
// path is made absolute once, through the working-directory provider, and
// then dispatched by the root directory.
package api

import (
	"errors"
	"io"
	"strings"

	"vmountfs/internal/fops"
	"vmountfs/internal/logging"
	"vmountfs/internal/root"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("api")
)

// readDirBatch is the number of entries fetched per ReadDir call by
// ReadDirAll.
const readDirBatch = 32

// WorkingDir supplies the namespace and the current directory. root.Namespace
// is the default implementation.
type WorkingDir interface {
	InitRootFS(mounts []root.MountPoint) error
	CurrentDir() (vfs.AbsPath, error)
	SetCurrentDir(path vfs.AbsPath) error
	AbsolutePath(raw string) (vfs.AbsPath, error)
	ParentNodeOf(dir vfs.Node, raw string) vfs.Node
	RootDir() *root.RootDirectory
}

// FS is the filesystem facade.
type FS struct {
	wd WorkingDir
}

// New creates a facade over wd.
func New(wd WorkingDir) *FS {
	return &FS{wd: wd}
}

// InitRootFS builds the namespace. The first mount point must be "/".
func (f *FS) InitRootFS(mounts []root.MountPoint) error {
	return f.wd.InitRootFS(mounts)
}

// Root returns the namespace root.
func (f *FS) Root() *root.RootDirectory {
	return f.wd.RootDir()
}

// CurrentDir returns the working directory.
func (f *FS) CurrentDir() (vfs.AbsPath, error) {
	return f.wd.CurrentDir()
}

// SetCurrentDir changes the working directory to raw.
func (f *FS) SetCurrentDir(raw string) error {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return err
	}
	return f.wd.SetCurrentDir(path)
}

// AbsolutePath resolves raw against the working directory.
func (f *FS) AbsolutePath(raw string) (vfs.AbsPath, error) {
	return f.wd.AbsolutePath(raw)
}

// Lookup resolves raw to a node.
func (f *FS) Lookup(raw string) (vfs.Node, error) {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return nil, err
	}
	return f.lookup(path)
}

func (f *FS) lookup(path vfs.AbsPath) (vfs.Node, error) {
	if path.IsRoot() {
		return f.wd.RootDir(), nil
	}
	return f.wd.RootDir().Lookup(path.ToRel())
}

// LookupAt resolves raw relative to dir, or to the working directory when
// dir is nil. Absolute paths ignore dir.
func (f *FS) LookupAt(dir vfs.Node, raw string) (vfs.Node, error) {
	if err := vfs.ValidatePath(raw); err != nil {
		return nil, err
	}
	if strings.HasPrefix(raw, "/") {
		return f.lookup(vfs.NewAbsPath(raw))
	}
	parent := f.wd.ParentNodeOf(dir, raw)
	rel := vfs.NewRelPath(raw)
	if rel.IsEmpty() {
		return parent, nil
	}
	node, err := parent.Lookup(rel)
	if err != nil {
		return nil, vfs.NewFSError(vfs.OpLookup, raw, err)
	}
	return node, nil
}

// GetAttr returns the attributes of raw.
func (f *FS) GetAttr(raw string) (vfs.NodeAttr, error) {
	node, err := f.Lookup(raw)
	if err != nil {
		return vfs.NodeAttr{}, err
	}
	return node.GetAttr()
}

// IsMountPoint reports whether raw names a mount point other than "/".
func (f *FS) IsMountPoint(raw string) bool {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return false
	}
	return f.wd.RootDir().Contains(path)
}

// Open opens raw as a file. Create and CreateNew make a missing file;
// CreateNew fails if the file already exists. Truncate empties the file
// through the new handle.
func (f *FS) Open(raw string, opts fops.OpenOptions) (*fops.File, error) {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return nil, err
	}
	if !opts.IsValid() {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrInvalidInput)
	}

	node, err := f.lookup(path)
	switch {
	case err == nil && opts.CreateNew:
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrAlreadyExists)
	case errors.Is(err, vfs.ErrNotFound) && (opts.Create || opts.CreateNew):
		if err := f.wd.RootDir().Create(path.ToRel(), vfs.NodeTypeFile); err != nil {
			return nil, err
		}
		logger.Debug("Created %q on open", path.String())
		if node, err = f.lookup(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	file, err := fops.OpenFile(path, node, opts)
	if err != nil {
		return nil, err
	}
	if opts.Truncate {
		if err := file.Truncate(0); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return file, nil
}

// OpenDir opens raw as a directory.
func (f *FS) OpenDir(raw string, opts fops.OpenOptions) (*fops.Directory, error) {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return nil, err
	}
	node, err := f.lookup(path)
	if err != nil {
		return nil, err
	}
	return fops.OpenDir(path, node, opts)
}

// CreateFile creates an empty regular file.
func (f *FS) CreateFile(raw string) error {
	return f.create(raw, vfs.NodeTypeFile)
}

// CreateDir creates a directory. The parent must exist.
func (f *FS) CreateDir(raw string) error {
	return f.create(raw, vfs.NodeTypeDir)
}

func (f *FS) create(raw string, ty vfs.NodeType) error {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return err
	}
	if path.IsRoot() {
		return vfs.NewFSError(vfs.OpCreate, path.String(), vfs.ErrAlreadyExists)
	}
	logger.Debug("Creating %s %q", ty, path.String())
	return f.wd.RootDir().Create(path.ToRel(), ty)
}

// CreateDirAll creates a directory and any missing parents. An existing
// directory at raw is not an error.
func (f *FS) CreateDirAll(raw string) error {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return err
	}
	if path.IsRoot() {
		return nil
	}
	err = vfs.CreateRecursive(f.wd.RootDir(), path.ToRel(), vfs.NodeTypeDir)
	if errors.Is(err, vfs.ErrAlreadyExists) {
		if node, lookupErr := f.lookup(path); lookupErr == nil && vfs.EnsureDir(node) == nil {
			return nil
		}
	}
	return err
}

// RemoveFile unlinks a non-directory.
func (f *FS) RemoveFile(raw string) error {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return err
	}
	node, err := f.lookup(path)
	if err != nil {
		return err
	}
	if err := vfs.EnsureFile(node); err != nil {
		return vfs.NewFSError(vfs.OpRemove, path.String(), err)
	}
	logger.Debug("Removing file %q", path.String())
	return f.wd.RootDir().Unlink(path.ToRel())
}

// RemoveDir removes an empty directory. Mount points and "/" cannot be
// removed.
func (f *FS) RemoveDir(raw string) error {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return err
	}
	if path.IsRoot() || f.wd.RootDir().Contains(path) {
		return vfs.NewFSError(vfs.OpRemove, path.String(), vfs.ErrPermissionDenied)
	}
	node, err := f.lookup(path)
	if err != nil {
		return err
	}
	if err := vfs.EnsureDir(node); err != nil {
		return vfs.NewFSError(vfs.OpRemove, path.String(), err)
	}
	logger.Debug("Removing directory %q", path.String())
	return f.wd.RootDir().Unlink(path.ToRel())
}

// Rename moves oldRaw to newRaw. Both must be in the same mount.
func (f *FS) Rename(oldRaw, newRaw string) error {
	oldPath, err := f.wd.AbsolutePath(oldRaw)
	if err != nil {
		return err
	}
	newPath, err := f.wd.AbsolutePath(newRaw)
	if err != nil {
		return err
	}
	if oldPath == newPath {
		_, err := f.lookup(oldPath)
		return err
	}
	logger.Debug("Renaming %q to %q", oldPath.String(), newPath.String())
	return f.wd.RootDir().Rename(oldPath.ToRel(), newPath.ToRel())
}

// RemoveAll removes raw and everything below it. A mount point inside the
// tree stops the removal with ErrPermissionDenied.
func (f *FS) RemoveAll(raw string) error {
	path, err := f.wd.AbsolutePath(raw)
	if err != nil {
		return err
	}
	attr, err := f.GetAttr(path.String())
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return f.RemoveFile(path.String())
	}
	for _, mp := range f.wd.RootDir().MountPoints() {
		if mp.Path.HasPrefix(path) {
			return vfs.NewFSError(vfs.OpRemove, mp.Path.String(), vfs.ErrPermissionDenied)
		}
	}
	if path.IsRoot() {
		return vfs.NewFSError(vfs.OpRemove, path.String(), vfs.ErrPermissionDenied)
	}
	return f.removeTree(path)
}

func (f *FS) removeTree(path vfs.AbsPath) error {
	attr, err := f.GetAttr(path.String())
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return f.RemoveFile(path.String())
	}

	entries, err := f.ReadDirAll(path.String())
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := f.removeTree(path.Join(e.Name)); err != nil {
			return err
		}
	}
	return f.RemoveDir(path.String())
}

// ReadFile returns the whole content of raw.
func (f *FS) ReadFile(raw string) ([]byte, error) {
	file, err := f.Open(raw, fops.ReadOnly())
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteFile replaces the content of raw, creating it if needed.
func (f *FS) WriteFile(raw string, data []byte) error {
	return f.writeFile(raw, data, fops.OpenOptions{Write: true, Create: true, Truncate: true})
}

// AppendFile appends data to raw, creating it if needed.
func (f *FS) AppendFile(raw string, data []byte) error {
	return f.writeFile(raw, data, fops.OpenOptions{Append: true, Create: true})
}

func (f *FS) writeFile(raw string, data []byte, opts fops.OpenOptions) error {
	file, err := f.Open(raw, opts)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// ReadDirAll lists raw, leaving out "." and "..".
func (f *FS) ReadDirAll(raw string) ([]vfs.DirEntry, error) {
	dir, err := f.OpenDir(raw, fops.ReadOnly())
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	var entries []vfs.DirEntry
	buf := make([]vfs.DirEntry, readDirBatch)
	for {
		n, err := dir.ReadDir(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return entries, nil
		}
		for _, e := range buf[:n] {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			entries = append(entries, e)
		}
	}
}
