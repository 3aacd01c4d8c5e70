package fops

import (
	"sync"

	"vmountfs/internal/capability"
	"vmountfs/internal/vfs"
)

// Directory is an open directory. Listing requires the execute right.
type Directory struct {
	mu       sync.Mutex
	path     vfs.AbsPath
	node     capability.WithCap[vfs.Node]
	entryIdx int
	closed   bool
}

// OpenDir opens node as a directory handle. The permission bits must cover
// the rights implied by opts; the handle is also granted Execute.
func OpenDir(path vfs.AbsPath, node vfs.Node, opts OpenOptions) (*Directory, error) {
	if !opts.IsValid() {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrInvalidInput)
	}
	attr, err := node.GetAttr()
	if err != nil {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), err)
	}
	if !attr.IsDir() {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrNotADirectory)
	}
	if !PermToCap(attr.Perm).Contains(opts.Cap()) {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), vfs.ErrPermissionDenied)
	}
	c := opts.Cap() | capability.Execute
	if err := node.Open(); err != nil {
		return nil, vfs.NewFSError(vfs.OpOpen, path.String(), err)
	}

	logger.Trace("Opened directory %q with %s", path.String(), c)
	return &Directory{path: path, node: capability.New(node, c)}, nil
}

// Path returns the path the directory was opened by.
func (d *Directory) Path() vfs.AbsPath {
	return d.path
}

// EntryIdx returns the number of entries consumed so far.
func (d *Directory) EntryIdx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entryIdx
}

// SetEntryIdx moves the entry cursor, as seekdir does.
func (d *Directory) SetEntryIdx(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entryIdx = max(idx, 0)
}

func (d *Directory) accessLocked(c capability.Cap) (vfs.Node, error) {
	if d.closed {
		return nil, vfs.ErrClosed
	}
	return d.node.Access(c)
}

// GetAttr returns the node attributes. No rights are needed.
func (d *Directory) GetAttr() (vfs.NodeAttr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node, err := d.accessLocked(capability.None)
	if err != nil {
		return vfs.NodeAttr{}, vfs.NewFSError(vfs.OpGetattr, d.path.String(), err)
	}
	attr, err := node.GetAttr()
	if err != nil {
		return vfs.NodeAttr{}, vfs.NewFSError(vfs.OpGetattr, d.path.String(), err)
	}
	return attr, nil
}

// ReadDir fills entries from the cursor and advances it by the count
// returned. 0 means the directory is exhausted.
func (d *Directory) ReadDir(entries []vfs.DirEntry) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node, err := d.accessLocked(capability.Execute)
	if err != nil {
		return 0, vfs.NewFSError(vfs.OpReadDir, d.path.String(), err)
	}
	n, err := node.ReadDir(d.entryIdx, entries)
	if err != nil {
		return 0, vfs.NewFSError(vfs.OpReadDir, d.path.String(), err)
	}
	d.entryIdx += n
	return n, nil
}

// Close releases the node. The release error is logged, never returned.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return vfs.NewFSError(vfs.OpRelease, d.path.String(), vfs.ErrClosed)
	}
	d.closed = true
	if err := d.node.AccessUnchecked().Release(); err != nil {
		logger.Debug("Release of %q failed: %v", d.path.String(), err)
	}
	return nil
}
