package fs

import (
	"context"
	"errors"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"vmountfs/internal/fops"
	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a directory of the namespace. Mount points are crossed
// transparently because every operation is dispatched by absolute path.
type Dir struct {
	fs   *Server
	path vfs.AbsPath
}

func (d *Dir) child(name string) vfs.AbsPath {
	return d.path.Join(name)
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path.String())

	attr, err := d.fs.fsys.GetAttr(d.path.String())
	if err != nil {
		return ToFuseError(err)
	}
	d.fs.fillAttr(attr, a)
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	childPath := d.child(name)
	dirLogger.Debug("Looking up %q in directory %q", name, d.path.String())

	attr, err := d.fs.fsys.GetAttr(childPath.String())
	if err != nil {
		dirLogger.Debug("Lookup of %q failed: %v", childPath.String(), err)
		return nil, ToFuseError(err)
	}
	return d.fs.nodeFor(childPath, attr), nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path.String())

	list, err := d.fs.fsys.ReadDirAll(d.path.String())
	if err != nil {
		return nil, ToFuseError(err)
	}

	// Add standard entries
	entries := make([]fuse.Dirent, 0, len(list)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, e := range list {
		entries = append(entries, fuse.Dirent{Name: e.Name, Type: direntType(e.Type)})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path.String(), len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	newPath := d.child(req.Name)
	dirLogger.Info("Creating new directory %q", newPath.String())

	if err := d.fs.fsys.CreateDir(newPath.String()); err != nil {
		dirLogger.Warn("Failed to create directory %q: %v", newPath.String(), err)
		return nil, ToFuseError(err)
	}
	d.fs.applyMode(newPath, req.Mode&^req.Umask)
	return &Dir{fs: d.fs, path: newPath}, nil
}

// Create implements the NodeCreater interface, creating and opening a file.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	newPath := d.child(req.Name)
	dirLogger.Info("Creating new file %q", newPath.String())

	opts := fops.OptionsFromFlags(int(req.Flags))
	opts.Create = true
	f, err := d.fs.fsys.Open(newPath.String(), opts)
	if err != nil {
		dirLogger.Warn("Failed to create file %q: %v", newPath.String(), err)
		return nil, nil, ToFuseError(err)
	}
	d.fs.applyMode(newPath, req.Mode&^req.Umask)

	attr, err := f.GetAttr()
	if err != nil {
		_ = f.Close()
		return nil, nil, ToFuseError(err)
	}
	d.fs.fillAttr(attr, &resp.Attr)
	return &File{fs: d.fs, path: newPath}, &FileHandle{file: f}, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	childPath := d.child(req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath.String(), req.Dir)

	var err error
	if req.Dir {
		err = d.fs.fsys.RemoveDir(childPath.String())
	} else {
		err = d.fs.fsys.RemoveFile(childPath.String())
	}
	if err != nil {
		dirLogger.Warn("Failed to remove %q: %v", childPath.String(), err)
		return ToFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return ToFuseError(vfs.ErrNotADirectory)
	}

	oldPath := d.child(req.OldName)
	newPath := target.child(req.NewName)
	dirLogger.Info("Renaming %q to %q", oldPath.String(), newPath.String())

	if err := d.fs.fsys.Rename(oldPath.String(), newPath.String()); err != nil {
		dirLogger.Warn("Failed to rename %q: %v", oldPath.String(), err)
		return ToFuseError(err)
	}
	return nil
}

// Setattr implements the NodeSetattrer interface.
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	dirLogger.Debug("Setting attributes on %q", d.path.String())
	if err := d.fs.setattr(d.path, req); err != nil {
		return ToFuseError(err)
	}
	return d.Attr(ctx, &resp.Attr)
}

// applyMode sets the permission of a freshly created node. Filesystems
// without settable permissions keep their default.
func (s *Server) applyMode(path vfs.AbsPath, mode os.FileMode) {
	perm := vfs.NodePerm(mode.Perm())
	err := s.setattrNode(path, vfs.SetAttrRequest{Perm: &perm})
	if err != nil && !errors.Is(err, vfs.ErrUnsupported) {
		dirLogger.Debug("Could not set mode of %q: %v", path.String(), err)
	}
}
