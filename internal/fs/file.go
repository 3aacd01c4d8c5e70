package fs

import (
	"context"
	"errors"
	"io"
	"sync"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"vmountfs/internal/capability"
	"vmountfs/internal/fops"
	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is any non-directory node of the namespace: regular files as well as
// devices.
type File struct {
	fs   *Server
	path vfs.AbsPath
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path.String())

	attr, err := f.fs.fsys.GetAttr(f.path.String())
	if err != nil {
		return ToFuseError(err)
	}
	f.fs.fillAttr(attr, a)

	fileLogger.Trace("File attributes: mode=%v, size=%d", a.Mode, a.Size)
	return nil
}

// Open implements the NodeOpener interface, opening a capability-checked
// handle on the node.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening file %q with flags %#o", f.path.String(), flags)

	opts := fops.OptionsFromFlags(flags)
	// The kernel supplies explicit offsets, including for appends. An
	// append flag on a read-only open grants nothing.
	opts.Append = false

	file, err := f.fs.fsys.Open(f.path.String(), opts)
	if err != nil {
		fileLogger.Warn("Failed to open %q: %v", f.path.String(), err)
		return nil, ToFuseError(err)
	}

	// Sizes change behind the kernel's back, and devices have none
	resp.Flags |= fuse.OpenDirectIO

	fileLogger.Debug("Successfully opened file %q", f.path.String())
	return &FileHandle{file: file}, nil
}

// Setattr implements the NodeSetattrer interface.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	fileLogger.Debug("Setting attributes on %q", f.path.String())
	if err := f.fs.setattr(f.path, req); err != nil {
		return ToFuseError(err)
	}
	return f.Attr(ctx, &resp.Attr)
}

// Fsync implements the NodeFsyncer interface.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	fileLogger.Trace("Syncing %q", f.path.String())
	node, err := f.fs.fsys.Lookup(f.path.String())
	if err != nil {
		return ToFuseError(err)
	}
	return ToFuseError(node.Fsync())
}

// FileHandle represents an open file handle backed by a fops.File.
type FileHandle struct {
	file *fops.File
	mu   sync.Mutex
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Reading %d bytes from file %q at offset %d",
		req.Size, fh.file.Path().String(), req.Offset)

	buf := make([]byte, req.Size)
	n, err := fh.file.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		fileLogger.Error("Failed to read from file: %v", err)
		return ToFuseError(err)
	}

	resp.Data = buf[:n]
	fileLogger.Trace("Successfully read %d bytes", n)
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Writing %d bytes to file %q at offset %d",
		len(req.Data), fh.file.Path().String(), req.Offset)

	n, err := fh.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		fileLogger.Error("Failed to write to file: %v", err)
		return ToFuseError(err)
	}
	return nil
}

// Flush implements the HandleFlusher interface. It is called on every close
// of a file descriptor, so handles without write access have nothing to do.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if !fh.file.Cap().Contains(capability.Write) {
		return nil
	}
	if err := fh.file.Flush(); err != nil && !errors.Is(err, vfs.ErrUnsupported) {
		return ToFuseError(err)
	}
	return nil
}

// Release implements the HandleReleaser interface, closing the file handle.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing file %q", fh.file.Path().String())
	return ToFuseError(fh.file.Close())
}
