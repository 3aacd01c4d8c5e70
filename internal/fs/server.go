package fs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/cenkalti/backoff"

	"vmountfs/internal/api"
	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	serverLogger = logging.GetLogger().WithPrefix("fuse")
)

// mountTimeout bounds the wait for the kernel to expose a new mount.
const mountTimeout = 3 * time.Second

// Options tune how the namespace is mounted.
type Options struct {
	// AllowOther lets users other than the mounting one access the mount.
	// It needs user_allow_other in /etc/fuse.conf.
	AllowOther bool
	// ReadOnly mounts the filesystem read-only at the kernel level.
	ReadOnly bool
}

// Server exports a namespace over FUSE.
type Server struct {
	fsys *api.FS
	opts Options
	uid  uint32 // Owner reported for every node
	gid  uint32 // Group reported for every node

	mu   sync.Mutex
	conn *fuse.Conn
	done chan error // Receives the result of Serve
}

// NewServer creates a server for fsys. Ownership comes from the PUID and
// PGID environment variables, falling back to the process ids.
func NewServer(fsys *api.FS, opts Options) *Server {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			serverLogger.Debug("Using PUID from environment: %d", uid)
		} else {
			serverLogger.Warn("Ignoring invalid PUID %q", puidStr)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			serverLogger.Debug("Using PGID from environment: %d", gid)
		} else {
			serverLogger.Warn("Ignoring invalid PGID %q", pgidStr)
		}
	}

	return &Server{fsys: fsys, opts: opts, uid: uid, gid: gid}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (s *Server) Root() (fusefs.Node, error) {
	serverLogger.Trace("Getting root directory node")
	return &Dir{fs: s, path: vfs.RootPath()}, nil
}

// Statfs implements the fusefs.FSStatfser interface. The numbers are those of
// the filesystem mounted at "/".
func (s *Server) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	info, err := s.fsys.Root().MainFS().Statfs()
	if err != nil {
		return ToFuseError(err)
	}
	resp.Bsize = info.BlockSize
	resp.Frsize = info.BlockSize
	resp.Blocks = info.Blocks
	resp.Bfree = info.FreeBlocks
	resp.Bavail = info.AvailBlocks
	resp.Files = info.Files
	resp.Ffree = info.FreeFiles
	resp.Namelen = info.NameLen
	return nil
}

func (s *Server) nodeFor(path vfs.AbsPath, attr vfs.NodeAttr) fusefs.Node {
	if attr.IsDir() {
		return &Dir{fs: s, path: path}
	}
	return &File{fs: s, path: path}
}

func (s *Server) setattr(path vfs.AbsPath, req *fuse.SetattrRequest) error {
	r := setattrRequest(req)
	if r.IsEmpty() {
		// Timestamps only
		return nil
	}
	return s.setattrNode(path, r)
}

func (s *Server) setattrNode(path vfs.AbsPath, req vfs.SetAttrRequest) error {
	node, err := s.fsys.Lookup(path.String())
	if err != nil {
		return err
	}
	if err := node.SetAttr(req); err != nil {
		return vfs.NewFSError(vfs.OpSetattr, path.String(), err)
	}
	return nil
}

// waitForMount polls the mount point until the kernel answers for it. A
// failed Serve stops the wait immediately.
func (s *Server) waitForMount(ctx context.Context, mountPoint string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = mountTimeout

	op := func() error {
		select {
		case err := <-s.done:
			// Keep the result for Wait
			s.done <- err
			return backoff.Permanent(fmt.Errorf("server stopped before mount was ready: %v", err))
		default:
		}

		info, err := os.Stat(mountPoint)
		switch {
		case err == nil && info.IsDir():
			return nil
		case err == nil:
			return backoff.Permanent(fmt.Errorf("%s is not a directory", mountPoint))
		case os.IsNotExist(err) || IsTemporary(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Mount attaches the namespace at mountPoint and starts serving requests in
// the background. It returns once the mount is usable.
func (s *Server) Mount(ctx context.Context, mountPoint string) error {
	serverLogger.Info("Mounting namespace at %s", mountPoint)
	serverLogger.Debug("UID: %d, GID: %d", s.uid, s.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("vmountfs"),
		fuse.Subtype("vmountfs"),
		fuse.DefaultPermissions(),
	}
	if s.opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	if s.opts.ReadOnly {
		mountOpts = append(mountOpts, fuse.ReadOnly())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	done := make(chan error, 1)
	s.mu.Lock()
	s.conn = c
	s.done = done
	s.mu.Unlock()

	go func() {
		err := fusefs.Serve(c, s)
		if err != nil {
			serverLogger.Error("FUSE server error: %v", err)
		}
		done <- err
	}()

	// Wait for mount to be ready
	if err := s.waitForMount(ctx, mountPoint); err != nil {
		serverLogger.Error("Mount point not ready: %v", err)
		_ = fuse.Unmount(mountPoint)
		c.Close()
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	serverLogger.Info("Namespace mounted at %s", mountPoint)
	return nil
}

// Wait blocks until the server stops serving and returns its error.
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	err := <-done
	done <- err
	return err
}

// Unmount detaches the namespace and closes the FUSE connection.
func (s *Server) Unmount(mountPoint string) error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	serverLogger.Info("Unmounting namespace from %s", mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		serverLogger.Error("Unmount failed: %v", err)
		return err
	}
	serverLogger.Info("Unmount completed successfully")
	return c.Close()
}
