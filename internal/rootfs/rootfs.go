// Package rootfs brings a namespace up from a config layout.
package rootfs

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"vmountfs/internal/api"
	"vmountfs/internal/config"
	"vmountfs/internal/devfs"
	"vmountfs/internal/hostfs"
	"vmountfs/internal/logging"
	"vmountfs/internal/ramfs"
	"vmountfs/internal/root"
	"vmountfs/internal/state"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("rootfs")
)

// System is a running namespace together with the filesystems backing it.
type System struct {
	cfg    *config.Config
	ns     *root.Namespace
	api    *api.FS
	mainFS vfs.FileSystem
	state  *state.Manager

	closeOnce sync.Once
	closeErr  error
}

// NewFileSystem creates an unmounted filesystem of the given config type.
func NewFileSystem(fsType, source string, readOnly bool) (vfs.FileSystem, error) {
	switch fsType {
	case config.TypeRamFS:
		return ramfs.New(), nil
	case config.TypeDevFS:
		return devfs.New(), nil
	case config.TypeHostFS:
		fs, err := hostfs.New(source, readOnly)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("%w: unsupported filesystem type %q", config.ErrInvalidConfig, fsType)
	}
}

// Describe returns a short human-readable description of fs, such as
// "hostfs /srv/data (ro)".
func Describe(fs vfs.FileSystem) string {
	switch f := fs.(type) {
	case *ramfs.FileSystem:
		return config.TypeRamFS
	case *devfs.FileSystem:
		return config.TypeDevFS
	case *hostfs.FileSystem:
		if f.ReadOnly() {
			return fmt.Sprintf("%s %s (ro)", config.TypeHostFS, f.Source())
		}
		return fmt.Sprintf("%s %s", config.TypeHostFS, f.Source())
	default:
		return fmt.Sprintf("%T", fs)
	}
}

// MountPoints creates the filesystems named by cfg. The root comes first.
func MountPoints(cfg *config.Config) ([]root.MountPoint, error) {
	mainFS, err := NewFileSystem(cfg.Root.Type, cfg.Root.Source, false)
	if err != nil {
		return nil, fmt.Errorf("root filesystem: %w", err)
	}
	mounts := []root.MountPoint{{Path: vfs.RootPath(), FS: mainFS}}
	for _, m := range cfg.Mounts {
		fs, err := NewFileSystem(m.Type, m.Source, m.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", m.Path, err)
		}
		mounts = append(mounts, root.NewMountPoint(m.Path, fs))
	}
	return mounts, nil
}

// New validates cfg, creates its filesystems, restores the root snapshot if
// one is configured and initializes the namespace.
func New(cfg *config.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mounts, err := MountPoints(cfg)
	if err != nil {
		return nil, err
	}

	s := &System{cfg: cfg, ns: root.NewNamespace(), mainFS: mounts[0].FS}
	s.api = api.New(s.ns)

	if cfg.Root.State != "" {
		if s.state, err = state.NewManager(cfg.Root.State); err != nil {
			return nil, err
		}
		snap, err := s.state.LoadSnapshot()
		if err != nil {
			return nil, err
		}
		// Restore before mounting so mount directories are not shadowed
		if err := state.Restore(s.mainFS.RootDir(), snap); err != nil {
			return nil, fmt.Errorf("restore %s: %w", s.state.Path(), err)
		}
	}

	if err := s.api.InitRootFS(mounts); err != nil {
		return nil, err
	}
	logger.Info("Namespace ready: %s root, %d mounts", cfg.Root.Type, len(cfg.Mounts))
	return s, nil
}

// FS returns the path-based API.
func (s *System) FS() *api.FS {
	return s.api
}

// Namespace returns the working-directory provider.
func (s *System) Namespace() *root.Namespace {
	return s.ns
}

// Config returns the layout the system was built from.
func (s *System) Config() *config.Config {
	return s.cfg
}

// Sync writes a snapshot of the root filesystem when a state file is
// configured.
func (s *System) Sync() error {
	if s.state == nil {
		return nil
	}
	snap, err := state.Capture(s.mainFS.RootDir())
	if err != nil {
		return fmt.Errorf("capture root: %w", err)
	}
	return s.state.SaveSnapshot(snap)
}

// Close syncs state and tears the namespace down. Further calls return the
// first result.
func (s *System) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = multierr.Append(s.Sync(), s.ns.Close())
		logger.Info("Namespace closed")
	})
	return s.closeErr
}
