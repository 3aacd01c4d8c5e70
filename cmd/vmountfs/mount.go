package main

import (
	"context"
	"flag"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"vmountfs/internal/fs"
	"vmountfs/internal/rootfs"
)

// Mount implements subcommands.Command for the "mount" command.
type Mount struct {
	allowOther bool
	readOnly   bool
}

// Name implements subcommands.Command.Name.
func (*Mount) Name() string { return "mount" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Mount) Synopsis() string { return "serve the namespace over FUSE until interrupted" }

// Usage implements subcommands.Command.Usage.
func (*Mount) Usage() string { return "mount [-allow-other] [-read-only] <dir>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mount) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.allowOther, "allow-other", false, "allow other users to access the mount (needs user_allow_other)")
	f.BoolVar(&m.readOnly, "read-only", false, "mount read-only")
}

// Execute implements subcommands.Command.Execute.
func (m *Mount) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usage(f)
	}
	mountPoint := filepath.Clean(f.Arg(0))

	return withSystem(args, func(sys *rootfs.System) error {
		server := fs.NewServer(sys.FS(), fs.Options{AllowOther: m.allowOther, ReadOnly: m.readOnly})

		logger.Debug("Setting up signal handlers...")
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := server.Mount(ctx, mountPoint); err != nil {
			return err
		}
		logger.Info("Filesystem mounted and ready")

		var served atomic.Bool
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			// Returns when the mount goes away, whoever unmounted it
			defer stop()
			err := server.Wait()
			served.Store(true)
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			if served.Load() {
				return nil
			}
			logger.Info("Shutting down")
			return server.Unmount(mountPoint)
		})

		err := g.Wait()
		logger.Info("Clean shutdown complete")
		return err
	})
}
