package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"vmountfs/internal/fops"
	"vmountfs/internal/rootfs"
	"vmountfs/internal/vfs"
)

// Ls implements subcommands.Command for the "ls" command.
type Ls struct {
	long bool
}

// Name implements subcommands.Command.Name.
func (*Ls) Name() string { return "ls" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Ls) Synopsis() string { return "list a directory" }

// Usage implements subcommands.Command.Usage.
func (*Ls) Usage() string { return "ls [-l] [path]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (l *Ls) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.long, "l", false, "show type, permissions and size")
}

// Execute implements subcommands.Command.Execute.
func (l *Ls) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 1 {
		return usage(f)
	}
	target := "/"
	if f.NArg() == 1 {
		target = f.Arg(0)
	}

	return withSystem(args, func(sys *rootfs.System) error {
		fsys := sys.FS()
		entries, err := fsys.ReadDirAll(target)
		if err != nil {
			return err
		}
		if !l.long {
			for _, e := range entries {
				fmt.Fprintln(stdout, e.Name)
			}
			return nil
		}

		dir, err := fsys.AbsolutePath(target)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
		for _, e := range entries {
			attr, err := fsys.GetAttr(dir.Join(e.Name).String())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%c%s\t%d\t %s\n", attr.Type.Char(), attr.Perm, attr.Size, e.Name)
		}
		return w.Flush()
	})
}

// Cat implements subcommands.Command for the "cat" command.
type Cat struct {
	limit int64
}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string { return "cat" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string { return "print a file" }

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string { return "cat [-c bytes] <path>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *Cat) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.limit, "c", 0, "stop after this many bytes; needed for endless devices such as /dev/zero")
}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usage(f)
	}
	return withSystem(args, func(sys *rootfs.System) error {
		file, err := sys.FS().Open(f.Arg(0), fops.ReadOnly())
		if err != nil {
			return err
		}
		defer file.Close()

		var src io.Reader = file
		if c.limit > 0 {
			src = io.LimitReader(file, c.limit)
		}
		_, err = io.Copy(stdout, src)
		return err
	})
}

// Stat implements subcommands.Command for the "stat" command.
type Stat struct{}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string { return "stat" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string { return "show the attributes of a node" }

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string { return "stat <path>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*Stat) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Stat) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usage(f)
	}
	return withSystem(args, func(sys *rootfs.System) error {
		fsys := sys.FS()
		path, err := fsys.AbsolutePath(f.Arg(0))
		if err != nil {
			return err
		}
		attr, err := fsys.GetAttr(path.String())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(stdout, 0, 0, 1, ' ', 0)
		fmt.Fprintf(w, "path:\t%s\n", path)
		fmt.Fprintf(w, "type:\t%s\n", attr.Type)
		fmt.Fprintf(w, "mode:\t%04o (%s)\n", attr.Perm, attr.Perm)
		fmt.Fprintf(w, "size:\t%d\n", attr.Size)
		fmt.Fprintf(w, "blocks:\t%d\n", attr.Blocks)
		fmt.Fprintf(w, "owner:\t%d:%d\n", attr.UID, attr.GID)
		fmt.Fprintf(w, "filesystem:\t%s\n", rootfs.Describe(fsys.Root().FileSystemAt(path)))
		fmt.Fprintf(w, "mount point:\t%t\n", fsys.IsMountPoint(path.String()))
		return w.Flush()
	})
}

// Mkdir implements subcommands.Command for the "mkdir" command.
type Mkdir struct {
	parents bool
}

// Name implements subcommands.Command.Name.
func (*Mkdir) Name() string { return "mkdir" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkdir) Synopsis() string { return "create directories" }

// Usage implements subcommands.Command.Usage.
func (*Mkdir) Usage() string { return "mkdir [-p] <path>...\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkdir) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.parents, "p", false, "create missing parents; existing directories are not an error")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkdir) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage(f)
	}
	return withSystem(args, func(sys *rootfs.System) error {
		for _, p := range f.Args() {
			create := sys.FS().CreateDir
			if m.parents {
				create = sys.FS().CreateDirAll
			}
			if err := create(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rm implements subcommands.Command for the "rm" command.
type Rm struct {
	recursive bool
	dir       bool
}

// Name implements subcommands.Command.Name.
func (*Rm) Name() string { return "rm" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Rm) Synopsis() string { return "remove files or directories" }

// Usage implements subcommands.Command.Usage.
func (*Rm) Usage() string { return "rm [-r | -d] <path>...\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (r *Rm) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.recursive, "r", false, "remove directories and their contents")
	f.BoolVar(&r.dir, "d", false, "remove empty directories")
}

// Execute implements subcommands.Command.Execute.
func (r *Rm) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage(f)
	}
	return withSystem(args, func(sys *rootfs.System) error {
		fsys := sys.FS()
		for _, p := range f.Args() {
			var err error
			switch {
			case r.recursive:
				err = fsys.RemoveAll(p)
			case r.dir:
				err = fsys.RemoveDir(p)
			default:
				err = fsys.RemoveFile(p)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Mv implements subcommands.Command for the "mv" command.
type Mv struct{}

// Name implements subcommands.Command.Name.
func (*Mv) Name() string { return "mv" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Mv) Synopsis() string { return "rename a node within one filesystem" }

// Usage implements subcommands.Command.Usage.
func (*Mv) Usage() string { return "mv <old> <new>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*Mv) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Mv) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage(f)
	}
	return withSystem(args, func(sys *rootfs.System) error {
		return sys.FS().Rename(f.Arg(0), f.Arg(1))
	})
}

// Write implements subcommands.Command for the "write" command.
type Write struct {
	appendMode bool
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string { return "write" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string { return "write text to a file, creating it if needed" }

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write [-a] <path> [text...]
  Without text, the content is read from stdin.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&w.appendMode, "a", false, "append instead of replacing the content")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage(f)
	}

	var data []byte
	if f.NArg() > 1 {
		data = []byte(strings.Join(f.Args()[1:], " ") + "\n")
	} else {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return failf("reading stdin: %v", err)
		}
	}

	return withSystem(args, func(sys *rootfs.System) error {
		if w.appendMode {
			return sys.FS().AppendFile(f.Arg(0), data)
		}
		return sys.FS().WriteFile(f.Arg(0), data)
	})
}

// Mounts implements subcommands.Command for the "mounts" command.
type Mounts struct{}

// Name implements subcommands.Command.Name.
func (*Mounts) Name() string { return "mounts" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Mounts) Synopsis() string { return "show the mount table" }

// Usage implements subcommands.Command.Usage.
func (*Mounts) Usage() string { return "mounts\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*Mounts) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Mounts) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		return usage(f)
	}
	return withSystem(args, func(sys *rootfs.System) error {
		rootDir := sys.FS().Root()
		mounts := rootDir.MountPoints()
		sort.Slice(mounts, func(i, j int) bool {
			return mounts[i].Path.String() < mounts[j].Path.String()
		})

		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\n", vfs.RootPath(), rootfs.Describe(rootDir.MainFS()))
		for _, mp := range mounts {
			fmt.Fprintf(w, "%s\t%s\n", mp.Path, rootfs.Describe(mp.FS))
		}
		return w.Flush()
	})
}
