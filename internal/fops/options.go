// Package fops provides file and directory handles that carry a capability
// mask and per-handle cursor state over a shared vfs.Node.
package fops

import (
	"os"

	"golang.org/x/sys/unix"

	"vmountfs/internal/capability"
	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("fops")
)

// OpenOptions describes the access requested when opening a path.
type OpenOptions struct {
	Read        bool
	Write       bool
	Append      bool
	Truncate    bool
	Create      bool
	CreateNew   bool
	CloseOnExec bool
}

// ReadOnly is the usual option set for reading a file or listing a directory.
func ReadOnly() OpenOptions {
	return OpenOptions{Read: true}
}

// OptionsFromFlags converts os.O_* style flags.
func OptionsFromFlags(flags int) OpenOptions {
	var opts OpenOptions
	switch flags & unix.O_ACCMODE {
	case os.O_RDONLY:
		opts.Read = true
	case os.O_WRONLY:
		opts.Write = true
	case os.O_RDWR:
		opts.Read = true
		opts.Write = true
	}
	opts.Append = flags&os.O_APPEND != 0
	opts.Truncate = flags&os.O_TRUNC != 0
	opts.Create = flags&os.O_CREATE != 0
	opts.CreateNew = flags&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL
	opts.CloseOnExec = flags&unix.O_CLOEXEC != 0
	return opts
}

// Cap returns the minimal rights needed to honor o. Append implies writing.
func (o OpenOptions) Cap() capability.Cap {
	c := capability.None
	if o.Read {
		c |= capability.Read
	}
	if o.Write || o.Append {
		c |= capability.Write
	}
	return c
}

// IsValid reports whether the combination of flags is consistent.
func (o OpenOptions) IsValid() bool {
	if !o.Read && !o.Write && !o.Append {
		return false
	}
	switch {
	case o.Append:
		return !o.Truncate || o.CreateNew
	case o.Write:
		return true
	default:
		return !o.Truncate && !o.Create && !o.CreateNew
	}
}

// PermToCap derives the rights the owner is granted by perm.
func PermToCap(perm vfs.NodePerm) capability.Cap {
	return capability.FromPerm(perm)
}
