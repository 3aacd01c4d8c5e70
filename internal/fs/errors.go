// Package fs exports a namespace to the host kernel over FUSE.
//
// This file contains error handling utilities.
package fs

import (
	"errors"
	"os"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"vmountfs/internal/logging"
	"vmountfs/internal/vfs"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// errnoTable maps the error taxonomy onto errnos. Order matters: the first
// match wins.
var errnoTable = []struct {
	err   error
	errno unix.Errno
}{
	{vfs.ErrNotFound, unix.ENOENT},
	{vfs.ErrAlreadyExists, unix.EEXIST},
	{vfs.ErrNotADirectory, unix.ENOTDIR},
	{vfs.ErrIsADirectory, unix.EISDIR},
	{vfs.ErrDirectoryNotEmpty, unix.ENOTEMPTY},
	{vfs.ErrPermissionDenied, unix.EACCES},
	{vfs.ErrInvalidInput, unix.EINVAL},
	{vfs.ErrCrossDevice, unix.EXDEV},
	{vfs.ErrNoSpace, unix.ENOSPC},
	{vfs.ErrClosed, unix.EBADF},
	{vfs.ErrUnsupported, unix.ENOSYS},
}

// ToFuseError converts an error from the namespace to the errno FUSE
// reports to the kernel. Unknown errors become EIO.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	for _, e := range errnoTable {
		if errors.Is(err, e.err) {
			errLogger.Trace("Converting %v to %v", err, e.errno)
			return fuse.Errno(e.errno)
		}
	}

	// For errors outside the taxonomy, convert common error types
	var errno unix.Errno
	switch {
	case errors.As(err, &errno):
		return fuse.Errno(errno)
	case errors.Is(err, os.ErrNotExist):
		return fuse.Errno(unix.ENOENT)
	case errors.Is(err, os.ErrPermission):
		return fuse.Errno(unix.EACCES)
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return fuse.Errno(unix.EIO)
	}
}

// IsTemporary returns true if the error is likely temporary and the
// operation could succeed if retried.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, unix.EAGAIN):
		return true
	case errors.Is(err, unix.EBUSY):
		return true
	case errors.Is(err, unix.ETIMEDOUT):
		return true
	case errors.Is(err, unix.ENOTCONN):
		return true
	default:
		return false
	}
}
