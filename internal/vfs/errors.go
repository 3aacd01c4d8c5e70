package vfs

import (
	"errors"
	"fmt"

	"vmountfs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrUnsupported indicates the node or filesystem does not implement the operation
	ErrUnsupported = errors.New("operation not supported")

	// ErrInvalidInput indicates a malformed argument
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotADirectory indicates a directory operation on a non-directory
	ErrNotADirectory = errors.New("not a directory")

	// ErrIsADirectory indicates a file operation on a directory
	ErrIsADirectory = errors.New("is a directory")

	// ErrPermissionDenied indicates the requested access exceeds what is allowed
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyExists indicates path already exists
	ErrAlreadyExists = errors.New("path already exists")

	// ErrNotFound indicates a path doesn't exist
	ErrNotFound = errors.New("path not found")

	// ErrDirectoryNotEmpty indicates attempt to remove non-empty directory
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrCrossDevice indicates a rename between two different mounts
	ErrCrossDevice = errors.New("cross-device link")

	// ErrClosed indicates use of a handle after it was closed
	ErrClosed = errors.New("handle already closed")

	// ErrNoSpace indicates the device has no room left
	ErrNoSpace = errors.New("no space left on device")
)

// Error wraps filesystem errors with context about the operation and
// affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewFSError creates a new Error with the given operation, path, and underlying error.
// An err that already carries the same op and path is returned unchanged.
func NewFSError(op string, path string, err error) error {
	var fsErr *Error
	if errors.As(err, &fsErr) && fsErr.Op == op && fsErr.Path == path {
		return err
	}
	fsErr = &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
	errLogger.Trace("Created new FSError: %v", fsErr)
	return fsErr
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup   = "lookup"   // Looking up a path
	OpReadDir  = "readdir"  // Reading directory contents
	OpOpen     = "open"     // Opening a file
	OpRead     = "read"     // Reading from a file
	OpWrite    = "write"    // Writing to a file
	OpSeek     = "seek"     // Moving a file cursor
	OpTruncate = "truncate" // Changing file size
	OpFsync    = "fsync"    // Flushing file data
	OpCreate   = "create"   // Creating a new file
	OpMkdir    = "mkdir"    // Creating a new directory
	OpRemove   = "remove"   // Removing a file or directory
	OpRename   = "rename"   // Renaming/moving a file or directory
	OpSetattr  = "setattr"  // Setting file attributes
	OpGetattr  = "getattr"  // Getting file attributes
	OpMount    = "mount"    // Mounting a filesystem
	OpUnmount  = "unmount"  // Unmounting a filesystem
	OpChdir    = "chdir"    // Changing the working directory
	OpLink     = "link"     // Creating a hard link
	OpRelease  = "release"  // Closing a handle
)
