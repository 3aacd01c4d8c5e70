// Package capability provides an access-rights mask and a wrapper that
// only hands out its value to callers holding the required rights.
package capability

import (
	"strings"

	"vmountfs/internal/vfs"
)

// Cap is a set of access rights.
type Cap uint8

const (
	Read Cap = 1 << iota
	Write
	Execute

	None Cap = 0
	All      = Read | Write | Execute
)

// Contains reports whether every right in other is also in c.
func (c Cap) Contains(other Cap) bool {
	return c&other == other
}

func (c Cap) String() string {
	if c == None {
		return "none"
	}
	var parts []string
	if c&Read != 0 {
		parts = append(parts, "read")
	}
	if c&Write != 0 {
		parts = append(parts, "write")
	}
	if c&Execute != 0 {
		parts = append(parts, "execute")
	}
	return strings.Join(parts, "|")
}

// FromPerm derives the owner-class rights granted by perm.
func FromPerm(perm vfs.NodePerm) Cap {
	c := None
	if perm.OwnerReadable() {
		c |= Read
	}
	if perm.OwnerWritable() {
		c |= Write
	}
	if perm.OwnerExecutable() {
		c |= Execute
	}
	return c
}

// WithCap stamps a value with the rights its holder may exercise.
type WithCap[T any] struct {
	inner T
	cap   Cap
}

// New wraps inner with the rights c.
func New[T any](inner T, c Cap) WithCap[T] {
	return WithCap[T]{inner: inner, cap: c}
}

// Cap returns the stamped rights.
func (w WithCap[T]) Cap() Cap {
	return w.cap
}

// CanAccess reports whether the stamped rights cover c.
func (w WithCap[T]) CanAccess(c Cap) bool {
	return w.cap.Contains(c)
}

// Access returns the inner value if the stamped rights cover c, and
// vfs.ErrPermissionDenied otherwise.
func (w WithCap[T]) Access(c Cap) (T, error) {
	return w.AccessOrErr(c, vfs.ErrPermissionDenied)
}

// AccessOrErr is Access with a caller-chosen error.
func (w WithCap[T]) AccessOrErr(c Cap, err error) (T, error) {
	if !w.CanAccess(c) {
		var zero T
		return zero, err
	}
	return w.inner, nil
}

// AccessUnchecked returns the inner value without checking rights. It is
// meant for bookkeeping such as releasing a node on close.
func (w WithCap[T]) AccessUnchecked() T {
	return w.inner
}
