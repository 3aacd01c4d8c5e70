package vfs

import (
	"path"
	"strings"

	"vmountfs/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// MaxPathLen is the longest raw path accepted by ValidatePath.
const MaxPathLen = 4096

// ValidatePath checks a raw, caller-supplied path before it is resolved.
func ValidatePath(raw string) error {
	if raw == "" {
		return ErrNotFound
	}
	if len(raw) > MaxPathLen {
		return ErrInvalidInput
	}
	if strings.IndexByte(raw, 0) >= 0 {
		return ErrInvalidInput
	}
	return nil
}

// AbsPath represents a normalized path from the namespace root.
// It always starts with "/" and contains no "." or ".." elements.
type AbsPath struct {
	path string
}

// NewAbsPath creates a new AbsPath. Relative input is taken as relative to
// the root, and ".." never climbs above "/".
func NewAbsPath(p string) AbsPath {
	cleaned := path.Clean("/" + p)
	pathLogger.Trace("Creating new absolute path: %q -> %q", p, cleaned)
	return AbsPath{path: cleaned}
}

// RootPath returns "/".
func RootPath() AbsPath {
	return AbsPath{path: "/"}
}

// String returns the string representation of the path
func (p AbsPath) String() string {
	if p.path == "" {
		return "/"
	}
	return p.path
}

// IsRoot returns true if this is the root path "/"
func (p AbsPath) IsRoot() bool {
	return p.path == "" || p.path == "/"
}

// Parent returns the parent directory. The parent of "/" is "/".
func (p AbsPath) Parent() AbsPath {
	return AbsPath{path: path.Dir(p.String())}
}

// Base returns the last element of the path, or "/" for the root.
func (p AbsPath) Base() string {
	return path.Base(p.String())
}

// Join resolves elem against p. An absolute elem replaces p.
func (p AbsPath) Join(elem string) AbsPath {
	if strings.HasPrefix(elem, "/") {
		return NewAbsPath(elem)
	}
	return NewAbsPath(p.String() + "/" + elem)
}

// HasPrefix reports whether prefix is p or an ancestor of p, matching whole
// components only: "/devices" does not have the prefix "/dev".
func (p AbsPath) HasPrefix(prefix AbsPath) bool {
	if prefix.IsRoot() {
		return true
	}
	s, pre := p.String(), prefix.String()
	return s == pre || strings.HasPrefix(s, pre+"/")
}

// Rel returns p relative to prefix. ok is false when prefix is not a prefix of p.
func (p AbsPath) Rel(prefix AbsPath) (RelPath, bool) {
	if !p.HasPrefix(prefix) {
		return RelPath{}, false
	}
	if prefix.IsRoot() {
		return p.ToRel(), true
	}
	return RelPath{path: strings.TrimPrefix(strings.TrimPrefix(p.String(), prefix.String()), "/")}, true
}

// ToRel returns p relative to the root.
func (p AbsPath) ToRel() RelPath {
	return RelPath{path: strings.TrimPrefix(p.String(), "/")}
}

// Components returns the path elements; empty for the root.
func (p AbsPath) Components() []string {
	return p.ToRel().Components()
}

// RelPath represents a normalized path fragment resolved against a directory
// node. It never starts with "/" and only keeps ".." as leading elements.
type RelPath struct {
	path string
}

// NewRelPath creates a new RelPath. Leading slashes are dropped.
func NewRelPath(p string) RelPath {
	trimmed := strings.TrimLeft(p, "/")
	if trimmed == "" {
		return RelPath{}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		cleaned = ""
	}
	return RelPath{path: cleaned}
}

// String returns the string representation of the path
func (p RelPath) String() string {
	return p.path
}

// IsEmpty reports whether p refers to the directory itself.
func (p RelPath) IsEmpty() bool {
	return p.path == ""
}

// Components returns the path elements.
func (p RelPath) Components() []string {
	if p.path == "" {
		return nil
	}
	return strings.Split(p.path, "/")
}

// Split returns the first element and the remainder.
func (p RelPath) Split() (string, RelPath) {
	head, rest, _ := strings.Cut(p.path, "/")
	return head, RelPath{path: rest}
}

// Dir returns everything but the last element.
func (p RelPath) Dir() RelPath {
	i := strings.LastIndexByte(p.path, '/')
	if i < 0 {
		return RelPath{}
	}
	return RelPath{path: p.path[:i]}
}

// Base returns the last element, or "" for the empty path.
func (p RelPath) Base() string {
	i := strings.LastIndexByte(p.path, '/')
	return p.path[i+1:]
}

// Join appends elem to p.
func (p RelPath) Join(elem string) RelPath {
	if p.path == "" {
		return NewRelPath(elem)
	}
	return NewRelPath(p.path + "/" + elem)
}
