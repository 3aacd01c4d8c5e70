// Package state provides persistent snapshots of in-memory filesystem trees.
package state

// SnapshotVersion is the format version written by this package.
const SnapshotVersion = 1

// Entry kinds stored in a snapshot.
const (
	KindDir  = "dir"
	KindFile = "file"
)

// Entry is one node of a captured tree.
type Entry struct {
	// Path relative to the captured root, "/"-separated
	Path string `json:"path"`

	// KindDir or KindFile
	Kind string `json:"kind"`

	// Permission bits
	Mode uint16 `json:"mode"`

	UID uint32 `json:"uid,omitempty"`
	GID uint32 `json:"gid,omitempty"`

	// File content, base64 encoded in JSON
	Content []byte `json:"content,omitempty"`
}

// Snapshot is a captured tree. Parents always precede their children.
type Snapshot struct {
	// Version for future compatibility
	Version int `json:"version"`

	Entries []Entry `json:"entries"`
}

// NewSnapshot returns an empty snapshot of the current version.
func NewSnapshot() *Snapshot {
	return &Snapshot{Version: SnapshotVersion, Entries: []Entry{}}
}
