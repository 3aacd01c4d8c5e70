// Package vfs defines the node and filesystem contracts shared by every
// filesystem implementation, along with the path model and error taxonomy.
//
// A Node is a file or a directory. Concrete node types embed
// UnimplementedNode and override only the operations that apply to them,
// so a read-only device node and a writable RAM directory share one
// interface. Paths handed to nodes are RelPath values resolved against the
// node; AbsPath values are resolved by the mount table.
package vfs
