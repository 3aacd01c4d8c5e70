package vfs

import (
	"os"
	"strings"
)

// BlockSize is the unit used for NodeAttr.Blocks.
const BlockSize = 512

// NodeType is the kind of a node. Values follow the S_IFMT encoding
// shifted right by 12 bits.
type NodeType uint8

const (
	NodeTypeFifo        NodeType = 0o1
	NodeTypeCharDevice  NodeType = 0o2
	NodeTypeDir         NodeType = 0o4
	NodeTypeBlockDevice NodeType = 0o6
	NodeTypeFile        NodeType = 0o10
	NodeTypeSymLink     NodeType = 0o12
	NodeTypeSocket      NodeType = 0o14
)

func (t NodeType) IsDir() bool { return t == NodeTypeDir }

func (t NodeType) IsFile() bool { return t == NodeTypeFile }

func (t NodeType) IsSymlink() bool { return t == NodeTypeSymLink }

func (t NodeType) IsCharDevice() bool { return t == NodeTypeCharDevice }

func (t NodeType) IsBlockDevice() bool { return t == NodeTypeBlockDevice }

func (t NodeType) IsFifo() bool { return t == NodeTypeFifo }

func (t NodeType) IsSocket() bool { return t == NodeTypeSocket }

// Char returns the ls(1) style type character.
func (t NodeType) Char() byte {
	switch t {
	case NodeTypeFifo:
		return 'p'
	case NodeTypeCharDevice:
		return 'c'
	case NodeTypeDir:
		return 'd'
	case NodeTypeBlockDevice:
		return 'b'
	case NodeTypeFile:
		return '-'
	case NodeTypeSymLink:
		return 'l'
	case NodeTypeSocket:
		return 's'
	default:
		return '?'
	}
}

func (t NodeType) String() string {
	switch t {
	case NodeTypeFifo:
		return "fifo"
	case NodeTypeCharDevice:
		return "char-device"
	case NodeTypeDir:
		return "dir"
	case NodeTypeBlockDevice:
		return "block-device"
	case NodeTypeFile:
		return "file"
	case NodeTypeSymLink:
		return "symlink"
	case NodeTypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// FileMode returns the os.FileMode type bits for t.
func (t NodeType) FileMode() os.FileMode {
	switch t {
	case NodeTypeFifo:
		return os.ModeNamedPipe
	case NodeTypeCharDevice:
		return os.ModeDevice | os.ModeCharDevice
	case NodeTypeDir:
		return os.ModeDir
	case NodeTypeBlockDevice:
		return os.ModeDevice
	case NodeTypeSymLink:
		return os.ModeSymlink
	case NodeTypeSocket:
		return os.ModeSocket
	default:
		return 0
	}
}

// NodeTypeFromFileMode is the inverse of NodeType.FileMode.
func NodeTypeFromFileMode(mode os.FileMode) NodeType {
	switch {
	case mode&os.ModeDir != 0:
		return NodeTypeDir
	case mode&os.ModeSymlink != 0:
		return NodeTypeSymLink
	case mode&os.ModeNamedPipe != 0:
		return NodeTypeFifo
	case mode&os.ModeSocket != 0:
		return NodeTypeSocket
	case mode&os.ModeCharDevice != 0:
		return NodeTypeCharDevice
	case mode&os.ModeDevice != 0:
		return NodeTypeBlockDevice
	default:
		return NodeTypeFile
	}
}

// NodePerm holds the nine POSIX permission bits.
type NodePerm uint16

const (
	PermOwnerRead  NodePerm = 0o400
	PermOwnerWrite NodePerm = 0o200
	PermOwnerExec  NodePerm = 0o100
	PermGroupRead  NodePerm = 0o40
	PermGroupWrite NodePerm = 0o20
	PermGroupExec  NodePerm = 0o10
	PermOtherRead  NodePerm = 0o4
	PermOtherWrite NodePerm = 0o2
	PermOtherExec  NodePerm = 0o1

	PermMask NodePerm = 0o777

	// DefaultFilePerm is rw-rw-rw-
	DefaultFilePerm NodePerm = 0o666
	// DefaultDirPerm is rwxr-xr-x
	DefaultDirPerm NodePerm = 0o755
)

// DefaultPerm returns the permission a freshly created node of type t gets.
func DefaultPerm(t NodeType) NodePerm {
	if t.IsDir() {
		return DefaultDirPerm
	}
	return DefaultFilePerm
}

func (p NodePerm) OwnerReadable() bool   { return p&PermOwnerRead != 0 }
func (p NodePerm) OwnerWritable() bool   { return p&PermOwnerWrite != 0 }
func (p NodePerm) OwnerExecutable() bool { return p&PermOwnerExec != 0 }

// String returns the permission in rwxrwxrwx form.
func (p NodePerm) String() string {
	const chars = "rwxrwxrwx"
	var sb strings.Builder
	for i := 0; i < 9; i++ {
		if p&(1<<uint(8-i)) != 0 {
			sb.WriteByte(chars[i])
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// NodeAttr is the per-node metadata record.
type NodeAttr struct {
	Perm   NodePerm
	Type   NodeType
	Size   uint64
	Blocks uint64
	UID    uint32
	GID    uint32
}

// NewNodeAttr creates an attribute record.
func NewNodeAttr(perm NodePerm, ty NodeType, size, blocks uint64) NodeAttr {
	return NodeAttr{Perm: perm, Type: ty, Size: size, Blocks: blocks}
}

// NewFileAttr creates attributes for a regular file with default permissions.
func NewFileAttr(size, blocks uint64) NodeAttr {
	return NewNodeAttr(DefaultFilePerm, NodeTypeFile, size, blocks)
}

// NewDirAttr creates attributes for a directory with default permissions.
func NewDirAttr(size, blocks uint64) NodeAttr {
	return NewNodeAttr(DefaultDirPerm, NodeTypeDir, size, blocks)
}

func (a NodeAttr) IsDir() bool  { return a.Type.IsDir() }
func (a NodeAttr) IsFile() bool { return a.Type.IsFile() }

// StatMode returns st_mode: the type in the S_IFMT bits and the permission below.
func (a NodeAttr) StatMode() uint32 {
	return uint32(a.Type)<<12 | uint32(a.Perm&PermMask)
}

// FileMode returns the attributes as an os.FileMode.
func (a NodeAttr) FileMode() os.FileMode {
	return a.Type.FileMode() | os.FileMode(a.Perm&PermMask)
}

// BlocksFor returns the number of BlockSize blocks needed for size bytes.
func BlocksFor(size uint64) uint64 {
	return (size + BlockSize - 1) / BlockSize
}

// DirEntry is a single directory listing record.
type DirEntry struct {
	Name string
	Type NodeType
}

// FileSystemInfo holds filesystem-level statistics.
type FileSystemInfo struct {
	BlockSize   uint32
	Blocks      uint64
	FreeBlocks  uint64
	AvailBlocks uint64
	Files       uint64
	FreeFiles   uint64
	NameLen     uint32
}

// SetAttrRequest carries the attributes to change. Nil fields are left untouched.
type SetAttrRequest struct {
	Perm *NodePerm
	UID  *uint32
	GID  *uint32
	Size *uint64
}

// IsEmpty reports whether the request changes nothing.
func (r SetAttrRequest) IsEmpty() bool {
	return r.Perm == nil && r.UID == nil && r.GID == nil && r.Size == nil
}
