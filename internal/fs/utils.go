package fs

import (
	"bazil.org/fuse"

	"vmountfs/internal/vfs"
)

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

func direntType(t vfs.NodeType) fuse.DirentType {
	switch t {
	case vfs.NodeTypeDir:
		return fuse.DT_Dir
	case vfs.NodeTypeFile:
		return fuse.DT_File
	case vfs.NodeTypeCharDevice:
		return fuse.DT_Char
	case vfs.NodeTypeBlockDevice:
		return fuse.DT_Block
	case vfs.NodeTypeFifo:
		return fuse.DT_FIFO
	case vfs.NodeTypeSymLink:
		return fuse.DT_Link
	case vfs.NodeTypeSocket:
		return fuse.DT_Socket
	default:
		return fuse.DT_Unknown
	}
}

// fillAttr copies node attributes into a FUSE attribute record. Ownership is
// always reported as the server's ids.
func (s *Server) fillAttr(attr vfs.NodeAttr, a *fuse.Attr) {
	a.Mode = attr.FileMode()
	a.Size = attr.Size
	a.Blocks = attr.Blocks
	a.BlockSize = vfs.BlockSize
	a.Uid = s.uid
	a.Gid = s.gid
	a.Nlink = 1
	if attr.IsDir() {
		a.Nlink = 2
	}
}

// setattrRequest converts the valid fields of a FUSE setattr request.
func setattrRequest(req *fuse.SetattrRequest) vfs.SetAttrRequest {
	var out vfs.SetAttrRequest
	if req.Valid.Mode() {
		perm := vfs.NodePerm(req.Mode.Perm())
		out.Perm = &perm
	}
	if req.Valid.Uid() {
		uid := req.Uid
		out.UID = &uid
	}
	if req.Valid.Gid() {
		gid := req.Gid
		out.GID = &gid
	}
	if req.Valid.Size() {
		size := req.Size
		out.Size = &size
	}
	return out
}
