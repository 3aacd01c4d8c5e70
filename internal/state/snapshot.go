package state

import (
	"errors"
	"fmt"

	"vmountfs/internal/vfs"
)

const readDirBatch = 16

// Capture walks the tree below root. Only directories and regular files are
// recorded; other node types are skipped.
func Capture(root vfs.Node) (*Snapshot, error) {
	snap := NewSnapshot()
	if err := capture(root, vfs.RelPath{}, snap); err != nil {
		return nil, err
	}
	logger.Debug("Captured %d entries", len(snap.Entries))
	return snap, nil
}

func capture(dir vfs.Node, prefix vfs.RelPath, snap *Snapshot) error {
	buf := make([]vfs.DirEntry, readDirBatch)
	for idx := 0; ; {
		n, err := dir.ReadDir(idx, buf)
		if err != nil {
			return vfs.NewFSError(vfs.OpReadDir, prefix.String(), err)
		}
		if n == 0 {
			return nil
		}
		idx += n

		for _, e := range buf[:n] {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			rel := prefix.Join(e.Name)
			child, err := dir.Lookup(vfs.NewRelPath(e.Name))
			if err != nil {
				return vfs.NewFSError(vfs.OpLookup, rel.String(), err)
			}
			attr, err := child.GetAttr()
			if err != nil {
				return vfs.NewFSError(vfs.OpGetattr, rel.String(), err)
			}

			entry := Entry{Path: rel.String(), Mode: uint16(attr.Perm), UID: attr.UID, GID: attr.GID}
			switch {
			case attr.IsDir():
				entry.Kind = KindDir
				snap.Entries = append(snap.Entries, entry)
				if err := capture(child, rel, snap); err != nil {
					return err
				}
			case attr.IsFile():
				entry.Kind = KindFile
				if entry.Content, err = readAll(child, attr.Size); err != nil {
					return vfs.NewFSError(vfs.OpRead, rel.String(), err)
				}
				snap.Entries = append(snap.Entries, entry)
			default:
				logger.Debug("Skipping %s %q", attr.Type, rel.String())
			}
		}
	}
}

func readAll(n vfs.Node, size uint64) ([]byte, error) {
	content := make([]byte, size)
	var off uint64
	for off < size {
		read, err := n.ReadAt(off, content[off:])
		if err != nil {
			return nil, err
		}
		if read == 0 {
			break
		}
		off += uint64(read)
	}
	if off == 0 {
		return nil, nil
	}
	return content[:off], nil
}

// Restore recreates the entries of snap below root. Existing directories are
// reused and existing files are overwritten.
func Restore(root vfs.Node, snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	for _, e := range snap.Entries {
		rel := vfs.NewRelPath(e.Path)
		if rel.IsEmpty() {
			return vfs.NewFSError(vfs.OpCreate, e.Path, vfs.ErrInvalidInput)
		}

		var ty vfs.NodeType
		switch e.Kind {
		case KindDir:
			ty = vfs.NodeTypeDir
		case KindFile:
			ty = vfs.NodeTypeFile
		default:
			return vfs.NewFSError(vfs.OpCreate, e.Path, vfs.ErrInvalidInput)
		}

		if err := vfs.CreateRecursive(root, rel, ty); err != nil && !errors.Is(err, vfs.ErrAlreadyExists) {
			return vfs.NewFSError(vfs.OpCreate, e.Path, err)
		}
		node, err := root.Lookup(rel)
		if err != nil {
			return vfs.NewFSError(vfs.OpLookup, e.Path, err)
		}

		if ty == vfs.NodeTypeFile {
			if err := node.Truncate(0); err != nil {
				return vfs.NewFSError(vfs.OpTruncate, e.Path, err)
			}
			if _, err := node.WriteAt(0, e.Content); err != nil {
				return vfs.NewFSError(vfs.OpWrite, e.Path, err)
			}
		}

		perm := vfs.NodePerm(e.Mode) & vfs.PermMask
		uid, gid := e.UID, e.GID
		if err := node.SetAttr(vfs.SetAttrRequest{Perm: &perm, UID: &uid, GID: &gid}); err != nil {
			return vfs.NewFSError(vfs.OpSetattr, e.Path, err)
		}
	}

	logger.Info("Restored %d entries", len(snap.Entries))
	return nil
}
