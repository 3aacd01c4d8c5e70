package ramfs

import (
	"github.com/google/btree"

	"vmountfs/internal/vfs"
)

const (
	maxNameLen = 255
	btreeOrder = 16
)

type dirItem struct {
	name string
	node vfs.Node
}

func lessDirItem(a, b dirItem) bool {
	return a.name < b.name
}

// DirNode is a directory in a RAM filesystem. Children are kept ordered by
// name so ReadDir offsets stay stable between calls.
type DirNode struct {
	vfs.UnimplementedNode
	fs       *FileSystem
	parent   vfs.Node
	children *btree.BTreeG[dirItem]
	perm     vfs.NodePerm
	uid      uint32
	gid      uint32
}

func newDirNode(fs *FileSystem, parent vfs.Node) *DirNode {
	return &DirNode{
		fs:       fs,
		parent:   parent,
		children: btree.NewG(btreeOrder, lessDirItem),
		perm:     vfs.DefaultDirPerm,
	}
}

// GetAttr implements vfs.Node.
func (d *DirNode) GetAttr() (vfs.NodeAttr, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()
	attr := vfs.NewNodeAttr(d.perm, vfs.NodeTypeDir, 4096, 0)
	attr.UID, attr.GID = d.uid, d.gid
	return attr, nil
}

// SetAttr implements vfs.Node. Directories have no settable size.
func (d *DirNode) SetAttr(req vfs.SetAttrRequest) error {
	if req.Size != nil {
		return vfs.ErrIsADirectory
	}
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	if req.Perm != nil {
		d.perm = *req.Perm & vfs.PermMask
	}
	if req.UID != nil {
		d.uid = *req.UID
	}
	if req.GID != nil {
		d.gid = *req.GID
	}
	return nil
}

// Parent implements vfs.Node.
func (d *DirNode) Parent() vfs.Node {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()
	return d.parent
}

// Lookup implements vfs.Node.
func (d *DirNode) Lookup(path vfs.RelPath) (vfs.Node, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()
	logger.Trace("Looking up %q", path.String())
	return d.lookupLocked(path)
}

// lookupLocked walks path from d. Walking ".." out of a mounted root hands
// the rest of the path to the foreign parent node.
func (d *DirNode) lookupLocked(path vfs.RelPath) (vfs.Node, error) {
	var cur vfs.Node = d
	rest := path
	for !rest.IsEmpty() {
		var name string
		name, rest = rest.Split()
		switch dir := cur.(type) {
		case *FileNode:
			return nil, vfs.ErrInvalidInput
		case *DirNode:
			if dir.fs != d.fs {
				return dir.Lookup(vfs.NewRelPath(name).Join(rest.String()))
			}
			next, err := dir.child(name)
			if err != nil {
				return nil, err
			}
			cur = next
		default:
			return cur.Lookup(vfs.NewRelPath(name).Join(rest.String()))
		}
	}
	return cur, nil
}

// lookupDirLocked resolves path and requires the result to be a directory of
// this filesystem.
func (d *DirNode) lookupDirLocked(path vfs.RelPath) (*DirNode, error) {
	n, err := d.lookupLocked(path)
	if err != nil {
		return nil, err
	}
	dir, ok := n.(*DirNode)
	if !ok {
		return nil, vfs.ErrNotADirectory
	}
	if dir.fs != d.fs {
		return nil, vfs.ErrCrossDevice
	}
	return dir, nil
}

// child resolves one name. ".." from a root without a parent stays put.
func (d *DirNode) child(name string) (vfs.Node, error) {
	switch name {
	case "", ".":
		return d, nil
	case "..":
		if d.parent == nil {
			return d, nil
		}
		return d.parent, nil
	}
	item, ok := d.children.Get(dirItem{name: name})
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return item.node, nil
}

// Create implements vfs.Node.
func (d *DirNode) Create(path vfs.RelPath, ty vfs.NodeType) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	logger.Debug("Creating %s %q", ty, path.String())

	parent, err := d.lookupDirLocked(path.Dir())
	if err != nil {
		return err
	}
	return parent.createChildLocked(path.Base(), ty)
}

// CreateRecursive implements vfs.RecursiveCreator in a single walk.
func (d *DirNode) CreateRecursive(path vfs.RelPath, ty vfs.NodeType) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	logger.Debug("Creating %s %q recursively", ty, path.String())

	comps := path.Components()
	if len(comps) == 0 {
		return nil
	}
	cur := d
	for _, name := range comps[:len(comps)-1] {
		n, err := cur.child(name)
		if err == vfs.ErrNotFound {
			if err := cur.createChildLocked(name, vfs.NodeTypeDir); err != nil {
				return err
			}
			n, err = cur.child(name)
		}
		if err != nil {
			return err
		}
		next, ok := n.(*DirNode)
		if !ok || next.fs != d.fs {
			return vfs.ErrInvalidInput
		}
		cur = next
	}
	return cur.createChildLocked(comps[len(comps)-1], ty)
}

func (d *DirNode) createChildLocked(name string, ty vfs.NodeType) error {
	switch name {
	case "", ".", "..":
		return nil
	}
	if len(name) > maxNameLen {
		return vfs.ErrInvalidInput
	}
	if d.children.Has(dirItem{name: name}) {
		return vfs.ErrAlreadyExists
	}

	var node vfs.Node
	switch ty {
	case vfs.NodeTypeDir:
		node = newDirNode(d.fs, d)
	case vfs.NodeTypeFile:
		node = newFileNode()
	default:
		return vfs.ErrUnsupported
	}
	d.children.ReplaceOrInsert(dirItem{name: name, node: node})
	return nil
}

// Link implements vfs.Node. Only regular files of this filesystem can be linked.
func (d *DirNode) Link(name string, src vfs.Node) (vfs.Node, error) {
	file, ok := src.(*FileNode)
	if !ok {
		if _, isDir := src.(*DirNode); isDir {
			return nil, vfs.ErrPermissionDenied
		}
		return nil, vfs.ErrCrossDevice
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	switch name {
	case "", ".", "..":
		return nil, vfs.ErrAlreadyExists
	}
	if d.children.Has(dirItem{name: name}) {
		return nil, vfs.ErrAlreadyExists
	}
	file.mu.Lock()
	file.nlink++
	file.mu.Unlock()
	d.children.ReplaceOrInsert(dirItem{name: name, node: file})
	return file, nil
}

// Unlink implements vfs.Node. Directories must be empty.
func (d *DirNode) Unlink(path vfs.RelPath) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	logger.Debug("Removing %q", path.String())

	parent, err := d.lookupDirLocked(path.Dir())
	if err != nil {
		return err
	}
	name := path.Base()
	switch name {
	case "", ".", "..":
		return vfs.ErrInvalidInput
	}
	item, ok := parent.children.Get(dirItem{name: name})
	if !ok {
		return vfs.ErrNotFound
	}
	if dir, isDir := item.node.(*DirNode); isDir && dir.children.Len() > 0 {
		return vfs.ErrDirectoryNotEmpty
	}
	parent.children.Delete(item)
	if file, isFile := item.node.(*FileNode); isFile {
		file.mu.Lock()
		file.nlink--
		file.mu.Unlock()
	}
	return nil
}

// Rename implements vfs.Node. src and dst are both relative to d. An existing
// dst is replaced if it has a compatible type and, for directories, is empty.
func (d *DirNode) Rename(src, dst vfs.RelPath) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	logger.Debug("Renaming %q to %q", src.String(), dst.String())

	srcParent, err := d.lookupDirLocked(src.Dir())
	if err != nil {
		return err
	}
	dstParent, err := d.lookupDirLocked(dst.Dir())
	if err != nil {
		return err
	}
	srcName, dstName := src.Base(), dst.Base()
	for _, name := range []string{srcName, dstName} {
		switch name {
		case "", ".", "..":
			return vfs.ErrInvalidInput
		}
	}

	item, ok := srcParent.children.Get(dirItem{name: srcName})
	if !ok {
		return vfs.ErrNotFound
	}
	if srcParent == dstParent && srcName == dstName {
		return nil
	}

	movedDir, isDir := item.node.(*DirNode)
	if isDir {
		// a directory cannot move below itself
		for p := vfs.Node(dstParent); p != nil; {
			if p == vfs.Node(movedDir) {
				return vfs.ErrInvalidInput
			}
			pd, ok := p.(*DirNode)
			if !ok || pd.fs != d.fs {
				break
			}
			p = pd.parent
		}
	}

	if existing, ok := dstParent.children.Get(dirItem{name: dstName}); ok {
		existingDir, existingIsDir := existing.node.(*DirNode)
		switch {
		case isDir && !existingIsDir:
			return vfs.ErrNotADirectory
		case !isDir && existingIsDir:
			return vfs.ErrIsADirectory
		case existingIsDir && existingDir.children.Len() > 0:
			return vfs.ErrDirectoryNotEmpty
		}
		if file, isFile := existing.node.(*FileNode); isFile && existing.node != item.node {
			file.mu.Lock()
			file.nlink--
			file.mu.Unlock()
		}
	}

	srcParent.children.Delete(item)
	dstParent.children.ReplaceOrInsert(dirItem{name: dstName, node: item.node})
	if isDir {
		movedDir.parent = dstParent
	}
	return nil
}

// ReadDir implements vfs.Node. Index 0 is ".", index 1 is "..", and the
// children follow in name order.
func (d *DirNode) ReadDir(startIdx int, entries []vfs.DirEntry) (int, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	if startIdx < 0 {
		return 0, vfs.ErrInvalidInput
	}

	n := 0
	for idx := startIdx; idx < 2 && n < len(entries); idx++ {
		name := "."
		if idx == 1 {
			name = ".."
		}
		entries[n] = vfs.DirEntry{Name: name, Type: vfs.NodeTypeDir}
		n++
	}

	skip := max(startIdx-2, 0)
	d.children.Ascend(func(item dirItem) bool {
		if n >= len(entries) {
			return false
		}
		if skip > 0 {
			skip--
			return true
		}
		entries[n] = vfs.DirEntry{Name: item.name, Type: nodeType(item.node)}
		n++
		return true
	})
	return n, nil
}

func nodeType(n vfs.Node) vfs.NodeType {
	if _, ok := n.(*DirNode); ok {
		return vfs.NodeTypeDir
	}
	return vfs.NodeTypeFile
}
