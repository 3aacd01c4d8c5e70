package devfs

import (
	"crypto/rand"

	"vmountfs/internal/vfs"
)

const devPerm vfs.NodePerm = 0o666

func charDevAttr() (vfs.NodeAttr, error) {
	return vfs.NewNodeAttr(devPerm, vfs.NodeTypeCharDevice, 0, 0), nil
}

// NullDev reads as end of file and discards writes.
type NullDev struct {
	vfs.UnimplementedNode
}

func (NullDev) GetAttr() (vfs.NodeAttr, error)            { return charDevAttr() }
func (NullDev) ReadAt(_ uint64, _ []byte) (int, error)    { return 0, nil }
func (NullDev) WriteAt(_ uint64, buf []byte) (int, error) { return len(buf), nil }
func (NullDev) Truncate(_ uint64) error                   { return nil }
func (NullDev) Fsync() error                              { return nil }

// ZeroDev reads as an endless run of zero bytes and discards writes.
type ZeroDev struct {
	vfs.UnimplementedNode
}

func (ZeroDev) GetAttr() (vfs.NodeAttr, error) { return charDevAttr() }

func (ZeroDev) ReadAt(_ uint64, buf []byte) (int, error) {
	clear(buf)
	return len(buf), nil
}

func (ZeroDev) WriteAt(_ uint64, buf []byte) (int, error) { return len(buf), nil }
func (ZeroDev) Truncate(_ uint64) error                   { return nil }
func (ZeroDev) Fsync() error                              { return nil }

// RandomDev reads cryptographically secure random bytes and discards writes.
type RandomDev struct {
	vfs.UnimplementedNode
}

func (RandomDev) GetAttr() (vfs.NodeAttr, error) { return charDevAttr() }

func (RandomDev) ReadAt(_ uint64, buf []byte) (int, error) {
	return rand.Read(buf)
}

func (RandomDev) WriteAt(_ uint64, buf []byte) (int, error) { return len(buf), nil }
func (RandomDev) Truncate(_ uint64) error                   { return nil }
func (RandomDev) Fsync() error                              { return nil }

// FullDev reads zeros and fails every write with ErrNoSpace.
type FullDev struct {
	vfs.UnimplementedNode
}

func (FullDev) GetAttr() (vfs.NodeAttr, error) { return charDevAttr() }

func (FullDev) ReadAt(_ uint64, buf []byte) (int, error) {
	clear(buf)
	return len(buf), nil
}

func (FullDev) WriteAt(_ uint64, _ []byte) (int, error) { return 0, vfs.ErrNoSpace }
func (FullDev) Truncate(_ uint64) error                 { return nil }
func (FullDev) Fsync() error                            { return nil }
