package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmountfs/internal/ramfs"
	"vmountfs/internal/vfs"
)

func buildTree(t *testing.T) vfs.Node {
	t.Helper()
	root := ramfs.New().RootDir()
	require.NoError(t, vfs.CreateRecursive(root, vfs.NewRelPath("etc/conf.d"), vfs.NodeTypeDir))
	require.NoError(t, root.Create(vfs.NewRelPath("etc/hosts"), vfs.NodeTypeFile))
	require.NoError(t, root.Create(vfs.NewRelPath("empty"), vfs.NodeTypeFile))

	hosts, err := root.Lookup(vfs.NewRelPath("etc/hosts"))
	require.NoError(t, err)
	_, err = hosts.WriteAt(0, []byte("127.0.0.1 localhost\n"))
	require.NoError(t, err)

	perm := vfs.NodePerm(0o600)
	uid := uint32(1000)
	require.NoError(t, hosts.SetAttr(vfs.SetAttrRequest{Perm: &perm, UID: &uid}))
	return root
}

func TestCaptureRestore(t *testing.T) {
	snap, err := Capture(buildTree(t))
	require.NoError(t, err)

	paths := make([]string, len(snap.Entries))
	for i, e := range snap.Entries {
		paths[i] = e.Path
	}
	assert.ElementsMatch(t, []string{"etc", "etc/conf.d", "etc/hosts", "empty"}, paths)

	restored := ramfs.New().RootDir()
	require.NoError(t, Restore(restored, snap))

	again, err := Capture(restored)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, again); diff != "" {
		t.Errorf("restored tree mismatch (-want +got):\n%s", diff)
	}

	hosts, err := restored.Lookup(vfs.NewRelPath("etc/hosts"))
	require.NoError(t, err)
	attr, err := hosts.GetAttr()
	require.NoError(t, err)
	assert.Equal(t, vfs.NodePerm(0o600), attr.Perm)
	assert.Equal(t, uint32(1000), attr.UID)
	assert.Equal(t, uint64(20), attr.Size)
}

func TestRestoreOverwrites(t *testing.T) {
	root := buildTree(t)
	snap := &Snapshot{
		Version: SnapshotVersion,
		Entries: []Entry{{Path: "etc/hosts", Kind: KindFile, Mode: 0o644, Content: []byte("x")}},
	}
	require.NoError(t, Restore(root, snap))

	hosts, err := root.Lookup(vfs.NewRelPath("etc/hosts"))
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err := hosts.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}

func TestRestoreRejects(t *testing.T) {
	root := ramfs.New().RootDir()
	assert.Error(t, Restore(root, &Snapshot{Version: 99}))

	err := Restore(root, &Snapshot{Version: SnapshotVersion, Entries: []Entry{{Path: "a", Kind: "symlink"}}})
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)

	err = Restore(root, &Snapshot{Version: SnapshotVersion, Entries: []Entry{{Path: "/", Kind: KindDir}}})
	assert.ErrorIs(t, err, vfs.ErrInvalidInput)
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "root.json")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Path())

	// The file exists but is empty
	snap, err := m.LoadSnapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)

	want, err := Capture(buildTree(t))
	require.NoError(t, err)
	require.NoError(t, m.SaveSnapshot(want))

	got, err := m.LoadSnapshot()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadSnapshot() mismatch (-want +got):\n%s", diff)
	}

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestManagerRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.json")
	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = m.LoadSnapshot()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"version": 7, "entries": []}`), 0o600))
	_, err = m.LoadSnapshot()
	assert.Error(t, err)
}

func TestBackupPruning(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "root.json"))
	require.NoError(t, err)

	backups := filepath.Join(dir, backupDirName)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		p := filepath.Join(backups, "old-"+string(rune('a'+i))+".json")
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mtime, mtime))
	}

	require.NoError(t, m.SaveSnapshot(NewSnapshot()))
	// The second save backs up the first
	require.NoError(t, m.SaveSnapshot(NewSnapshot()))

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	assert.Len(t, entries, defaultBackupCount)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.False(t, names["old-a.json"])
	assert.True(t, names["old-h.json"])
}
