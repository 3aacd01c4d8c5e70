package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vmountfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

const (
	backupDirName      = ".vmountfs-backups"
	defaultBackupCount = 5
)

// Manager handles loading and saving snapshots
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.Mutex
}

// NewManager creates a new state manager for the given snapshot path.
// It ensures the state directory exists and is writable.
func NewManager(statePath string) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Verify we have write permissions
	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, err)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, backupDirName)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	logger.Info("State manager initialized at %s", absPath)
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: defaultBackupCount,
	}, nil
}

// Path returns the snapshot file path.
func (sm *Manager) Path() string {
	return sm.statePath
}

// LoadSnapshot reads the snapshot from disk. A missing or empty file yields
// an empty snapshot.
func (sm *Manager) LoadSnapshot() (*Snapshot, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	logger.Debug("Loading snapshot from: %s", sm.statePath)

	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		logger.Info("No snapshot found, starting empty")
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	logger.Debug("Parsing snapshot (%d bytes)", len(data))
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Entries == nil {
		snap.Entries = []Entry{}
	}

	logger.Info("Snapshot loaded with %d entries", len(snap.Entries))
	return &snap, nil
}

// SaveSnapshot writes snap to disk, backing up the previous file first.
func (sm *Manager) SaveSnapshot(snap *Snapshot) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	logger.Debug("Saving snapshot to: %s", sm.statePath)

	if err := sm.createBackup(); err != nil {
		logger.Warn("Failed to create backup: %v", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write through a temporary file so a crash never leaves a torn snapshot
	tmp := sm.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sm.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Debug("Snapshot saved (%d bytes, %d entries)", len(data), len(snap.Entries))
	return nil
}

// createBackup creates a timestamped backup of the current state file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("state-%s.json", timestamp))

	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return err
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(sm.backupDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	// Newest first
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	for i := sm.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i].path)
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}
	return nil
}
