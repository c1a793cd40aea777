// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"killswitch_go_1/killswitch"
	"killswitch_go_1/logs"
)

// SchemaVersion is stamped into every persisted record.
const SchemaVersion = 1

// backupTimeLayout names backup files down to the nanosecond so consecutive
// saves within the same second still produce distinct backups.
const backupTimeLayout = "20060102T150405.000000000"

// Record is the persisted state file's schema.
type Record struct {
	State             string     `json:"state"`
	SavedAt           time.Time  `json:"saved_at"`
	KilledAt          *time.Time `json:"killed_at,omitempty"`
	TriggerReason     string     `json:"trigger_reason,omitempty"`
	RecoveryStartedAt *time.Time `json:"recovery_started_at,omitempty"`
	Version           int        `json:"version"`
}

// Manager is the crash-safe file store for the kill switch's current state.
// Saves serialize to a temporary file, copy any existing current file aside
// as a timestamped backup, then atomically rename the temporary file into
// place: the on-disk file is always either the previous complete version or
// the new complete version, never a partial write. Single-writer is assumed.
type Manager struct {
	filePath  string
	backupDir string
}

var _ killswitch.StateStore = (*Manager)(nil)

// NewManager creates the store, ensuring the state and backup directories
// exist.
func NewManager(filePath string) (*Manager, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Manager{filePath: filePath, backupDir: backupDir}, nil
}

// Save persists the current state. Zero timestamps are stored as absent.
func (m *Manager) Save(st killswitch.State, killedAt time.Time, triggerReason string, recoveryStartedAt time.Time) error {
	rec := Record{
		State:         string(st),
		SavedAt:       time.Now(),
		TriggerReason: triggerReason,
		Version:       SchemaVersion,
	}
	if !killedAt.IsZero() {
		rec.KilledAt = &killedAt
	}
	if !recoveryStartedAt.IsZero() {
		rec.RecoveryStartedAt = &recoveryStartedAt
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for saving: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.filePath), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	// The previous version is copied aside before being replaced, never
	// silently overwritten.
	if _, err := os.Stat(m.filePath); err == nil {
		if err := m.backupCurrent(); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, m.filePath); err != nil {
		return fmt.Errorf("failed to move state file into place: %w", err)
	}
	// Best-effort fsync of the parent directory to harden the rename.
	if d, err := os.Open(filepath.Dir(m.filePath)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Load returns the parsed record, or nil when no state file exists. Corrupt
// content is logged and treated as absent: the switch must come up even with
// a damaged disk.
func (m *Manager) Load() (*Record, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logs.Errorf("[State] State file %s is corrupt, treating as absent: %v", m.filePath, err)
		return nil, nil
	}
	return &rec, nil
}

// ListBackups returns backup file names, newest first.
func (m *Manager) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// RestoreFromBackup replaces the current state file with a named backup
// (backing the current file up first) and returns the restored record.
func (m *Manager) RestoreFromBackup(name string) (*Record, error) {
	backupPath := filepath.Join(m.backupDir, filepath.Base(name))
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("backup %s is corrupt: %w", name, err)
	}
	if _, err := os.Stat(m.filePath); err == nil {
		if err := m.backupCurrent(); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(m.filePath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to restore state file: %w", err)
	}
	logs.Warnf("[State] State restored from backup %s (state: %s)", name, rec.State)
	return &rec, nil
}

func (m *Manager) backupCurrent() error {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return fmt.Errorf("failed to read current state file for backup: %w", err)
	}
	name := fmt.Sprintf("state_%s.json", time.Now().Format(backupTimeLayout))
	if err := os.WriteFile(filepath.Join(m.backupDir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write state backup: %w", err)
	}
	return nil
}
