// Package quarantine isolates files that failed integrity verification.
// Corrupted output is moved aside instead of deleted or silently consumed,
// and every move is recorded in a cumulative quarantine manifest so an
// operator can reconstruct what happened and when.
package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DirName is the quarantine subdirectory created inside the partition.
const DirName = "_quarantine"

const manifestName = "quarantine_manifest.json"

// Entry is one record in the cumulative quarantine manifest.
type Entry struct {
	Reason         string    `json:"reason"`
	QuarantinedAt  time.Time `json:"quarantined_at"`
	OriginalPath   string    `json:"original_path"`
	QuarantinePath string    `json:"quarantine_path"`
}

// MovedFile reports where a quarantined file ended up.
type MovedFile struct {
	OriginalPath   string
	QuarantinePath string
}

// Result reports which files were quarantined and which could not be.
type Result struct {
	Moved  []MovedFile
	Failed []string
}

// Manager moves flagged files into the quarantine directory.
type Manager struct {
	enabled bool
	logger  *zap.Logger
}

// NewManager creates a quarantine manager. When disabled, Quarantine is a
// no-op that reports every input as failed, forcing the caller to decide
// whether to proceed with known-bad data or abort.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	return &Manager{enabled: enabled, logger: logger}
}

// Enabled reports whether quarantine is active.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Quarantine moves the named files (relative to sourceDir) into
// sourceDir/_quarantine/, appending a timestamp suffix on name collision,
// and records each move in the quarantine manifest.
func (m *Manager) Quarantine(sourceDir string, fileNames []string, reason string) *Result {
	result := &Result{}

	if !m.enabled {
		m.logger.Warn("quarantine disabled, leaving corrupted files in place",
			zap.String("dir", sourceDir),
			zap.Int("files", len(fileNames)))
		result.Failed = append(result.Failed, fileNames...)
		return result
	}

	quarantineDir := filepath.Join(sourceDir, DirName)
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		m.logger.Error("failed to create quarantine directory",
			zap.String("dir", quarantineDir),
			zap.Error(err))
		result.Failed = append(result.Failed, fileNames...)
		return result
	}

	now := time.Now().UTC()
	var entries []Entry

	for _, name := range fileNames {
		src := filepath.Join(sourceDir, name)
		dst := filepath.Join(quarantineDir, filepath.Base(name))

		if _, err := os.Stat(dst); err == nil {
			dst = fmt.Sprintf("%s.%s", dst, now.Format("20060102T150405"))
		}

		if err := os.Rename(src, dst); err != nil {
			m.logger.Error("failed to quarantine file",
				zap.String("file", name),
				zap.Error(err))
			result.Failed = append(result.Failed, name)
			continue
		}

		m.logger.Warn("quarantined file",
			zap.String("file", name),
			zap.String("reason", reason),
			zap.String("moved_to", dst))

		result.Moved = append(result.Moved, MovedFile{
			OriginalPath:   src,
			QuarantinePath: dst,
		})
		entries = append(entries, Entry{
			Reason:         reason,
			QuarantinedAt:  now,
			OriginalPath:   src,
			QuarantinePath: dst,
		})
	}

	if len(entries) > 0 {
		if err := m.appendManifest(quarantineDir, entries); err != nil {
			m.logger.Error("failed to update quarantine manifest",
				zap.String("dir", quarantineDir),
				zap.Error(err))
		}
	}

	return result
}

// appendManifest appends entries to the cumulative quarantine manifest.
func (m *Manager) appendManifest(quarantineDir string, entries []Entry) error {
	path := filepath.Join(quarantineDir, manifestName)

	var existing []Entry
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			m.logger.Warn("quarantine manifest unreadable, starting a new one",
				zap.String("path", path),
				zap.Error(err))
			existing = nil
		}
	}

	existing = append(existing, entries...)

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write quarantine manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename quarantine manifest: %w", err)
	}
	return nil
}
