// Package integrity computes and verifies content hashes for partition
// output files. A producer writes a checksum manifest next to its data
// files; consumers re-verify the manifest before trusting the partition,
// and quarantine anything that does not match.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DefaultManifestName is the conventional manifest file name inside a
// partition directory.
const DefaultManifestName = "_checksums.json"

// FileEntry records the size and content hash of one produced file.
type FileEntry struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// Manifest is the checksum side-file written once per partition by the
// producer and read many times by verifiers.
type Manifest struct {
	Timestamp   time.Time      `json:"timestamp"`
	LoadPattern string         `json:"load_pattern"`
	Files       []FileEntry    `json:"files"`
	Checksum    string         `json:"manifest_checksum,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// computeChecksum hashes the manifest content excluding the checksum field
// itself, so the manifest can vouch for its own integrity.
func computeChecksum(m *Manifest) string {
	content := struct {
		Timestamp   time.Time      `json:"timestamp"`
		LoadPattern string         `json:"load_pattern"`
		Files       []FileEntry    `json:"files"`
		Extra       map[string]any `json:"extra,omitempty"`
	}{m.Timestamp, m.LoadPattern, m.Files, m.Extra}

	data, _ := json.Marshal(content)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// HashFile returns the SHA-256 hex digest and size of a file.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// WriteManifest hashes the named files (relative to dir) and writes the
// checksum manifest into dir. Returns the manifest that was written.
func WriteManifest(dir, loadPattern string, fileNames []string) (*Manifest, error) {
	m := &Manifest{
		Timestamp:   time.Now().UTC(),
		LoadPattern: loadPattern,
		Files:       make([]FileEntry, 0, len(fileNames)),
	}

	for _, name := range fileNames {
		hash, size, err := HashFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		m.Files = append(m.Files, FileEntry{
			Path:      name,
			SizeBytes: size,
			SHA256:    hash,
		})
	}

	m.Checksum = computeChecksum(m)

	if err := saveManifest(filepath.Join(dir, DefaultManifestName), m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadManifest reads a checksum manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

func saveManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}
