package integrity

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// VerificationResult reports the outcome of verifying a partition against
// its checksum manifest. Missing means the file is gone; Mismatched means it
// exists but its size or hash differs from the manifest.
type VerificationResult struct {
	Valid      bool
	Verified   []string
	Missing    []string
	Mismatched []string
	Elapsed    time.Duration
}

// Verifier re-checks produced files against a checksum manifest. It is a
// pure read-and-report: integrity failures are recorded in the result, never
// raised, so the caller controls failure policy.
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify loads the manifest in dir and checks every recorded file. The
// result is valid only if nothing is missing, nothing is mismatched, and at
// least one file verified: an empty manifest is never valid. An error is
// returned only when the manifest itself cannot be read.
func (v *Verifier) Verify(dir, manifestName, expectedPattern string) (*VerificationResult, error) {
	start := time.Now()

	if manifestName == "" {
		manifestName = DefaultManifestName
	}

	m, err := LoadManifest(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}

	if m.Checksum != "" && m.Checksum != computeChecksum(m) {
		v.logger.Warn("manifest self-checksum mismatch",
			zap.String("dir", dir),
			zap.String("manifest", manifestName))
	}
	if expectedPattern != "" && m.LoadPattern != expectedPattern {
		v.logger.Warn("manifest load pattern differs from expected",
			zap.String("dir", dir),
			zap.String("expected", expectedPattern),
			zap.String("actual", m.LoadPattern))
	}

	result := &VerificationResult{}
	for _, entry := range m.Files {
		path := filepath.Join(dir, entry.Path)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			result.Missing = append(result.Missing, entry.Path)
			continue
		}
		if err != nil {
			// Unreadable counts as mismatched, not missing: the file is
			// there but cannot be trusted.
			result.Mismatched = append(result.Mismatched, entry.Path)
			continue
		}

		if info.Size() != entry.SizeBytes {
			result.Mismatched = append(result.Mismatched, entry.Path)
			continue
		}

		hash, _, err := HashFile(path)
		if err != nil || hash != entry.SHA256 {
			result.Mismatched = append(result.Mismatched, entry.Path)
			continue
		}

		result.Verified = append(result.Verified, entry.Path)
	}

	result.Elapsed = time.Since(start)
	result.Valid = len(result.Missing) == 0 &&
		len(result.Mismatched) == 0 &&
		len(result.Verified) > 0

	if result.Valid {
		v.logger.Debug("partition verified",
			zap.String("dir", dir),
			zap.Int("files", len(result.Verified)),
			zap.Duration("elapsed", result.Elapsed))
	} else {
		v.logger.Error("partition failed verification",
			zap.String("dir", dir),
			zap.Int("verified", len(result.Verified)),
			zap.Int("missing", len(result.Missing)),
			zap.Int("mismatched", len(result.Mismatched)))
	}

	return result, nil
}

// ShouldSkip implements the freshness heuristic: verification may be
// bypassed when the manifest was written more recently than maxAge ago,
// trading a bounded integrity-check window for latency. A non-positive
// maxAge disables the heuristic.
func (v *Verifier) ShouldSkip(dir, manifestName string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	if manifestName == "" {
		manifestName = DefaultManifestName
	}

	info, err := os.Stat(filepath.Join(dir, manifestName))
	if err != nil {
		return false
	}

	age := time.Since(info.ModTime())
	if age < maxAge {
		v.logger.Debug("skipping verification, manifest is fresh",
			zap.String("dir", dir),
			zap.Duration("age", age))
		return true
	}
	return false
}
