// Package watermark tracks the last-seen cursor value per source for
// incremental extraction. Each source gets one JSON document in the backing
// store; a missing or unreadable document degrades to a fresh watermark so a
// corrupt state file never blocks a run.
package watermark

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/storage"
)

// Type identifies how watermark values are compared.
type Type string

const (
	TypeTimestamp Type = "timestamp"
	TypeDate      Type = "date"
	TypeInteger   Type = "integer"
	TypeString    Type = "string"
)

// ParseType normalizes a watermark type string, accepting common aliases
// case-insensitively. Empty input falls back to timestamp.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "timestamp", "datetime", "ts":
		return TypeTimestamp, nil
	case "date", "day":
		return TypeDate, nil
	case "integer", "int", "bigint", "sequence":
		return TypeInteger, nil
	case "string", "str", "text":
		return TypeString, nil
	default:
		return "", fmt.Errorf("unknown watermark type %q", s)
	}
}

// Watermark records the highest-seen value of an incrementing column for one
// source, plus bookkeeping about the run that produced it.
type Watermark struct {
	SourceKey   string         `json:"source_key"`
	Column      string         `json:"watermark_column"`
	Value       string         `json:"watermark_value"`
	Type        Type           `json:"watermark_type"`
	LastRunID   string         `json:"last_run_id"`
	LastRunDate string         `json:"last_run_date"`
	RecordCount int64          `json:"record_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Compare orders a candidate value against the stored value: -1 if the
// candidate is older, 0 if equal, 1 if newer. An empty stored value always
// compares as newer (fresh source, everything is new). Integer watermarks
// compare numerically; timestamp, date and string compare lexicographically,
// which is correct for ISO-8601 timestamps and dates.
func (w *Watermark) Compare(candidate string) int {
	if w.Value == "" {
		return 1
	}

	if w.Type == TypeInteger {
		cur, errCur := strconv.ParseInt(w.Value, 10, 64)
		cand, errCand := strconv.ParseInt(candidate, 10, 64)
		if errCur == nil && errCand == nil {
			switch {
			case cand < cur:
				return -1
			case cand > cur:
				return 1
			default:
				return 0
			}
		}
		// Unparsable integers fall through to lexicographic ordering.
	}

	return strings.Compare(candidate, w.Value)
}

// ResumeValue returns the value extraction should resume from. Integer
// watermarks resume exclusively (stored value + 1); all other types return
// the stored value and rely on the caller filtering with a strict
// greater-than, since timestamps can repeat within a batch boundary.
func (w *Watermark) ResumeValue() string {
	if w.Value == "" {
		return ""
	}
	if w.Type == TypeInteger {
		if n, err := strconv.ParseInt(w.Value, 10, 64); err == nil {
			return strconv.FormatInt(n+1, 10)
		}
	}
	return w.Value
}

// Advance updates the watermark in place if value is newer than the stored
// value. Returns true if the watermark moved.
func (w *Watermark) Advance(value, runID, runDate string, recordCount int64) bool {
	if w.Compare(value) <= 0 {
		return false
	}
	w.Value = value
	w.LastRunID = runID
	w.LastRunDate = runDate
	w.RecordCount = recordCount
	return true
}

// Store persists watermarks keyed by source.
type Store struct {
	store  storage.Store
	prefix string
	logger *zap.Logger
}

// NewStore creates a watermark store over the given persistence backend.
// Documents are kept under "<prefix>/<source_key>.json".
func NewStore(backend storage.Store, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = "watermarks"
	}
	return &Store{store: backend, prefix: prefix, logger: logger}
}

func (s *Store) key(source string) string {
	return s.prefix + "/" + sanitizeKey(source) + ".json"
}

// Get returns the stored watermark for a source, or a fresh zero-value
// watermark if none exists or the stored document is unreadable. It never
// fails: the store prefers "start from scratch" over blocking a run on
// unreadable metadata.
func (s *Store) Get(ctx context.Context, source, column string, typ Type) *Watermark {
	var w Watermark
	found, err := s.store.LoadJSON(ctx, s.key(source), &w)
	if err != nil {
		s.logger.Warn("watermark unreadable, starting fresh",
			zap.String("source", source),
			zap.Error(err))
		found = false
	}
	if !found {
		now := time.Now().UTC()
		return &Watermark{
			SourceKey: source,
			Column:    column,
			Type:      typ,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if w.Type == "" {
		w.Type = typ
	}
	if w.Column == "" {
		w.Column = column
	}
	return &w
}

// Save persists a watermark, stamping UpdatedAt (and CreatedAt on first save).
func (s *Store) Save(ctx context.Context, w *Watermark) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	if err := s.store.SaveJSON(ctx, s.key(w.SourceKey), w); err != nil {
		return fmt.Errorf("failed to save watermark for %s: %w", w.SourceKey, err)
	}
	return nil
}

// Delete removes a source's watermark. Returns false if none existed.
func (s *Store) Delete(ctx context.Context, source string) (bool, error) {
	deleted, err := s.store.Delete(ctx, s.key(source))
	if err != nil {
		return false, fmt.Errorf("failed to delete watermark for %s: %w", source, err)
	}
	return deleted, nil
}

// List returns all stored watermarks. Unreadable documents are skipped with
// a warning rather than failing the whole listing.
func (s *Store) List(ctx context.Context) ([]*Watermark, error) {
	keys, err := s.store.List(ctx, s.prefix, ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}

	marks := make([]*Watermark, 0, len(keys))
	for _, key := range keys {
		var w Watermark
		found, err := s.store.LoadJSON(ctx, key, &w)
		if err != nil {
			s.logger.Warn("skipping unreadable watermark",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if found {
			marks = append(marks, &w)
		}
	}
	return marks, nil
}

// sanitizeKey makes a source key safe to use as a single path segment.
func sanitizeKey(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(s)
}
