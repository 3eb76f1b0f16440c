// Package checkpoint persists per-partition run state with a time-leased
// lock. The partition path is the unit of mutual exclusion: two workers on
// different machines contending for the same partition are serialized by the
// same lease protocol as two goroutines in one process.
//
// State machine: pending -> in_progress -> {completed | failed | partial}.
// Only in_progress carries a live lock. An expired lock is the sole recovery
// path for crashed workers: any new run may take it over once the TTL
// elapses.
package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/storage"
	"github.com/tonysebion/medallion-foundry-sub003/watermark"
)

// Status is the lifecycle state of a partition checkpoint.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusPartial marks a failed run that wrote at least one chunk.
	// Partial progress is worth inspecting before a retry.
	StatusPartial Status = "partial"
)

// Lock is the time-bounded ownership record attached to an in_progress
// checkpoint. It exists only while the partition is being worked on.
type Lock struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's TTL has elapsed at the given time.
func (l *Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// WatermarkRef records the watermark position a run reached.
type WatermarkRef struct {
	Column string         `json:"column"`
	Value  string         `json:"value"`
	Type   watermark.Type `json:"type"`
}

// Stats holds the row/file counters a run reports on release.
type Stats struct {
	RecordCount   int64 `json:"record_count"`
	ChunkCount    int64 `json:"chunk_count"`
	ArtifactCount int64 `json:"artifact_count"`
}

// Checkpoint is the persisted run state for one partition. Identity is the
// partition path: there is exactly one checkpoint per partition, created on
// first lease acquisition and mutated only through the store's transitions.
type Checkpoint struct {
	CheckpointID  string         `json:"checkpoint_id"`
	SourceKey     string         `json:"source_key"`
	RunID         string         `json:"run_id"`
	RunDate       string         `json:"run_date"`
	PartitionPath string         `json:"partition_path"`
	Status        Status         `json:"status"`
	Watermark     WatermarkRef   `json:"watermark"`
	Stats         Stats          `json:"stats"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Lock          *Lock          `json:"lock,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// AlreadyCompletedError is returned when a caller tries to acquire a lease
// on a partition another run already finished. Callers must not silently
// reprocess a completed partition.
type AlreadyCompletedError struct {
	PartitionPath string
	RunID         string
	CompletedAt   time.Time
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("partition %s already completed by run %s at %s",
		e.PartitionPath, e.RunID, e.CompletedAt.Format(time.RFC3339))
}

// ActiveLockError is returned when another holder's lease on the partition
// has not yet expired.
type ActiveLockError struct {
	PartitionPath string
	HolderID      string
	ExpiresAt     time.Time
}

func (e *ActiveLockError) Error() string {
	return fmt.Sprintf("partition %s is locked by %s until %s",
		e.PartitionPath, e.HolderID, e.ExpiresAt.Format(time.RFC3339))
}

// ReleaseStats carries the counters and final watermark a run reports when
// releasing its lease.
type ReleaseStats struct {
	RecordCount   int64
	ChunkCount    int64
	ArtifactCount int64

	WatermarkColumn string
	WatermarkValue  string
	WatermarkType   watermark.Type

	ErrorMessage string
}

// Store persists checkpoints over the injected storage backend.
type Store struct {
	store  storage.Store
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a checkpoint store. Documents are kept under
// "<prefix>/<partition>.json" with path separators flattened.
func NewStore(backend storage.Store, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = "checkpoints"
	}
	return &Store{store: backend, prefix: prefix, logger: logger, now: time.Now}
}

func (s *Store) key(partition string) string {
	sanitized := strings.NewReplacer("/", "__", "\\", "__", "=", "-", " ", "_").
		Replace(strings.Trim(partition, "/"))
	return s.prefix + "/" + sanitized + ".json"
}

// Get returns the checkpoint for a partition, if one exists.
func (s *Store) Get(ctx context.Context, partition string) (*Checkpoint, bool, error) {
	var cp Checkpoint
	found, err := s.store.LoadJSON(ctx, s.key(partition), &cp)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint for %s: %w", partition, err)
	}
	if !found {
		return nil, false, nil
	}
	return &cp, true, nil
}

// AcquireLock takes the lease on a partition for runID.
//
//   - No checkpoint: create one in_progress with a fresh lock.
//   - Completed: AlreadyCompletedError, regardless of lock state.
//   - In progress with a live lock: ActiveLockError.
//   - In progress with an expired lock: take over the existing record,
//     rebind run_id, issue a new lock.
//   - Failed, partial or pending: re-acquire for a retry.
//
// Every transition is persisted before returning.
func (s *Store) AcquireLock(ctx context.Context, partition, source, runID, runDate string, ttl time.Duration) (*Checkpoint, error) {
	now := s.now().UTC()

	var cp Checkpoint
	found, err := s.store.LoadJSON(ctx, s.key(partition), &cp)
	if err != nil {
		// Unreadable checkpoint metadata degrades to absent. The lease still
		// serializes writers; we only lose the previous run's bookkeeping.
		s.logger.Warn("checkpoint unreadable, treating as absent",
			zap.String("partition", partition),
			zap.Error(err))
		found = false
	}

	if found {
		switch cp.Status {
		case StatusCompleted:
			completedAt := now
			if cp.CompletedAt != nil {
				completedAt = *cp.CompletedAt
			}
			return nil, &AlreadyCompletedError{
				PartitionPath: partition,
				RunID:         cp.RunID,
				CompletedAt:   completedAt,
			}
		case StatusInProgress:
			if cp.Lock != nil && !cp.Lock.Expired(now) {
				return nil, &ActiveLockError{
					PartitionPath: partition,
					HolderID:      cp.Lock.HolderID,
					ExpiresAt:     cp.Lock.ExpiresAt,
				}
			}
			if cp.Lock != nil {
				s.logger.Warn("taking over expired lock",
					zap.String("partition", partition),
					zap.String("previous_holder", cp.Lock.HolderID),
					zap.String("new_holder", runID),
					zap.Time("expired_at", cp.Lock.ExpiresAt))
			}
		}
	} else {
		cp = Checkpoint{
			CheckpointID:  uuid.NewString(),
			PartitionPath: partition,
		}
	}

	cp.SourceKey = source
	cp.RunID = runID
	cp.RunDate = runDate
	cp.Status = StatusInProgress
	cp.StartedAt = now
	cp.CompletedAt = nil
	cp.ErrorMessage = ""
	cp.Lock = &Lock{
		HolderID:   runID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := s.store.SaveJSON(ctx, s.key(partition), &cp); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint for %s: %w", partition, err)
	}

	s.logger.Info("acquired partition lease",
		zap.String("partition", partition),
		zap.String("run_id", runID),
		zap.Time("expires_at", cp.Lock.ExpiresAt))

	return &cp, nil
}

// ReleaseLock finishes a run on a partition. On success the checkpoint
// transitions to completed with counts and final watermark recorded. On
// failure it transitions to failed if no chunks were written, partial
// otherwise. Either way the lock is cleared.
//
// A release by a run_id that no longer holds the lock is logged as a
// mismatch but still proceeds: last writer wins.
func (s *Store) ReleaseLock(ctx context.Context, partition, runID string, success bool, rel ReleaseStats) (*Checkpoint, error) {
	var cp Checkpoint
	found, err := s.store.LoadJSON(ctx, s.key(partition), &cp)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", partition, err)
	}
	if !found {
		return nil, fmt.Errorf("no checkpoint exists for partition %s", partition)
	}

	if cp.Lock != nil && cp.Lock.HolderID != runID {
		s.logger.Warn("lock holder mismatch on release, proceeding",
			zap.String("partition", partition),
			zap.String("holder", cp.Lock.HolderID),
			zap.String("releasing_run", runID))
	}

	now := s.now().UTC()
	cp.RunID = runID
	cp.Stats = Stats{
		RecordCount:   rel.RecordCount,
		ChunkCount:    rel.ChunkCount,
		ArtifactCount: rel.ArtifactCount,
	}
	cp.CompletedAt = &now
	cp.Lock = nil

	if success {
		cp.Status = StatusCompleted
		cp.ErrorMessage = ""
		if rel.WatermarkValue != "" {
			cp.Watermark = WatermarkRef{
				Column: rel.WatermarkColumn,
				Value:  rel.WatermarkValue,
				Type:   rel.WatermarkType,
			}
		}
	} else {
		if rel.ChunkCount > 0 {
			cp.Status = StatusPartial
		} else {
			cp.Status = StatusFailed
		}
		cp.ErrorMessage = rel.ErrorMessage
	}

	if err := s.store.SaveJSON(ctx, s.key(partition), &cp); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint for %s: %w", partition, err)
	}

	s.logger.Info("released partition lease",
		zap.String("partition", partition),
		zap.String("run_id", runID),
		zap.String("status", string(cp.Status)),
		zap.Int64("records", rel.RecordCount))

	return &cp, nil
}

// List returns every checkpoint in the store. Unreadable documents are
// skipped with a warning.
func (s *Store) List(ctx context.Context) ([]*Checkpoint, error) {
	keys, err := s.store.List(ctx, s.prefix, ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	cps := make([]*Checkpoint, 0, len(keys))
	for _, key := range keys {
		var cp Checkpoint
		found, err := s.store.LoadJSON(ctx, key, &cp)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if found {
			cps = append(cps, &cp)
		}
	}
	return cps, nil
}

// CleanupOld retains the keepCount most recently completed checkpoints for a
// source and deletes the rest. Only completed checkpoints are eligible:
// in-flight, failed and partial records are debugging evidence and are never
// cleaned up here. Returns the number of checkpoints deleted.
func (s *Store) CleanupOld(ctx context.Context, source string, keepCount int) (int, error) {
	if keepCount < 0 {
		keepCount = 0
	}

	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var completed []*Checkpoint
	for _, cp := range all {
		if cp.SourceKey == source && cp.Status == StatusCompleted {
			completed = append(completed, cp)
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if completed[i].CompletedAt != nil {
			ti = *completed[i].CompletedAt
		}
		if completed[j].CompletedAt != nil {
			tj = *completed[j].CompletedAt
		}
		return ti.After(tj)
	})

	deleted := 0
	for _, cp := range completed[min(keepCount, len(completed)):] {
		if _, err := s.store.Delete(ctx, s.key(cp.PartitionPath)); err != nil {
			s.logger.Warn("failed to delete old checkpoint",
				zap.String("partition", cp.PartitionPath),
				zap.Error(err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("cleaned up old checkpoints",
			zap.String("source", source),
			zap.Int("deleted", deleted),
			zap.Int("kept", min(keepCount, len(completed))))
	}
	return deleted, nil
}
