// Package pipeline runs Silver transformation tasks over a bounded worker
// pool. Each (partition, intent) task independently acquires its own
// checkpoint lease, verifies its input, transforms it, and releases the
// lease; partitions are independent units of work and the lease protocol is
// the only shared state between them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/checkpoint"
	"github.com/tonysebion/medallion-foundry-sub003/integrity"
	"github.com/tonysebion/medallion-foundry-sub003/silver"
	"github.com/tonysebion/medallion-foundry-sub003/watermark"
)

// Task is one unit of work: a partition to transform under a dataset intent.
type Task struct {
	SourceKey     string
	PartitionPath string
	Intent        *silver.Intent

	// WatermarkColumn/Type advance the source watermark from the raw
	// table's governing values. Empty column disables watermark updates.
	WatermarkColumn string
	WatermarkType   watermark.Type
}

// RawLoader loads a partition directory into a record table.
type RawLoader interface {
	LoadPartition(ctx context.Context, dir string) (*silver.Table, error)
}

// OutputWriter persists one curated table, returning rows written.
type OutputWriter interface {
	WriteTable(ctx context.Context, table *silver.Table, path string) (int64, error)
}

// Config tunes the runner.
type Config struct {
	Workers  int
	LeaseTTL time.Duration
	// OutputDir is the Silver layer root; outputs land under
	// <output_dir>/<entity>/<output_name>/.
	OutputDir string
	// ManifestName overrides the checksum manifest file name.
	ManifestName string
	// FreshnessSkip bypasses input verification for manifests younger than
	// this. Zero always verifies.
	FreshnessSkip time.Duration
	Environment   string
	// KeepCheckpoints retains the N most recent completed checkpoints per
	// source after a run. Zero disables cleanup.
	KeepCheckpoints int
	// WriteOutputManifests produces a checksum manifest next to each
	// curated output so downstream consumers can verify them in turn.
	WriteOutputManifests bool
}

// ApplyDefaults sets default values for the runner config.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Minute
	}
	if c.ManifestName == "" {
		c.ManifestName = integrity.DefaultManifestName
	}
}

// Summary aggregates a run over many tasks.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Errors    []error
}

// Runner wires the coordinator, the integrity bridge and the pattern engine
// together and drives them from a worker pool.
type Runner struct {
	checkpoints *checkpoint.Store
	watermarks  *watermark.Store
	engine      *silver.Engine
	loader      RawLoader
	writer      OutputWriter
	notifier    CatalogNotifier
	logger      *zap.Logger
	cfg         Config
}

// NewRunner creates a runner. The notifier may be nil.
func NewRunner(
	cps *checkpoint.Store,
	wms *watermark.Store,
	engine *silver.Engine,
	loader RawLoader,
	writer OutputWriter,
	notifier CatalogNotifier,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	cfg.ApplyDefaults()
	return &Runner{
		checkpoints: cps,
		watermarks:  wms,
		engine:      engine,
		loader:      loader,
		writer:      writer,
		notifier:    notifier,
		logger:      logger,
		cfg:         cfg,
	}
}

// Run processes the tasks over the worker pool and returns a summary. Task
// failures are collected, not fatal: one bad partition never stops the rest.
func (r *Runner) Run(ctx context.Context, tasks []Task) *Summary {
	queue := make(chan Task)
	summary := &Summary{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				err := r.processTask(ctx, task)

				mu.Lock()
				switch {
				case err == nil:
					summary.Processed++
				case isConflict(err):
					summary.Skipped++
				default:
					summary.Failed++
					summary.Errors = append(summary.Errors,
						fmt.Errorf("partition %s: %w", task.PartitionPath, err))
				}
				mu.Unlock()
			}
		}()
	}

	for _, task := range tasks {
		select {
		case queue <- task:
		case <-ctx.Done():
			// Stop feeding; workers drain what they already picked up.
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()

	r.cleanupCheckpoints(ctx, tasks)

	r.logger.Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))

	return summary
}

// isConflict reports whether the error is a lease conflict: someone else
// finished or is working on the partition. Conflicts are ordinary outcomes
// (skip), not failures, and are never auto-retried here.
func isConflict(err error) bool {
	var completed *checkpoint.AlreadyCompletedError
	var active *checkpoint.ActiveLockError
	return errors.As(err, &completed) || errors.As(err, &active)
}

func (r *Runner) processTask(ctx context.Context, task Task) error {
	start := time.Now()
	runID := uuid.NewString()
	runDate := start.UTC().Format("2006-01-02")

	cp, err := r.checkpoints.AcquireLock(ctx, task.PartitionPath, task.SourceKey, runID, runDate, r.cfg.LeaseTTL)
	if err != nil {
		var completed *checkpoint.AlreadyCompletedError
		var active *checkpoint.ActiveLockError
		switch {
		case errors.As(err, &completed):
			partitionsSkipped.WithLabelValues("already_completed").Inc()
			r.logger.Info("skipping completed partition",
				zap.String("partition", task.PartitionPath))
		case errors.As(err, &active):
			partitionsSkipped.WithLabelValues("active_lock").Inc()
			r.logger.Info("skipping locked partition",
				zap.String("partition", task.PartitionPath),
				zap.String("holder", active.HolderID))
		}
		return err
	}

	outputs, records, written, err := r.transformPartition(ctx, task, cp)
	if err != nil {
		partitionsFailed.Inc()
		var integrityErr *silver.IntegrityError
		if errors.As(err, &integrityErr) {
			integrityFailures.Inc()
		}

		// Chunks written before the failure are reported so the store can
		// distinguish partial progress from a clean failure.
		if _, relErr := r.checkpoints.ReleaseLock(ctx, task.PartitionPath, runID, false, checkpoint.ReleaseStats{
			ChunkCount:    written,
			ArtifactCount: written,
			ErrorMessage:  err.Error(),
		}); relErr != nil {
			r.logger.Error("failed to release lease after error",
				zap.String("partition", task.PartitionPath),
				zap.Error(relErr))
		}
		return err
	}

	watermarkValue := r.advanceWatermark(ctx, task, records, runID, runDate)

	rel := checkpoint.ReleaseStats{
		RecordCount:     int64(records.Len()),
		ChunkCount:      written,
		ArtifactCount:   written,
		WatermarkColumn: task.WatermarkColumn,
		WatermarkValue:  watermarkValue,
		WatermarkType:   task.WatermarkType,
	}
	if _, err := r.checkpoints.ReleaseLock(ctx, task.PartitionPath, runID, true, rel); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	partitionsProcessed.Inc()
	processingDuration.Observe(time.Since(start).Seconds())

	if r.notifier != nil {
		r.notifier.PartitionProcessed(ctx, LineageEvent{
			SourceKey:   task.SourceKey,
			Domain:      task.Intent.Domain,
			Entity:      task.Intent.Entity,
			Partition:   task.PartitionPath,
			BatchID:     runID,
			RunID:       runID,
			OutputRows:  countRows(outputs),
			CompletedAt: time.Now().UTC(),
		})
	}
	return nil
}

// transformPartition runs the integrity gate, loads the raw table, applies
// the pattern engine and writes the curated outputs. Returns the output
// tables, the raw table they came from, and the number of output files
// written; the count is meaningful on error too, so the caller can report
// partial progress.
func (r *Runner) transformPartition(ctx context.Context, task Task, cp *checkpoint.Checkpoint) (map[string]*silver.Table, *silver.Table, int64, error) {
	gate := silver.GateOptions{
		ManifestName:  r.cfg.ManifestName,
		FreshnessSkip: r.cfg.FreshnessSkip,
	}
	if err := r.engine.VerifyPartition(task.PartitionPath, task.Intent, gate); err != nil {
		return nil, nil, 0, err
	}

	raw, err := r.loader.LoadPartition(ctx, task.PartitionPath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to load raw table: %w", err)
	}

	result, err := r.engine.Transform(task.Intent, raw, silver.RunMetadata{
		BatchID:      cp.RunID,
		RunTimestamp: cp.StartedAt,
		Environment:  r.cfg.Environment,
	})
	if err != nil {
		return nil, nil, 0, err
	}

	var written int64
	partitionName := filepath.Base(filepath.Clean(task.PartitionPath))
	for name, table := range result.Outputs {
		outDir := filepath.Join(r.cfg.OutputDir, task.Intent.Entity, name)
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return nil, nil, written, fmt.Errorf("failed to create output directory: %w", err)
		}

		fileName := partitionName + ".parquet"
		rows, err := r.writer.WriteTable(ctx, table, filepath.Join(outDir, fileName))
		if err != nil {
			return nil, nil, written, fmt.Errorf("failed to write output %s: %w", name, err)
		}
		written++
		rowsTransformed.WithLabelValues(task.Intent.Entity, name).Add(float64(rows))

		if r.cfg.WriteOutputManifests {
			if _, err := integrity.WriteManifest(outDir, string(task.Intent.EntityKind), []string{fileName}); err != nil {
				r.logger.Warn("failed to write output manifest",
					zap.String("output", name),
					zap.Error(err))
			}
		}
	}

	return result.Outputs, raw, written, nil
}

// advanceWatermark moves the source watermark to the highest governing
// value seen in the raw table. Watermark problems are logged, never fatal:
// the checkpoint already records the partition as done.
func (r *Runner) advanceWatermark(ctx context.Context, task Task, raw *silver.Table, runID, runDate string) string {
	if task.WatermarkColumn == "" || r.watermarks == nil {
		return ""
	}

	wm := r.watermarks.Get(ctx, task.SourceKey, task.WatermarkColumn, task.WatermarkType)
	best := maxColumnValue(raw, task.WatermarkColumn, task.WatermarkType)
	if best == "" {
		return wm.Value
	}

	if wm.Advance(best, runID, runDate, int64(raw.Len())) {
		if err := r.watermarks.Save(ctx, wm); err != nil {
			r.logger.Warn("failed to save watermark",
				zap.String("source", task.SourceKey),
				zap.Error(err))
		}
	}
	return wm.Value
}

// maxColumnValue finds the highest value of a column under the watermark
// type's ordering.
func maxColumnValue(raw *silver.Table, column string, typ watermark.Type) string {
	probe := watermark.Watermark{Type: typ}
	for _, row := range raw.Rows {
		v := row[column]
		if v == nil {
			continue
		}
		candidate := canonicalWatermarkValue(v)
		if probe.Compare(candidate) > 0 {
			probe.Value = candidate
		}
	}
	return probe.Value
}

func canonicalWatermarkValue(v any) string {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}

func countRows(outputs map[string]*silver.Table) map[string]int {
	counts := make(map[string]int, len(outputs))
	for name, table := range outputs {
		counts[name] = table.Len()
	}
	return counts
}

// cleanupCheckpoints applies completed-only retention per source after a run.
func (r *Runner) cleanupCheckpoints(ctx context.Context, tasks []Task) {
	if r.cfg.KeepCheckpoints <= 0 {
		return
	}

	seen := make(map[string]bool)
	for _, task := range tasks {
		if seen[task.SourceKey] {
			continue
		}
		seen[task.SourceKey] = true

		if _, err := r.checkpoints.CleanupOld(ctx, task.SourceKey, r.cfg.KeepCheckpoints); err != nil {
			r.logger.Warn("checkpoint cleanup failed",
				zap.String("source", task.SourceKey),
				zap.Error(err))
		}
	}
}
