package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LineageEvent describes one successfully processed partition for catalog
// and lineage consumers.
type LineageEvent struct {
	SourceKey   string
	Domain      string
	Entity      string
	Partition   string
	BatchID     string
	RunID       string
	OutputRows  map[string]int
	CompletedAt time.Time
}

// CatalogNotifier receives lineage events after each successful partition.
// It is an explicit collaborator owned by the caller; the runner never
// holds global notifier state. Notification failures must not fail the run,
// so the contract has no error return.
type CatalogNotifier interface {
	PartitionProcessed(ctx context.Context, event LineageEvent)
}

// LogNotifier is the default notifier: it records lineage in the run log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// PartitionProcessed logs the lineage event.
func (n *LogNotifier) PartitionProcessed(_ context.Context, event LineageEvent) {
	n.logger.Info("partition lineage",
		zap.String("source", event.SourceKey),
		zap.String("domain", event.Domain),
		zap.String("entity", event.Entity),
		zap.String("partition", event.Partition),
		zap.String("batch_id", event.BatchID),
		zap.Any("output_rows", event.OutputRows))
}
