package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	partitionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medallion_partitions_processed_total",
		Help: "Total number of partitions transformed successfully",
	})

	partitionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medallion_partitions_failed_total",
		Help: "Total number of partitions that failed processing",
	})

	partitionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medallion_partitions_skipped_total",
		Help: "Total number of partitions skipped, by reason",
	}, []string{"reason"})

	integrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medallion_integrity_failures_total",
		Help: "Total number of partitions that failed checksum verification",
	})

	rowsTransformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medallion_rows_transformed_total",
		Help: "Total number of rows written per entity and output table",
	}, []string{"entity", "output"})

	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medallion_partition_processing_duration_seconds",
		Help:    "Duration of full partition processing including I/O",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)
