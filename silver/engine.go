package silver

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/integrity"
	"github.com/tonysebion/medallion-foundry-sub003/quarantine"
)

// Output table names produced by the engine.
const (
	OutputEvents        = "events"
	OutputStateHistory  = "state_history"
	OutputStateCurrent  = "state_current"
	OutputDerivedEvents = "derived_events"
)

// SchemaError reports required columns missing from the raw table, or
// unexpected columns under strict schema mode. No partial transformation is
// attempted.
type SchemaError struct {
	Entity     string
	Missing    []string
	Unexpected []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing columns [%s]", strings.Join(e.Missing, ", ")))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected columns [%s]", strings.Join(e.Unexpected, ", ")))
	}
	return fmt.Sprintf("schema check failed for %s: %s", e.Entity, strings.Join(parts, "; "))
}

// IntegrityError is the hard error raised when a partition fails
// verification. Processing never continues past it: by the time it is
// returned, quarantine (if enabled) has already run.
type IntegrityError struct {
	Partition   string
	Missing     int
	Mismatched  int
	Quarantined int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %d mismatched, %d missing (%d quarantined)",
		e.Partition, e.Mismatched, e.Missing, e.Quarantined)
}

// RunMetadata carries the batch/run identifiers stamped onto every output
// row. Produced per invocation by the caller.
type RunMetadata struct {
	BatchID      string
	RunTimestamp time.Time
	Environment  string
}

// RunMetrics summarizes one engine invocation. Ephemeral: produced and
// discarded per run, never persisted by the engine.
type RunMetrics struct {
	InputRows     int
	DedupedRows   int
	OutputRows    map[string]int
	Elapsed       time.Duration
	SkippedVerify bool
}

// Result is the set of named curated tables from one invocation.
type Result struct {
	Outputs map[string]*Table
	Metrics RunMetrics
}

// GateOptions controls the optional integrity gate in front of the engine.
type GateOptions struct {
	ManifestName string
	// FreshnessSkip bypasses verification when the manifest is younger
	// than this. Zero disables the heuristic.
	FreshnessSkip time.Duration
}

// Engine is the Silver transformation dispatcher.
type Engine struct {
	verifier   *integrity.Verifier
	quarantine *quarantine.Manager
	logger     *zap.Logger
}

// NewEngine creates a pattern engine. The verifier and quarantine manager
// are optional collaborators; pass nil to run without the integrity gate.
func NewEngine(verifier *integrity.Verifier, q *quarantine.Manager, logger *zap.Logger) *Engine {
	return &Engine{verifier: verifier, quarantine: q, logger: logger}
}

// VerifyPartition runs the integrity gate on a partition directory before
// its raw table is loaded. On a failed check it quarantines mismatched and
// missing-manifest files (if quarantine is enabled) and returns an
// IntegrityError; it never silently continues.
func (e *Engine) VerifyPartition(dir string, intent *Intent, opts GateOptions) error {
	if e.verifier == nil {
		return nil
	}

	if e.verifier.ShouldSkip(dir, opts.ManifestName, opts.FreshnessSkip) {
		e.logger.Info("integrity check skipped, manifest is fresh",
			zap.String("partition", dir),
			zap.String("entity", intent.Entity))
		return nil
	}

	result, err := e.verifier.Verify(dir, opts.ManifestName, "")
	if err != nil {
		if intent.RequireChecksum {
			return fmt.Errorf("checksum manifest required for %s: %w", intent.Entity, err)
		}
		e.logger.Warn("checksum manifest unreadable, proceeding unverified",
			zap.String("partition", dir),
			zap.Error(err))
		return nil
	}

	if result.Valid {
		return nil
	}

	quarantined := 0
	if e.quarantine != nil && len(result.Mismatched) > 0 {
		reason := fmt.Sprintf("checksum mismatch for %s", intent.Entity)
		qr := e.quarantine.Quarantine(dir, result.Mismatched, reason)
		quarantined = len(qr.Moved)
	}

	return &IntegrityError{
		Partition:   dir,
		Missing:     len(result.Missing),
		Mismatched:  len(result.Mismatched),
		Quarantined: quarantined,
	}
}

// Transform converts a raw table into curated outputs per the dataset's
// intent. Pre-processing (schema check, timestamp coercion, dedup) applies
// to every entity kind; dispatch then selects the pattern.
func (e *Engine) Transform(intent *Intent, raw *Table, meta RunMetadata) (*Result, error) {
	start := time.Now()

	if err := e.checkSchema(intent, raw); err != nil {
		return nil, err
	}

	rows := e.coerceTimestamps(intent, raw)
	rows = dedupe(rows, intent.NaturalKeys, intent.GoverningTimeColumn())

	var outputs map[string]*Table
	switch intent.EntityKind {
	case KindEvent:
		outputs = buildEvents(intent, raw.Columns, rows)
	case KindState, KindDerivedState:
		outputs = buildState(intent, raw.Columns, rows)
	case KindDerivedEvent:
		outputs = buildDerivedEvents(intent, rows)
	default:
		return nil, fmt.Errorf("unsupported entity kind %q for %s", intent.EntityKind, intent.Entity)
	}

	for _, table := range outputs {
		derivePartitionColumns(intent, table)
		enrich(table, intent, meta)
	}

	metrics := RunMetrics{
		InputRows:   raw.Len(),
		DedupedRows: len(rows),
		OutputRows:  make(map[string]int, len(outputs)),
		Elapsed:     time.Since(start),
	}
	for name, table := range outputs {
		metrics.OutputRows[name] = table.Len()
	}

	e.logger.Info("silver transform complete",
		zap.String("entity", intent.Entity),
		zap.String("kind", string(intent.EntityKind)),
		zap.Int("input_rows", metrics.InputRows),
		zap.Int("deduped_rows", metrics.DedupedRows),
		zap.Duration("elapsed", metrics.Elapsed))

	return &Result{Outputs: outputs, Metrics: metrics}, nil
}

// checkSchema verifies the raw column set against the intent. Required
// key, timestamp and attribute columns must be present; under strict mode
// any column outside the declared set is a hard error.
func (e *Engine) checkSchema(intent *Intent, raw *Table) error {
	required := make([]string, 0, len(intent.NaturalKeys)+len(intent.Attributes)+3)
	required = append(required, intent.NaturalKeys...)
	if ts := intent.GoverningTimeColumn(); ts != "" {
		required = append(required, ts)
	}
	required = append(required, intent.Attributes...)
	if intent.SoftDeleteColumn != "" {
		required = append(required, intent.SoftDeleteColumn)
	}
	if intent.RecordTimeColumn != "" {
		required = append(required, intent.RecordTimeColumn)
	}

	declared := make(map[string]bool, len(required)+len(intent.PartitionBy))
	schemaErr := &SchemaError{Entity: intent.Entity}
	for _, col := range required {
		declared[col] = true
		if !raw.HasColumn(col) {
			schemaErr.Missing = append(schemaErr.Missing, col)
		}
	}
	for _, col := range intent.PartitionBy {
		declared[col] = true
	}

	if intent.SchemaMode == SchemaStrict {
		for _, col := range raw.Columns {
			if !declared[col] {
				schemaErr.Unexpected = append(schemaErr.Unexpected, col)
			}
		}
	}

	if len(schemaErr.Missing) > 0 || len(schemaErr.Unexpected) > 0 {
		return schemaErr
	}
	return nil
}

// coerceTimestamps copies rows with the declared timestamp columns
// converted to time.Time. Rows keep their unparsable values untouched; the
// sort treats them as the zero time.
func (e *Engine) coerceTimestamps(intent *Intent, raw *Table) []Row {
	tsCols := make([]string, 0, 3)
	if intent.EventTSColumn != "" {
		tsCols = append(tsCols, intent.EventTSColumn)
	}
	if intent.ChangeTSColumn != "" {
		tsCols = append(tsCols, intent.ChangeTSColumn)
	}
	if intent.RecordTimeColumn != "" {
		tsCols = append(tsCols, intent.RecordTimeColumn)
	}

	rows := make([]Row, 0, raw.Len())
	for _, r := range raw.Rows {
		row := cloneRow(r)
		for _, col := range tsCols {
			if ts, ok := coerceTime(row[col]); ok {
				row[col] = ts
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// dedupe sorts rows by (natural keys, governing timestamp) ascending and
// keeps the last row per key-plus-timestamp combination. Exact re-deliveries
// collapse; real successive versions survive.
func dedupe(rows []Row, keys []string, tsCol string) []Row {
	sortByKeyAndTime(rows, keys, tsCol)

	groupCols := append(append([]string(nil), keys...), tsCol)
	out := make([]Row, 0, len(rows))
	for i, r := range rows {
		if i+1 < len(rows) && compositeKey(r, groupCols) == compositeKey(rows[i+1], groupCols) {
			continue
		}
		out = append(out, r)
	}
	return out
}
