package silver

import "strings"

// defaultPartitionColumn names for the fallback derivation.
const (
	defaultEventPartition = "event_dt"
	defaultStatePartition = "effective_from_dt"
)

// derivePartitionColumns adds the calendar-date partition key to an output
// table. Precedence:
//
//  1. A declared record-time column/partition pair: the partition key is
//     the date of the record time for every output.
//  2. Explicitly declared partition columns: any *_dt-suffixed column not
//     already present is derived from the governing timestamp.
//  3. Default: the event timestamp's date for event-like outputs, the
//     effective_from date for state-like outputs.
func derivePartitionColumns(intent *Intent, table *Table) {
	if intent.RecordTimeColumn != "" && intent.RecordTimePartition != "" {
		fillDate(table, intent.RecordTimePartition, intent.RecordTimeColumn)
		return
	}

	if len(intent.PartitionBy) > 0 {
		for _, col := range intent.PartitionBy {
			if table.HasColumn(col) {
				continue
			}
			if strings.HasSuffix(col, "_dt") {
				fillDate(table, col, intent.GoverningTimeColumn())
			}
		}
		return
	}

	if intent.IsStateLike() {
		source := intent.GoverningTimeColumn()
		if table.HasColumn(ColEffectiveFrom) {
			source = ColEffectiveFrom
		}
		fillDate(table, defaultStatePartition, source)
		return
	}
	fillDate(table, defaultEventPartition, intent.GoverningTimeColumn())
}

// fillDate sets target on every row to the calendar date of the source
// timestamp column, in YYYY-MM-DD form.
func fillDate(table *Table, target, source string) {
	table.AddColumn(target)
	for _, r := range table.Rows {
		if ts, ok := coerceTime(r[source]); ok {
			r[target] = ts.Format("2006-01-02")
		} else {
			r[target] = nil
		}
	}
}
