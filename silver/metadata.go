package silver

// Run-metadata columns stamped onto every output row before it is handed to
// the output writer.
const (
	ColBatchID      = "batch_id"
	ColSourceSystem = "source_system"
	ColProcessedAt  = "processed_at"
	ColEnvironment  = "environment"
	ColDomain       = "domain"
	ColEntity       = "entity"
	ColOwner        = "record_owner"
)

// enrich stamps batch/run metadata onto an output table. Everything except
// batch_id and processed_at is stable across reruns, which is what keeps
// rerun output comparable.
func enrich(table *Table, intent *Intent, meta RunMetadata) {
	for _, col := range []string{
		ColBatchID, ColSourceSystem, ColProcessedAt,
		ColEnvironment, ColDomain, ColEntity, ColOwner,
	} {
		table.AddColumn(col)
	}

	for _, r := range table.Rows {
		r[ColBatchID] = meta.BatchID
		r[ColSourceSystem] = intent.SourceSystem
		r[ColProcessedAt] = meta.RunTimestamp.UTC()
		r[ColEnvironment] = meta.Environment
		r[ColDomain] = intent.Domain
		r[ColEntity] = intent.Entity
		r[ColOwner] = intent.Owner
	}
}
