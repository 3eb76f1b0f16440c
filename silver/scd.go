package silver

// State output columns added by the engine.
const (
	ColEffectiveFrom = "effective_from"
	ColEffectiveTo   = "effective_to"
	ColIsCurrent     = "is_current"
)

// buildState produces the state outputs for state and derived_state kinds,
// driven by the history mode. Rows arrive deduped and sorted by
// (natural keys, change timestamp).
func buildState(intent *Intent, rawColumns []string, rows []Row) map[string]*Table {
	rows = applyStateDeletes(intent, rows)

	if intent.HistoryMode == HistorySCD2 {
		return buildSCD2(intent, rawColumns, rows)
	}
	return buildLatest(intent, rawColumns, rows)
}

// applyStateDeletes handles soft-deleted versions. Under delete mode ignore
// they are dropped before history construction; under tombstone_state they
// stay, so a delete closes out the key's history with a flagged version.
func applyStateDeletes(intent *Intent, rows []Row) []Row {
	if intent.SoftDeleteColumn == "" || intent.DeleteMode != DeleteIgnore {
		return rows
	}

	out := rows[:0]
	for _, r := range rows {
		if !isTruthy(r[intent.SoftDeleteColumn]) {
			out = append(out, r)
		}
	}
	return out
}

// buildLatest keeps exactly one row per natural key, the one with the
// maximum change timestamp. Covers both scd1 and latest_only: no history.
func buildLatest(intent *Intent, rawColumns []string, rows []Row) map[string]*Table {
	current := NewTable(rawColumns...)
	for i, r := range rows {
		if i+1 < len(rows) &&
			compositeKey(r, intent.NaturalKeys) == compositeKey(rows[i+1], intent.NaturalKeys) {
			continue
		}
		current.Append(r)
	}
	return map[string]*Table{OutputStateCurrent: current}
}

// buildSCD2 constructs full version history. For each key's ordered
// sequence of versions, effective_from is that version's change timestamp
// and effective_to is the next version's effective_from (nil for the last).
// Exactly one row per key is current. An explicit per-key pass pairing each
// version with its successor; the current table is the is_current filter of
// the history table.
func buildSCD2(intent *Intent, rawColumns []string, rows []Row) map[string]*Table {
	historyCols := append(append([]string(nil), rawColumns...),
		ColEffectiveFrom, ColEffectiveTo, ColIsCurrent)

	history := NewTable(historyCols...)
	current := NewTable(historyCols...)

	tsCol := intent.ChangeTSColumn
	for i, r := range rows {
		row := cloneRow(r)
		row[ColEffectiveFrom] = r[tsCol]

		last := i+1 >= len(rows) ||
			compositeKey(r, intent.NaturalKeys) != compositeKey(rows[i+1], intent.NaturalKeys)
		if last {
			row[ColEffectiveTo] = nil
			row[ColIsCurrent] = 1
		} else {
			row[ColEffectiveTo] = rows[i+1][tsCol]
			row[ColIsCurrent] = 0
		}

		history.Append(row)
		if last {
			current.Append(row)
		}
	}

	return map[string]*Table{
		OutputStateHistory: history,
		OutputStateCurrent: current,
	}
}
