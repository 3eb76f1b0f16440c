package silver

import (
	"strings"
)

// Change types stamped on derived events.
const (
	ChangeUpsert = "upsert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// buildEvents produces the append-only events output. Rows arrive deduped
// and are re-sorted by the event timestamp. Under replace_daily input the
// feed re-delivers full days, so rows additionally collapse to one per
// (natural keys, event date), keeping the latest.
func buildEvents(intent *Intent, rawColumns []string, rows []Row) map[string]*Table {
	if intent.InputMode == InputReplaceDaily {
		rows = collapseDaily(rows, intent.NaturalKeys, intent.EventTSColumn)
	}

	sortByTime(rows, intent.NaturalKeys, intent.EventTSColumn)

	out := NewTable(rawColumns...)
	out.Rows = rows
	return map[string]*Table{OutputEvents: out}
}

// collapseDaily keeps one row per (natural keys, event date), the one with
// the latest timestamp. Rows are already sorted by (keys, timestamp), so
// within a group the last row wins.
func collapseDaily(rows []Row, keys []string, tsCol string) []Row {
	out := make([]Row, 0, len(rows))
	for i, r := range rows {
		if i+1 < len(rows) && sameKeyAndDay(r, rows[i+1], keys, tsCol) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sameKeyAndDay(a, b Row, keys []string, tsCol string) bool {
	if compositeKey(a, keys) != compositeKey(b, keys) {
		return false
	}
	ta, tb := rowTime(a, tsCol), rowTime(b, tsCol)
	return ta.Year() == tb.Year() && ta.YearDay() == tb.YearDay()
}

// buildDerivedEvents diffs each key's versions in timestamp order against
// the immediately preceding version and emits a change event when any
// declared attribute changed. A stateful single pass per key: no look-ahead
// beyond one prior version is required.
func buildDerivedEvents(intent *Intent, rows []Row) map[string]*Table {
	tsCol := intent.ChangeTSColumn

	columns := make([]string, 0, len(intent.NaturalKeys)+len(intent.Attributes)+3)
	columns = append(columns, intent.NaturalKeys...)
	columns = append(columns, tsCol)
	columns = append(columns, intent.Attributes...)
	columns = append(columns, "change_type", "changed_columns")

	out := NewTable(columns...)

	// Rows are sorted by (keys, timestamp); track the prior version per key.
	var prevKey string
	var prev Row
	for _, r := range rows {
		key := compositeKey(r, intent.NaturalKeys)
		firstSeen := key != prevKey

		deleted := intent.SoftDeleteColumn != "" && isTruthy(r[intent.SoftDeleteColumn])
		if deleted {
			if intent.DeleteMode == DeleteTombstoneEvent {
				out.Append(derivedEvent(intent, r, ChangeDelete, nil))
			}
			prevKey, prev = key, r
			continue
		}

		if firstSeen {
			out.Append(derivedEvent(intent, r, ChangeUpsert, intent.Attributes))
			prevKey, prev = key, r
			continue
		}

		changed := changedAttributes(prev, r, intent.Attributes)
		if len(changed) == 0 {
			// No attribute moved: an exact re-statement of the prior
			// version. With delete mode ignore there is nothing to say.
			prevKey, prev = key, r
			continue
		}

		out.Append(derivedEvent(intent, r, ChangeUpdate, changed))
		prevKey, prev = key, r
	}

	return map[string]*Table{OutputDerivedEvents: out}
}

func derivedEvent(intent *Intent, r Row, changeType string, changed []string) Row {
	ev := make(Row, len(intent.NaturalKeys)+len(intent.Attributes)+3)
	for _, k := range intent.NaturalKeys {
		ev[k] = r[k]
	}
	ev[intent.ChangeTSColumn] = r[intent.ChangeTSColumn]
	for _, a := range intent.Attributes {
		ev[a] = r[a]
	}
	ev["change_type"] = changeType
	ev["changed_columns"] = strings.Join(changed, ",")
	return ev
}

func changedAttributes(prev, cur Row, attributes []string) []string {
	var changed []string
	for _, a := range attributes {
		if canonical(prev[a]) != canonical(cur[a]) {
			changed = append(changed, a)
		}
	}
	return changed
}
