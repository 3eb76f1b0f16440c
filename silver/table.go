package silver

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Row is one raw or curated record with named column values.
type Row map[string]any

// Table is an in-memory table of records with named columns. Raw tables are
// produced by an external loader; the engine only rearranges rows and adds
// columns, it never parses file formats.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given column order.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// HasColumn reports whether the table declares a column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn declares a column if not already present.
func (t *Table) AddColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// Append adds a row.
func (t *Table) Append(r Row) {
	t.Rows = append(t.Rows, r)
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

func cloneRow(r Row) Row {
	out := make(Row, len(r)+4)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// timeLayouts are the accepted string timestamp formats, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceTime converts a raw value into a comparable time. Strings must be
// ISO-8601-ish; integers and floats are taken as Unix seconds.
func coerceTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return x.UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case int:
		return time.Unix(int64(x), 0).UTC(), true
	case int64:
		return time.Unix(x, 0).UTC(), true
	case float64:
		return time.Unix(int64(x), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// isTruthy interprets a soft-delete marker value.
func isTruthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "true" || s == "t" || s == "1" || s == "yes" || s == "y"
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return false
	}
}

// canonical renders a value in a stable, comparable form. Times render as
// RFC3339Nano so equal instants compare equal regardless of source format.
func canonical(v any) string {
	if v == nil {
		return ""
	}
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}

// keySep is unlikely to appear in business keys; composite keys join on it.
const keySep = "\x1f"

// compositeKey builds a grouping key from the named columns of a row.
func compositeKey(r Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = canonical(r[c])
	}
	return strings.Join(parts, keySep)
}

// rowTime returns the coerced governing timestamp of a row, or the zero
// time when absent or unparsable (sorted first, so real versions win).
func rowTime(r Row, tsCol string) time.Time {
	ts, _ := coerceTime(r[tsCol])
	return ts
}

// sortByKeyAndTime stable-sorts rows ascending by (natural keys, governing
// timestamp). Deterministic ordering is what makes reruns on identical
// input byte-identical.
func sortByKeyAndTime(rows []Row, keys []string, tsCol string) {
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := compositeKey(rows[i], keys), compositeKey(rows[j], keys)
		if ki != kj {
			return ki < kj
		}
		return rowTime(rows[i], tsCol).Before(rowTime(rows[j], tsCol))
	})
}

// sortByTime stable-sorts rows ascending by the governing timestamp, with
// the natural key as tiebreaker.
func sortByTime(rows []Row, keys []string, tsCol string) {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := rowTime(rows[i], tsCol), rowTime(rows[j], tsCol)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return compositeKey(rows[i], keys) < compositeKey(rows[j], keys)
	})
}
