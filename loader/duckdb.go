// Package loader is the concrete raw-table collaborator: it loads a
// partition's data files into an in-memory record table and writes curated
// tables back out as parquet. All file-format parsing lives here, behind
// DuckDB; the pattern engine never touches bytes on disk.
package loader

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/silver"
)

// DuckDB wraps an in-memory DuckDB connection used for partition I/O.
type DuckDB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates an in-memory DuckDB connection.
func Open(logger *zap.Logger) (*DuckDB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	return &DuckDB{db: db, logger: logger}, nil
}

// Close releases the connection.
func (d *DuckDB) Close() error {
	return d.db.Close()
}

// readFunctions maps data file extensions to DuckDB table functions, in
// precedence order when a partition mixes formats.
var readFunctions = []struct {
	ext string
	fn  string
}{
	{".parquet", "read_parquet"},
	{".ndjson", "read_json_auto"},
	{".jsonl", "read_json_auto"},
	{".json", "read_json_auto"},
	{".csv", "read_csv_auto"},
}

// LoadPartition reads every data file in a partition directory into a
// table. Side-files (anything starting with "_", like the checksum manifest
// and the quarantine directory) are ignored.
func (d *DuckDB) LoadPartition(ctx context.Context, dir string) (*silver.Table, error) {
	for _, rf := range readFunctions {
		files, err := filepath.Glob(filepath.Join(dir, "*"+rf.ext))
		if err != nil {
			return nil, fmt.Errorf("failed to glob %s: %w", dir, err)
		}

		var data []string
		for _, f := range files {
			if !strings.HasPrefix(filepath.Base(f), "_") {
				data = append(data, f)
			}
		}
		if len(data) == 0 {
			continue
		}
		sort.Strings(data)

		return d.loadFiles(ctx, rf.fn, data)
	}
	return nil, fmt.Errorf("no data files found in partition %s", dir)
}

func (d *DuckDB) loadFiles(ctx context.Context, readFn string, files []string) (*silver.Table, error) {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + strings.ReplaceAll(f, "'", "''") + "'"
	}

	query := fmt.Sprintf("SELECT * FROM %s([%s])", readFn, strings.Join(quoted, ", "))
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition files: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	table := silver.NewTable(columns...)
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(silver.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		table.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading partition: %w", err)
	}

	d.logger.Debug("loaded partition",
		zap.Int("files", len(files)),
		zap.Int("rows", table.Len()))

	return table, nil
}

// normalizeValue converts driver byte slices to strings so the engine's
// comparison logic sees plain Go values.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// WriteTable writes a curated table to a parquet file via an in-memory
// staging table and COPY TO. Returns the number of rows written.
func (d *DuckDB) WriteTable(ctx context.Context, table *silver.Table, path string) (int64, error) {
	if len(table.Columns) == 0 {
		return 0, fmt.Errorf("cannot write table with no columns")
	}

	staging := fmt.Sprintf("staging_%d", time.Now().UnixNano())

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = fmt.Sprintf("%q %s", c, duckType(table, c))
	}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", staging, strings.Join(cols, ", "))
	if _, err := d.db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}
	defer d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(table.Columns)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", staging, placeholders)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	for _, r := range table.Rows {
		args := make([]any, len(table.Columns))
		for i, c := range table.Columns {
			args[i] = r[c]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, fmt.Errorf("failed to stage row: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit staging rows: %w", err)
	}

	copySQL := fmt.Sprintf("COPY (SELECT * FROM %s) TO '%s' (FORMAT PARQUET)",
		staging, strings.ReplaceAll(path, "'", "''"))
	if _, err := d.db.ExecContext(ctx, copySQL); err != nil {
		return 0, fmt.Errorf("failed to write parquet %s: %w", path, err)
	}

	d.logger.Debug("wrote curated table",
		zap.String("path", path),
		zap.Int("rows", table.Len()))

	return int64(table.Len()), nil
}

// duckType infers a column type from the first non-nil value. Everything
// unrecognized falls back to VARCHAR.
func duckType(table *silver.Table, col string) string {
	for _, r := range table.Rows {
		switch r[col].(type) {
		case nil:
			continue
		case time.Time:
			return "TIMESTAMP"
		case int, int32, int64:
			return "BIGINT"
		case float32, float64:
			return "DOUBLE"
		case bool:
			return "BOOLEAN"
		default:
			return "VARCHAR"
		}
	}
	return "VARCHAR"
}
