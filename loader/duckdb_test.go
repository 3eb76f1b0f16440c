package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/silver"
)

func TestDuckTypeInference(t *testing.T) {
	table := silver.NewTable("s", "i", "f", "b", "ts", "empty")
	table.Rows = []silver.Row{
		{"s": nil, "i": nil, "f": nil, "b": nil, "ts": nil, "empty": nil},
		{"s": "x", "i": int64(1), "f": 1.5, "b": true, "ts": time.Now(), "empty": nil},
	}

	tests := []struct {
		col  string
		want string
	}{
		{"s", "VARCHAR"},
		{"i", "BIGINT"},
		{"f", "DOUBLE"},
		{"b", "BOOLEAN"},
		{"ts", "TIMESTAMP"},
		{"empty", "VARCHAR"}, // all-nil falls back
	}
	for _, tt := range tests {
		if got := duckType(table, tt.col); got != tt.want {
			t.Errorf("duckType(%s) = %s, want %s", tt.col, got, tt.want)
		}
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	d, err := Open(zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	dir := t.TempDir()
	ctx := context.Background()

	table := silver.NewTable("view_id", "event_ts", "count")
	table.Rows = []silver.Row{
		{"view_id": "v1", "event_ts": time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC), "count": int64(3)},
		{"view_id": "v2", "event_ts": time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC), "count": int64(7)},
	}

	rows, err := d.WriteTable(ctx, table, filepath.Join(dir, "part-0000.parquet"))
	if err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if rows != 2 {
		t.Errorf("rows written = %d, want 2", rows)
	}

	loaded, err := d.LoadPartition(ctx, dir)
	if err != nil {
		t.Fatalf("LoadPartition failed: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 rows back, got %d", loaded.Len())
	}
	if len(loaded.Columns) != 3 {
		t.Errorf("expected 3 columns, got %v", loaded.Columns)
	}
}

func TestLoadPartitionIgnoresSideFiles(t *testing.T) {
	d, err := Open(zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	dir := t.TempDir()
	ctx := context.Background()

	table := silver.NewTable("id")
	table.Rows = []silver.Row{{"id": int64(1)}}
	if _, err := d.WriteTable(ctx, table, filepath.Join(dir, "data.parquet")); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}

	// A checksum manifest masquerading with a data extension must not be read.
	if err := os.WriteFile(filepath.Join(dir, "_checksums.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loaded, err := d.LoadPartition(ctx, dir)
	if err != nil {
		t.Fatalf("LoadPartition failed: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("expected 1 row, got %d", loaded.Len())
	}
}

func TestLoadPartitionEmptyDirErrors(t *testing.T) {
	d, err := Open(zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	if _, err := d.LoadPartition(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error for partition with no data files")
	}
}

func TestNormalizeValue(t *testing.T) {
	if got := normalizeValue([]byte("abc")); got != "abc" {
		t.Errorf("normalizeValue([]byte) = %v, want string abc", got)
	}
	if got := normalizeValue(int64(5)); got != int64(5) {
		t.Errorf("normalizeValue(int64) = %v, want 5", got)
	}
}
