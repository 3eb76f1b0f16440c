package watermark

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/storage"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return NewStore(backend, "", zap.NewNop()), dir
}

func TestCompareInteger(t *testing.T) {
	w := &Watermark{Type: TypeInteger, Value: "10"}

	tests := []struct {
		candidate string
		want      int
	}{
		{"5", -1},
		{"10", 0},
		{"15", 1},
		{"9", -1}, // numeric, not lexicographic
	}
	for _, tt := range tests {
		if got := w.Compare(tt.candidate); got != tt.want {
			t.Errorf("Compare(%q) = %d, want %d", tt.candidate, got, tt.want)
		}
	}
}

func TestCompareTimestamp(t *testing.T) {
	w := &Watermark{Type: TypeTimestamp, Value: "2024-01-01T00:00:00Z"}

	tests := []struct {
		candidate string
		want      int
	}{
		{"2023-12-31T23:59:59Z", -1},
		{"2024-01-01T00:00:00Z", 0},
		{"2024-01-02", 1},
	}
	for _, tt := range tests {
		if got := w.Compare(tt.candidate); got != tt.want {
			t.Errorf("Compare(%q) = %d, want %d", tt.candidate, got, tt.want)
		}
	}
}

func TestCompareEmptyStoredValue(t *testing.T) {
	// Absence of a stored value always compares as "new".
	for _, typ := range []Type{TypeTimestamp, TypeDate, TypeInteger, TypeString} {
		w := &Watermark{Type: typ}
		if got := w.Compare("anything"); got != 1 {
			t.Errorf("type %s: Compare on empty value = %d, want 1", typ, got)
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		raw     string
		want    Type
		wantErr bool
	}{
		{"timestamp", TypeTimestamp, false},
		{"DATETIME", TypeTimestamp, false},
		{"", TypeTimestamp, false},
		{"int", TypeInteger, false},
		{"sequence", TypeInteger, false},
		{"date", TypeDate, false},
		{"text", TypeString, false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseType(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q) failed: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestResumeValue(t *testing.T) {
	tests := []struct {
		name string
		w    Watermark
		want string
	}{
		{"integer resumes exclusively", Watermark{Type: TypeInteger, Value: "41"}, "42"},
		{"timestamp resumes inclusively", Watermark{Type: TypeTimestamp, Value: "2024-06-01T00:00:00Z"}, "2024-06-01T00:00:00Z"},
		{"fresh watermark", Watermark{Type: TypeInteger}, ""},
		{"unparsable integer falls back", Watermark{Type: TypeInteger, Value: "abc"}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.ResumeValue(); got != tt.want {
				t.Errorf("ResumeValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetMissingReturnsFresh(t *testing.T) {
	store, _ := newTestStore(t)

	w := store.Get(context.Background(), "crm.orders", "updated_at", TypeTimestamp)
	if w.Value != "" {
		t.Errorf("expected empty value for fresh watermark, got %q", w.Value)
	}
	if w.SourceKey != "crm.orders" || w.Column != "updated_at" || w.Type != TypeTimestamp {
		t.Errorf("fresh watermark fields not initialized: %+v", w)
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	w := store.Get(ctx, "crm.orders", "order_id", TypeInteger)
	if !w.Advance("1000", "run-1", "2024-06-01", 250) {
		t.Fatal("expected Advance to move a fresh watermark")
	}
	if err := store.Save(ctx, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := store.Get(ctx, "crm.orders", "order_id", TypeInteger)
	if loaded.Value != "1000" {
		t.Errorf("expected value 1000, got %q", loaded.Value)
	}
	if loaded.LastRunID != "run-1" {
		t.Errorf("expected last_run_id run-1, got %q", loaded.LastRunID)
	}
	if loaded.RecordCount != 250 {
		t.Errorf("expected record_count 250, got %d", loaded.RecordCount)
	}

	// An older value must not move the watermark backwards.
	if loaded.Advance("500", "run-2", "2024-06-02", 10) {
		t.Error("Advance accepted an older value")
	}
}

func TestGetCorruptReturnsFresh(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	w := store.Get(ctx, "src", "id", TypeInteger)
	w.Advance("7", "run-1", "2024-06-01", 1)
	if err := store.Save(ctx, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Corrupt the state file; Get must degrade to a fresh watermark.
	path := filepath.Join(dir, "watermarks", "src.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fresh := store.Get(ctx, "src", "id", TypeInteger)
	if fresh.Value != "" {
		t.Errorf("expected fresh watermark after corruption, got value %q", fresh.Value)
	}
}

func TestDeleteAndList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, src := range []string{"a", "b", "c"} {
		w := store.Get(ctx, src, "id", TypeInteger)
		w.Advance("1", "run", "2024-06-01", 1)
		if err := store.Save(ctx, w); err != nil {
			t.Fatalf("Save %s failed: %v", src, err)
		}
	}

	deleted, err := store.Delete(ctx, "b")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Error("expected deleted=true")
	}

	deleted, err = store.Delete(ctx, "b")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if deleted {
		t.Error("expected deleted=false for missing watermark")
	}

	marks, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(marks) != 2 {
		t.Errorf("expected 2 watermarks, got %d", len(marks))
	}
}
