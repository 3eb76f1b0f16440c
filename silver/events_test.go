package silver

import (
	"testing"

	"go.uber.org/zap"
)

func eventIntent(t *testing.T, input InputMode) *Intent {
	t.Helper()
	in := &Intent{
		Domain:        "web",
		Entity:        "page_view",
		SourceSystem:  "tracker",
		EntityKind:    KindEvent,
		InputMode:     input,
		NaturalKeys:   []string{"view_id"},
		EventTSColumn: "event_ts",
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("intent invalid: %v", err)
	}
	return in
}

func derivedIntent(t *testing.T) *Intent {
	t.Helper()
	in := &Intent{
		Domain:         "sales",
		Entity:         "customer_changes",
		SourceSystem:   "crm",
		EntityKind:     KindDerivedEvent,
		NaturalKeys:    []string{"customer_id"},
		ChangeTSColumn: "updated_at",
		Attributes:     []string{"name", "tier"},
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("intent invalid: %v", err)
	}
	return in
}

func TestEventsSortedByTimestamp(t *testing.T) {
	intent := eventIntent(t, InputAppendLog)
	raw := NewTable("view_id", "event_ts")
	raw.Rows = []Row{
		{"view_id": "v3", "event_ts": "2024-06-01T03:00:00Z"},
		{"view_id": "v1", "event_ts": "2024-06-01T01:00:00Z"},
		{"view_id": "v2", "event_ts": "2024-06-01T02:00:00Z"},
	}

	result, err := NewEngine(nil, nil, zap.NewNop()).Transform(intent, raw, testMeta())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	events := result.Outputs[OutputEvents]
	if events.Len() != 3 {
		t.Fatalf("expected 3 events, got %d", events.Len())
	}
	for i, want := range []string{"v1", "v2", "v3"} {
		if events.Rows[i]["view_id"] != want {
			t.Errorf("row %d view_id = %v, want %s", i, events.Rows[i]["view_id"], want)
		}
	}
}

func TestReplaceDailyCollapsesToOnePerKeyPerDay(t *testing.T) {
	intent := eventIntent(t, InputReplaceDaily)
	raw := NewTable("view_id", "event_ts")
	raw.Rows = []Row{
		// Same key, same day, different timestamps: latest wins.
		{"view_id": "v1", "event_ts": "2024-06-01T01:00:00Z"},
		{"view_id": "v1", "event_ts": "2024-06-01T09:00:00Z"},
		// Same key, next day: a separate event.
		{"view_id": "v1", "event_ts": "2024-06-02T01:00:00Z"},
		{"view_id": "v2", "event_ts": "2024-06-01T05:00:00Z"},
	}

	result, err := NewEngine(nil, nil, zap.NewNop()).Transform(intent, raw, testMeta())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	events := result.Outputs[OutputEvents]
	if events.Len() != 3 {
		t.Fatalf("expected 3 events after daily collapse, got %d", events.Len())
	}

	// v1 on 2024-06-01 must be the 09:00 delivery.
	found := false
	for _, r := range events.Rows {
		if r["view_id"] == "v1" && r["event_dt"] == "2024-06-01" {
			found = true
			if ts := canonical(r["event_ts"]); ts != "2024-06-01T09:00:00Z" {
				t.Errorf("collapsed v1 timestamp = %s, want 09:00 delivery", ts)
			}
		}
	}
	if !found {
		t.Error("expected a v1 event on 2024-06-01")
	}
}

func TestDerivedEventsDiff(t *testing.T) {
	intent := derivedIntent(t)
	raw := customerTable(
		Row{"customer_id": "c1", "updated_at": "2024-01-01T00:00:00Z", "name": "Ada", "tier": "bronze"},
		Row{"customer_id": "c1", "updated_at": "2024-02-01T00:00:00Z", "name": "Ada", "tier": "silver"},
	)

	result, err := NewEngine(nil, nil, zap.NewNop()).Transform(intent, raw, testMeta())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	events := result.Outputs[OutputDerivedEvents]
	if events.Len() != 2 {
		t.Fatalf("expected 2 derived events, got %d", events.Len())
	}

	first := events.Rows[0]
	if first["change_type"] != ChangeUpsert {
		t.Errorf("first version change_type = %v, want upsert", first["change_type"])
	}
	if first["changed_columns"] != "name,tier" {
		t.Errorf("upsert changed_columns = %v, want all attributes", first["changed_columns"])
	}

	second := events.Rows[1]
	if second["change_type"] != ChangeUpdate {
		t.Errorf("second version change_type = %v, want update", second["change_type"])
	}
	if second["changed_columns"] != "tier" {
		t.Errorf("update changed_columns = %v, want tier only", second["changed_columns"])
	}
}

func TestDerivedEventsSuppressUnchangedVersion(t *testing.T) {
	intent := derivedIntent(t)
	raw := customerTable(
		Row{"customer_id": "c1", "updated_at": "2024-01-01T00:00:00Z", "name": "Ada", "tier": "bronze"},
		// Restated with a new timestamp but no attribute change.
		Row{"customer_id": "c1", "updated_at": "2024-02-01T00:00:00Z", "name": "Ada", "tier": "bronze"},
	)

	result, err := NewEngine(nil, nil, zap.NewNop()).Transform(intent, raw, testMeta())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	events := result.Outputs[OutputDerivedEvents]
	if events.Len() != 1 {
		t.Fatalf("expected restatement suppressed, got %d events", events.Len())
	}
	if events.Rows[0]["change_type"] != ChangeUpsert {
		t.Errorf("surviving event change_type = %v, want upsert", events.Rows[0]["change_type"])
	}
}

func TestDerivedEventsTombstoneEmitsDelete(t *testing.T) {
	intent := derivedIntent(t)
	intent.DeleteMode = DeleteTombstoneEvent
	intent.SoftDeleteColumn = "is_deleted"

	raw := NewTable("customer_id", "updated_at", "name", "tier", "is_deleted")
	raw.Rows = []Row{
		{"customer_id": "c1", "updated_at": "2024-01-01T00:00:00Z", "name": "Ada", "tier": "bronze", "is_deleted": false},
		{"customer_id": "c1", "updated_at": "2024-02-01T00:00:00Z", "name": "Ada", "tier": "bronze", "is_deleted": true},
	}

	result, err := NewEngine(nil, nil, zap.NewNop()).Transform(intent, raw, testMeta())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	events := result.Outputs[OutputDerivedEvents]
	if events.Len() != 2 {
		t.Fatalf("expected upsert plus delete, got %d events", events.Len())
	}
	last := events.Rows[1]
	if last["change_type"] != ChangeDelete {
		t.Errorf("tombstone change_type = %v, want delete", last["change_type"])
	}
	if last["changed_columns"] != "" {
		t.Errorf("delete changed_columns = %v, want empty", last["changed_columns"])
	}
}

func TestDerivedEventsIgnoreSuppressesDelete(t *testing.T) {
	intent := derivedIntent(t)
	intent.SoftDeleteColumn = "is_deleted"

	raw := NewTable("customer_id", "updated_at", "name", "tier", "is_deleted")
	raw.Rows = []Row{
		{"customer_id": "c1", "updated_at": "2024-01-01T00:00:00Z", "name": "Ada", "tier": "bronze", "is_deleted": false},
		{"customer_id": "c1", "updated_at": "2024-02-01T00:00:00Z", "name": "Ada", "tier": "bronze", "is_deleted": true},
	}

	result, err := NewEngine(nil, nil, zap.NewNop()).Transform(intent, raw, testMeta())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	if got := result.Outputs[OutputDerivedEvents].Len(); got != 1 {
		t.Errorf("expected delete suppressed under ignore mode, got %d events", got)
	}
}
