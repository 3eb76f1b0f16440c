package silver

import "testing"

func TestParseEntityKind(t *testing.T) {
	tests := []struct {
		raw     string
		want    EntityKind
		wantErr bool
	}{
		{"event", KindEvent, false},
		{"Events", KindEvent, false},
		{"STATE", KindState, false},
		{"dimension", KindState, false},
		{"derived_state", KindDerivedState, false},
		{"derived-event", KindDerivedEvent, false},
		{"cdc", KindDerivedEvent, false},
		{"widget", "", true},
		{"", "", false}, // empty falls back to the (empty) default
	}
	for _, tt := range tests {
		got, err := ParseEntityKind(tt.raw)
		if tt.wantErr != (err != nil) {
			t.Errorf("ParseEntityKind(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseEntityKind(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseHistoryModeAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want HistoryMode
	}{
		{"scd2", HistorySCD2},
		{"SCD_2", HistorySCD2},
		{"overwrite", HistorySCD1},
		{"latest-only", HistoryLatestOnly},
		{"current", HistoryLatestOnly},
		{"", HistorySCD2},
	}
	for _, tt := range tests {
		got, err := ParseHistoryMode(tt.raw)
		if err != nil {
			t.Errorf("ParseHistoryMode(%q) failed: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHistoryMode(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func validStateIntent() *Intent {
	return &Intent{
		Domain:         "sales",
		Entity:         "customer",
		SourceSystem:   "crm",
		EntityKind:     KindState,
		HistoryMode:    HistorySCD2,
		NaturalKeys:    []string{"customer_id"},
		ChangeTSColumn: "updated_at",
		Attributes:     []string{"name", "tier"},
	}
}

func TestIntentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Intent)
		wantErr bool
	}{
		{"valid state intent", func(in *Intent) {}, false},
		{"missing natural keys", func(in *Intent) { in.NaturalKeys = nil }, true},
		{"missing entity", func(in *Intent) { in.Entity = "" }, true},
		{"missing change ts", func(in *Intent) { in.ChangeTSColumn = "" }, true},
		{"tombstone_event on state", func(in *Intent) { in.DeleteMode = DeleteTombstoneEvent }, true},
		{"tombstone_state without delete column", func(in *Intent) { in.DeleteMode = DeleteTombstoneState }, true},
		{"tombstone_state with delete column", func(in *Intent) {
			in.DeleteMode = DeleteTombstoneState
			in.SoftDeleteColumn = "is_deleted"
		}, false},
		{"record time pair half-set", func(in *Intent) { in.RecordTimeColumn = "loaded_at" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validStateIntent()
			tt.mutate(in)
			err := in.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntentValidateEventKind(t *testing.T) {
	in := &Intent{
		Entity:        "page_view",
		EntityKind:    KindEvent,
		NaturalKeys:   []string{"view_id"},
		EventTSColumn: "event_ts",
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	// history_mode is a state concern; on an event dataset it is rejected
	// at construction.
	in.HistoryMode = HistorySCD2
	if err := in.Validate(); err == nil {
		t.Error("expected history_mode on event kind to be rejected")
	}
}

func TestIntentValidateDefaults(t *testing.T) {
	in := validStateIntent()
	in.HistoryMode = ""
	in.DeleteMode = ""
	in.SchemaMode = ""
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if in.HistoryMode != HistorySCD2 {
		t.Errorf("expected scd2 default for state kind, got %s", in.HistoryMode)
	}
	if in.DeleteMode != DeleteIgnore {
		t.Errorf("expected ignore default, got %s", in.DeleteMode)
	}
	if in.SchemaMode != SchemaLenient {
		t.Errorf("expected lenient default, got %s", in.SchemaMode)
	}
}

func TestIntentValidateDerivedEvent(t *testing.T) {
	in := &Intent{
		Entity:         "customer_changes",
		EntityKind:     KindDerivedEvent,
		NaturalKeys:    []string{"customer_id"},
		ChangeTSColumn: "updated_at",
		Attributes:     []string{"tier"},
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	in.Attributes = nil
	if err := in.Validate(); err == nil {
		t.Error("expected derived_event without attributes to be rejected")
	}
}
