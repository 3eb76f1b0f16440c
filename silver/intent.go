// Package silver transforms raw Bronze record tables into curated Silver
// outputs. A dataset declares its intent (entity kind, keys, timestamp
// columns, history mode) once at pipeline-definition time; the engine
// dispatches on that intent to produce append-only events, current-state
// snapshots, full bitemporal history, or diffed derived events.
package silver

import (
	"fmt"
	"strings"
)

// EntityKind selects the transformation pattern for a dataset.
type EntityKind string

const (
	// KindEvent is an append-only event stream.
	KindEvent EntityKind = "event"
	// KindState is an entity whose versions describe its current state.
	KindState EntityKind = "state"
	// KindDerivedState is state reconstructed from another dataset.
	KindDerivedState EntityKind = "derived_state"
	// KindDerivedEvent emits change events diffed from successive state
	// versions.
	KindDerivedEvent EntityKind = "derived_event"
)

// HistoryMode controls how much version history state datasets retain.
type HistoryMode string

const (
	HistorySCD2       HistoryMode = "scd2"
	HistorySCD1       HistoryMode = "scd1"
	HistoryLatestOnly HistoryMode = "latest_only"
)

// InputMode describes how the source delivers event data.
type InputMode string

const (
	InputAppendLog    InputMode = "append_log"
	InputReplaceDaily InputMode = "replace_daily"
)

// DeleteMode controls how source-side deletes surface in Silver.
type DeleteMode string

const (
	DeleteIgnore         DeleteMode = "ignore"
	DeleteTombstoneState DeleteMode = "tombstone_state"
	DeleteTombstoneEvent DeleteMode = "tombstone_event"
)

// SchemaMode controls how the engine reacts to unexpected raw columns.
type SchemaMode string

const (
	SchemaStrict  SchemaMode = "strict"
	SchemaLenient SchemaMode = "lenient"
)

// parseEnum normalizes raw against an alias table, case-insensitively.
// Empty input returns the default. The enums are pure configuration tags;
// no behavior lives on them.
func parseEnum[T ~string](raw string, aliases map[string]T, def T, what string) (T, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def, nil
	}
	if v, ok := aliases[s]; ok {
		return v, nil
	}
	return def, fmt.Errorf("unknown %s %q", what, raw)
}

// ParseEntityKind parses an entity kind with common aliases.
func ParseEntityKind(raw string) (EntityKind, error) {
	return parseEnum(raw, map[string]EntityKind{
		"event":         KindEvent,
		"events":        KindEvent,
		"fact":          KindEvent,
		"state":         KindState,
		"dimension":     KindState,
		"entity":        KindState,
		"derived_state": KindDerivedState,
		"derived-state": KindDerivedState,
		"derived_event": KindDerivedEvent,
		"derived-event": KindDerivedEvent,
		"cdc":           KindDerivedEvent,
	}, "", "entity kind")
}

// ParseHistoryMode parses a history mode, defaulting to scd2.
func ParseHistoryMode(raw string) (HistoryMode, error) {
	return parseEnum(raw, map[string]HistoryMode{
		"scd2":        HistorySCD2,
		"scd_2":       HistorySCD2,
		"history":     HistorySCD2,
		"scd1":        HistorySCD1,
		"scd_1":       HistorySCD1,
		"overwrite":   HistorySCD1,
		"latest_only": HistoryLatestOnly,
		"latest-only": HistoryLatestOnly,
		"latest":      HistoryLatestOnly,
		"current":     HistoryLatestOnly,
	}, HistorySCD2, "history mode")
}

// ParseInputMode parses an input mode, defaulting to append_log.
func ParseInputMode(raw string) (InputMode, error) {
	return parseEnum(raw, map[string]InputMode{
		"append_log":    InputAppendLog,
		"append-log":    InputAppendLog,
		"append":        InputAppendLog,
		"incremental":   InputAppendLog,
		"replace_daily": InputReplaceDaily,
		"replace-daily": InputReplaceDaily,
		"daily":         InputReplaceDaily,
		"full_daily":    InputReplaceDaily,
	}, InputAppendLog, "input mode")
}

// ParseDeleteMode parses a delete mode, defaulting to ignore.
func ParseDeleteMode(raw string) (DeleteMode, error) {
	return parseEnum(raw, map[string]DeleteMode{
		"ignore":          DeleteIgnore,
		"none":            DeleteIgnore,
		"tombstone_state": DeleteTombstoneState,
		"tombstone-state": DeleteTombstoneState,
		"tombstone_event": DeleteTombstoneEvent,
		"tombstone-event": DeleteTombstoneEvent,
	}, DeleteIgnore, "delete mode")
}

// ParseSchemaMode parses a schema mode, defaulting to lenient.
func ParseSchemaMode(raw string) (SchemaMode, error) {
	return parseEnum(raw, map[string]SchemaMode{
		"strict":  SchemaStrict,
		"lenient": SchemaLenient,
		"loose":   SchemaLenient,
	}, SchemaLenient, "schema mode")
}

// Intent is a dataset's declared Silver contract. Construct it once at
// pipeline-definition time and validate it there; invalid combinations are
// rejected at construction, not at transform time.
type Intent struct {
	Domain       string
	Entity       string
	SourceSystem string
	Owner        string

	EntityKind  EntityKind
	HistoryMode HistoryMode // state kinds only
	InputMode   InputMode   // event kind only
	DeleteMode  DeleteMode
	SchemaMode  SchemaMode

	NaturalKeys    []string
	EventTSColumn  string // governing timestamp for event kind
	ChangeTSColumn string // governing timestamp for state-like kinds
	Attributes     []string

	// SoftDeleteColumn names a boolean/flag column marking source deletes.
	// Required for the tombstone delete modes.
	SoftDeleteColumn string

	PartitionBy         []string
	RecordTimeColumn    string
	RecordTimePartition string

	RequireChecksum bool
}

// IsEventLike reports whether outputs are ordered by an event timestamp.
func (in *Intent) IsEventLike() bool {
	return in.EntityKind == KindEvent || in.EntityKind == KindDerivedEvent
}

// IsStateLike reports whether outputs carry effective-dated state.
func (in *Intent) IsStateLike() bool {
	return in.EntityKind == KindState || in.EntityKind == KindDerivedState
}

// GoverningTimeColumn returns the timestamp column that orders versions for
// this dataset: the event timestamp for the event kind, the change timestamp
// otherwise.
func (in *Intent) GoverningTimeColumn() string {
	if in.EntityKind == KindEvent {
		return in.EventTSColumn
	}
	return in.ChangeTSColumn
}

// Validate rejects incomplete or contradictory intents. Called once when
// the pipeline definition is loaded.
func (in *Intent) Validate() error {
	if in.Entity == "" {
		return fmt.Errorf("intent: entity name is required")
	}
	if len(in.NaturalKeys) == 0 {
		return fmt.Errorf("intent %s: natural_keys are required", in.Entity)
	}

	switch in.EntityKind {
	case KindEvent:
		if in.EventTSColumn == "" {
			return fmt.Errorf("intent %s: event_ts_column is required for event datasets", in.Entity)
		}
		if in.HistoryMode != "" {
			return fmt.Errorf("intent %s: history_mode is not valid for event datasets", in.Entity)
		}
		if in.DeleteMode != "" && in.DeleteMode != DeleteIgnore {
			return fmt.Errorf("intent %s: delete_mode %s is not valid for event datasets", in.Entity, in.DeleteMode)
		}
	case KindState, KindDerivedState:
		if in.ChangeTSColumn == "" {
			return fmt.Errorf("intent %s: change_ts_column is required for state datasets", in.Entity)
		}
		if in.InputMode != "" && in.InputMode != InputAppendLog {
			return fmt.Errorf("intent %s: input_mode %s is not valid for state datasets", in.Entity, in.InputMode)
		}
		if in.DeleteMode == DeleteTombstoneEvent {
			return fmt.Errorf("intent %s: delete_mode tombstone_event is not valid for state datasets", in.Entity)
		}
		if in.HistoryMode == "" {
			in.HistoryMode = HistorySCD2
		}
	case KindDerivedEvent:
		if in.ChangeTSColumn == "" {
			return fmt.Errorf("intent %s: change_ts_column is required for derived_event datasets", in.Entity)
		}
		if len(in.Attributes) == 0 {
			return fmt.Errorf("intent %s: attributes are required for derived_event datasets", in.Entity)
		}
		if in.HistoryMode != "" {
			return fmt.Errorf("intent %s: history_mode is not valid for derived_event datasets", in.Entity)
		}
		if in.DeleteMode == DeleteTombstoneState {
			return fmt.Errorf("intent %s: delete_mode tombstone_state is not valid for derived_event datasets", in.Entity)
		}
	default:
		return fmt.Errorf("intent %s: unknown entity kind %q", in.Entity, in.EntityKind)
	}

	if in.DeleteMode == "" {
		in.DeleteMode = DeleteIgnore
	}
	if in.SchemaMode == "" {
		in.SchemaMode = SchemaLenient
	}
	if (in.DeleteMode == DeleteTombstoneState || in.DeleteMode == DeleteTombstoneEvent) && in.SoftDeleteColumn == "" {
		return fmt.Errorf("intent %s: delete_mode %s requires soft_delete_column", in.Entity, in.DeleteMode)
	}
	if (in.RecordTimeColumn == "") != (in.RecordTimePartition == "") {
		return fmt.Errorf("intent %s: record_time_column and record_time_partition must be set together", in.Entity)
	}

	return nil
}
