// Package model holds the canonical, source-agnostic representation of a
// row-level change event and the small set of value types that travel with
// it through a flow. Everything here is pure data: no I/O, no third-party
// dependency, so that connectors, transforms and destinations can all agree
// on one shape regardless of which wire dialect produced it.
package model

import "time"

// Operation is the closed set of row-level change kinds a flow can carry.
type Operation string

const (
	OpInsert   Operation = "insert"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpRead     Operation = "read"
	OpSnapshot Operation = "snapshot"
)

// ParseOperation maps a source-specific operation code to an Operation.
// Unknown codes default to OpSnapshot, matching the documented default in
// spec §4.A.
func ParseOperation(code string) Operation {
	switch code {
	case "c", "insert", "Insert", "INSERT":
		return OpInsert
	case "u", "update", "Update", "UPDATE":
		return OpUpdate
	case "d", "delete", "Delete", "DELETE":
		return OpDelete
	case "r", "read", "Read", "READ":
		return OpRead
	case "snapshot", "Snapshot", "SNAPSHOT":
		return OpSnapshot
	default:
		return OpSnapshot
	}
}

// IsInsertLike reports whether the operation should be handled as an insert
// by a sink: Read and Snapshot are semantically equivalent to Insert.
func (o Operation) IsInsertLike() bool {
	return o == OpInsert || o == OpRead || o == OpSnapshot
}

// Column describes one column of a table as carried by source metadata. Any
// field may be zero-valued when the source does not report it.
type Column struct {
	Name         string
	DeclaredType string
	Nullable     bool
	PrimaryKey   bool
}

// TableMetadata is the (possibly partial, possibly empty) schema information
// attached to a change event. A sink must tolerate either.
type TableMetadata struct {
	Schema  string
	Name    string
	Columns []Column
}

// ColumnByName returns the declared column metadata for name, case-sensitive,
// and whether it was found.
func (t TableMetadata) ColumnByName(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ChangeEvent is the unit of work flowing from a Connector to a Destination.
type ChangeEvent struct {
	ID        string
	Timestamp time.Time
	Table     TableMetadata
	// Data is an ordered mapping from column name to a dynamic scalar value
	// (nil | bool | int64 | float64 | string | map/slice | []byte). Keys
	// preserves insertion order so DDL/DML synthesis is deterministic.
	Data map[string]any
	Keys []string
	Operation Operation
}

// NewChangeEvent builds a ChangeEvent with empty Data and no Keys. Callers
// that care about deterministic column ordering, e.g. parsers, set both via
// SetData; otherwise OrderedKeys falls back to Go's unordered map iteration.
func NewChangeEvent(id string, ts time.Time, table TableMetadata, op Operation) *ChangeEvent {
	return &ChangeEvent{
		ID:        id,
		Timestamp: ts,
		Table:     table,
		Data:      make(map[string]any),
		Operation: op,
	}
}

// SetData replaces Data and Keys together so column order survives.
func (e *ChangeEvent) SetData(keys []string, data map[string]any) {
	e.Keys = keys
	e.Data = data
}

// OrderedKeys returns Keys if set, otherwise an arbitrary order derived from
// Data (used as a fallback for events built without SetData).
func (e *ChangeEvent) OrderedKeys() []string {
	if len(e.Keys) > 0 {
		return e.Keys
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	return keys
}

// PrimaryKeyValue returns the value of the conventional lower-cased "id"
// column, case-insensitively, and whether it was present. Used by Delete
// handling and by the relational sink's delete path.
func (e *ChangeEvent) PrimaryKeyValue() (any, bool) {
	if v, ok := e.Data["id"]; ok {
		return v, true
	}
	for k, v := range e.Data {
		if len(k) == 2 && (k[0] == 'i' || k[0] == 'I') && (k[1] == 'd' || k[1] == 'D') {
			return v, true
		}
	}
	return nil, false
}

// Valid checks the invariants from spec §3: a Delete must carry a usable
// primary key; non-Delete events must carry non-empty Data.
func (e *ChangeEvent) Valid() (bool, string) {
	if e.Operation == OpDelete {
		if _, ok := e.PrimaryKeyValue(); !ok {
			return false, "delete event missing primary key column"
		}
		return true, ""
	}
	if len(e.Data) == 0 {
		return false, "non-delete event has empty data"
	}
	return true, ""
}
