// Package events carries the wire-level representation a connector produces
// before it is normalized into a model.ChangeEvent, and the helpers that do
// that normalization for the two dialects a flow can receive: a flat
// "action/schema/collection/data" envelope and a Debezium-style change
// envelope with before/after/source blocks.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pquerna/ffjson/ffjson"

	"github.com/cdcsink/cdcsink/pkg/model"
)

// The action name for sync.
const (
	UpdateAction = "update"
	InsertAction = "insert"
	DeleteAction = "delete"
	ReadAction   = "read"
)

// RecordEvent is the raw, wire-shaped event a connector hands to the rest of
// the pipeline. Data (and OldData, when the source reports a before-image)
// stay raw JSON until ToChangeEvent decodes Data into the event's field map.
type RecordEvent struct {
	Action     string
	Schema     string
	Collection string

	Data    []byte // json: the after-image (or the whole row for insert/read)
	OldData []byte // json: the before-image, set on update/delete when known

	// DocumentKey identifies the row when Data/OldData don't carry a stable
	// primary key column on their own (e.g. Mongo's _id).
	DocumentKey []byte

	Metadata map[string]string
}

// RecordKey is the shape ffjson.Unmarshal'd out of OldData/DocumentKey by a
// destination that only needs the identifying column, not the full row.
type RecordKey struct {
	ID any `json:"id"`
}

// ToChangeEvent normalizes a RecordEvent into the canonical model.ChangeEvent,
// decoding Data into an ordered field map. Unknown Action values fall back to
// model.ParseOperation's default (snapshot).
func (r RecordEvent) ToChangeEvent(id string, ts time.Time) (*model.ChangeEvent, error) {
	fields := make(map[string]any)
	if len(r.Data) > 0 {
		if err := ffjson.Unmarshal(r.Data, &fields); err != nil {
			return nil, fmt.Errorf("events: decode data: %w", err)
		}
	}
	if r.DocumentKey != nil {
		var key RecordKey
		if err := ffjson.Unmarshal(r.DocumentKey, &key); err == nil && key.ID != nil {
			if _, ok := fields["id"]; !ok {
				fields["id"] = key.ID
			}
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	ev := model.NewChangeEvent(id, ts, model.TableMetadata{
		Schema: r.Schema,
		Name:   r.Collection,
	}, model.ParseOperation(r.Action))
	ev.SetData(keys, fields)

	if ok, reason := ev.Valid(); !ok {
		return nil, fmt.Errorf("events: invalid change event: %s", reason)
	}
	return ev, nil
}

// debeziumPayload is the nested change block of a Debezium envelope:
// before/after row images, the source block naming the schema/table, and
// the operation code.
type debeziumPayload struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
	Source struct {
		Schema string `json:"db"`
		Table  string `json:"table"`
		TsMs   int64  `json:"ts_ms"`
	} `json:"source"`
	Op   string `json:"op"`
	TsMs int64  `json:"ts_ms"`
}

// debeziumEnvelope is the subset of a Debezium change-event message this
// sink understands: a schema block (ignored) wrapping the actual change in
// payload.
type debeziumEnvelope struct {
	Schema  json.RawMessage `json:"schema"`
	Payload debeziumPayload `json:"payload"`
}

// ParseDebezium decodes a Debezium-envelope payload into a RecordEvent. It
// uses encoding/json rather than ffjson: the envelope's nested struct shape
// is outside ffjson's generated fast paths, which only cover RecordEvent's
// own flat fields.
func ParseDebezium(payload []byte) (RecordEvent, error) {
	var env debeziumEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return RecordEvent{}, fmt.Errorf("events: decode debezium envelope: %w", err)
	}
	p := env.Payload

	action := InsertAction
	switch p.Op {
	case "c", "r":
		action = InsertAction
	case "u":
		action = UpdateAction
	case "d":
		action = DeleteAction
	}

	row := p.After
	if p.Op == "d" {
		row = p.Before
	}
	data, err := json.Marshal(row)
	if err != nil {
		return RecordEvent{}, fmt.Errorf("events: re-encode row image: %w", err)
	}

	var oldData []byte
	if p.Before != nil {
		if oldData, err = json.Marshal(p.Before); err != nil {
			return RecordEvent{}, fmt.Errorf("events: re-encode before image: %w", err)
		}
	}

	return RecordEvent{
		Action:     action,
		Schema:     p.Source.Schema,
		Collection: p.Source.Table,
		Data:       data,
		OldData:    oldData,
	}, nil
}

// IsDebeziumEnvelope sniffs whether payload looks like a Debezium change
// event (a payload object carrying a "source" object and an "op" code)
// rather than the flat action/schema/collection/data dialect. Connectors
// use this to pick a parser per message without requiring static
// per-topic configuration.
func IsDebeziumEnvelope(payload []byte) bool {
	var probe struct {
		Payload struct {
			Source json.RawMessage `json:"source"`
			Op     string          `json:"op"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return len(probe.Payload.Source) > 0 && probe.Payload.Op != ""
}
