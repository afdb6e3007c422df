package postgresstream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func TestTupleToJSON_NilTupleProducesEmptyObject(t *testing.T) {
	data, err := tupleToJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestTupleToJSON_NullAndTextColumns(t *testing.T) {
	tuple := &pglogrepl.TupleData{
		Columns: []*pglogrepl.TupleDataColumn{
			{DataType: pglogrepl.TupleDataTypeNull},
			{Data: []byte("5")},
		},
	}

	data, err := tupleToJSON(tuple)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["col_0"])
	assert.Equal(t, "5", decoded["col_1"])
}

func newTestStreamForReplication(t *testing.T) *Stream {
	t.Helper()
	s := &Stream{
		cfg: config.SourceConfig{Database: "public"},
		out: make(chan *model.ChangeEvent, 4),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.cancel)
	return s
}

func TestEmit_InsertProducesNamedRelationTable(t *testing.T) {
	s := newTestStreamForReplication(t)

	tuple := &pglogrepl.TupleData{
		Columns: []*pglogrepl.TupleDataColumn{
			{Data: []byte("1")},
		},
	}

	err := s.emit("insert", 42, tuple, nil)
	require.NoError(t, err)

	ev := <-s.out
	assert.Equal(t, model.OpInsert, ev.Operation)
	assert.Equal(t, "relation_42", ev.Table.Name)
	assert.Equal(t, "public", ev.Table.Schema)
}

func TestEmit_DeleteWithOldTuple(t *testing.T) {
	s := newTestStreamForReplication(t)

	oldTuple := &pglogrepl.TupleData{
		Columns: []*pglogrepl.TupleDataColumn{
			{Data: []byte("1")},
		},
	}

	// A delete without a conventional "id" column has no usable primary
	// key, so ToChangeEvent's Valid check rejects it: emit surfaces a
	// non-fatal error for the caller to log and continue past rather than
	// forwarding an unkeyed delete.
	err := s.emit("delete", 7, oldTuple, nil)
	assert.Error(t, err)
}
