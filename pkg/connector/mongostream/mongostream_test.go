package mongostream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func newTestStreamForChanges(t *testing.T) *Stream {
	t.Helper()
	s := &Stream{
		cfg: config.SourceConfig{Database: "public"},
		out: make(chan *model.ChangeEvent, 4),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.cancel)
	return s
}

func TestHandle_InsertEvent(t *testing.T) {
	s := newTestStreamForChanges(t)

	raw := bson.M{
		"operationType": "insert",
		"fullDocument":  bson.M{"id": "x1", "qty": int32(2)},
		"ns":            bson.M{"coll": "orders"},
	}

	err := s.handle(raw)
	require.NoError(t, err)

	ev := <-s.out
	assert.Equal(t, model.OpInsert, ev.Operation)
	assert.Equal(t, "orders", ev.Table.Name)
	assert.Equal(t, "public", ev.Table.Schema)
}

func TestHandle_DeleteUsesDocumentKeyAsPrimaryKey(t *testing.T) {
	s := newTestStreamForChanges(t)

	raw := bson.M{
		"operationType": "delete",
		"documentKey":   bson.M{"id": "x1"},
		"ns":            bson.M{"coll": "orders"},
	}

	err := s.handle(raw)
	require.NoError(t, err)

	ev := <-s.out
	assert.Equal(t, model.OpDelete, ev.Operation)
	pk, ok := ev.PrimaryKeyValue()
	assert.True(t, ok)
	assert.Equal(t, "x1", pk)
}

func TestHandle_UnknownOperationTypeDefaultsToSnapshot(t *testing.T) {
	s := newTestStreamForChanges(t)

	raw := bson.M{
		"operationType": "invalidate",
		"fullDocument":  bson.M{"id": "x1"},
		"ns":            bson.M{"coll": "orders"},
	}

	err := s.handle(raw)
	require.NoError(t, err)

	ev := <-s.out
	assert.Equal(t, model.OpSnapshot, ev.Operation)
}
