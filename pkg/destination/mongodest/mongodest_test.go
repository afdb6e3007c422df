package mongodest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func TestNew_RejectsWrongTargetType(t *testing.T) {
	_, err := New(config.TargetConfig{Type: config.TargetTypeKafka})
	assert.Error(t, err)
}

func TestNew_ValidConfigSucceeds(t *testing.T) {
	dest, err := New(config.TargetConfig{Type: config.TargetTypeMongoDB, Database: "salesdb"})
	require.NoError(t, err)
	s := dest.(*Sink)
	assert.Equal(t, "salesdb", s.cfg.Database)
	assert.False(t, s.IsConnected())
}

func TestWriteBatch_EmptyBatchIsNoop(t *testing.T) {
	s := &Sink{}
	err := s.WriteBatch(nil, nil)
	assert.NoError(t, err)
}

func TestRecordFailure_TracksErrorsAndStatus(t *testing.T) {
	s := &Sink{}
	s.recordFailure(errors.New("boom"))

	status := s.Status()
	assert.Equal(t, int64(1), status.Errors)
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "boom", status.LastError)
}

// TestChangeEvent_DeleteWithoutPrimaryKeyIsDetectable documents the
// invariant applyOne relies on to decide whether a delete can be applied at
// all: without PrimaryKeyValue, applyOne logs and skips rather than issuing
// an unfiltered DeleteOne.
func TestChangeEvent_DeleteWithoutPrimaryKeyIsDetectable(t *testing.T) {
	ev := model.NewChangeEvent("ev1", time.Now(), model.TableMetadata{Name: "orders"}, model.OpDelete)
	ev.SetData([]string{"qty"}, map[string]any{"qty": 3})

	_, ok := ev.PrimaryKeyValue()
	assert.False(t, ok)
}
