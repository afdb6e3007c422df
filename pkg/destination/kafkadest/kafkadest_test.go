package kafkadest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/config"
)

func TestNew_RejectsWrongTargetType(t *testing.T) {
	_, err := New(config.TargetConfig{Type: config.TargetTypeMongoDB, Topic: "orders"})
	assert.Error(t, err)
}

func TestNew_RequiresTopic(t *testing.T) {
	_, err := New(config.TargetConfig{Type: config.TargetTypeKafka})
	assert.Error(t, err)
}

func TestNew_ValidConfigSucceeds(t *testing.T) {
	dest, err := New(config.TargetConfig{Type: config.TargetTypeKafka, Topic: "orders"})
	require.NoError(t, err)
	s := dest.(*Sink)
	assert.Equal(t, "orders", s.topic)
	assert.False(t, s.IsConnected())
}

func TestRecordFailure_TracksErrorsAndStatus(t *testing.T) {
	s := &Sink{topic: "orders"}
	s.recordFailure(errors.New("boom"))

	status := s.Status()
	assert.Equal(t, int64(1), status.Errors)
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "boom", status.LastError)
	assert.False(t, status.Connected)
}
