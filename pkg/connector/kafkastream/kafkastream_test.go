package kafkastream

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func TestDecodeFlat_ExtractsInnerDataOnly(t *testing.T) {
	s := &Stream{cfg: config.SourceConfig{Database: "public"}}
	h := &claimHandler{stream: s}

	msg := &sarama.ConsumerMessage{
		Topic: "orders-topic",
		Value: []byte(`{"action":"insert","schema":"public","collection":"orders","data":{"id":1,"qty":3}}`),
	}

	rec := h.decodeFlat(msg)

	assert.Equal(t, "insert", rec.Action)
	assert.Equal(t, "public", rec.Schema)
	assert.Equal(t, "orders", rec.Collection)
	assert.JSONEq(t, `{"id":1,"qty":3}`, string(rec.Data))
}

func TestDecodeFlat_DefaultsWhenFieldsMissing(t *testing.T) {
	s := &Stream{cfg: config.SourceConfig{Database: "fallback_db"}}
	h := &claimHandler{stream: s}

	msg := &sarama.ConsumerMessage{
		Topic: "bare-topic",
		Value: []byte(`{"data":{"id":7}}`),
	}

	rec := h.decodeFlat(msg)

	assert.Equal(t, "insert", rec.Action)
	assert.Equal(t, "fallback_db", rec.Schema)
	assert.Equal(t, "bare-topic", rec.Collection)
	assert.JSONEq(t, `{"id":7}`, string(rec.Data))
}

// TestClaimHandlerProcess_FlatDialectProducesCleanColumns guards against the
// regression where decodeFlat re-marshaled the whole top-level message
// (including action/schema/collection) into Data instead of just the inner
// "data" object, which would have corrupted schema reconciliation with
// spurious administrative columns.
func TestClaimHandlerProcess_FlatDialectProducesCleanColumns(t *testing.T) {
	s := &Stream{cfg: config.SourceConfig{Database: "public"}, out: make(chan *model.ChangeEvent, 1)}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	h := &claimHandler{stream: s}
	msg := &sarama.ConsumerMessage{
		Topic:     "orders-topic",
		Partition: 0,
		Offset:    42,
		Value:     []byte(`{"action":"insert","schema":"public","collection":"orders","data":{"id":"a1","qty":5}}`),
	}

	err := h.process(msg)
	require.NoError(t, err)

	select {
	case ev := <-s.out:
		assert.Equal(t, "orders", ev.Table.Name)
		assert.Equal(t, "public", ev.Table.Schema)
		assert.Equal(t, float64(5), ev.Data["qty"])
		_, hasAction := ev.Data["action"]
		_, hasSchema := ev.Data["schema"]
		_, hasCollection := ev.Data["collection"]
		assert.False(t, hasAction)
		assert.False(t, hasSchema)
		assert.False(t, hasCollection)
	default:
		t.Fatal("expected an event on the out channel")
	}
}

func TestClaimHandlerProcess_DebeziumEnvelope(t *testing.T) {
	s := &Stream{cfg: config.SourceConfig{Database: "public"}, out: make(chan *model.ChangeEvent, 1)}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	h := &claimHandler{stream: s}
	msg := &sarama.ConsumerMessage{
		Topic: "orders.debezium",
		Value: []byte(`{
			"schema": {"type": "struct"},
			"payload": {
				"before": null,
				"after": {"id": 1, "qty": 3},
				"source": {"db": "public", "table": "orders"},
				"op": "c"
			}
		}`),
	}

	err := h.process(msg)
	require.NoError(t, err)

	select {
	case ev := <-s.out:
		assert.Equal(t, model.OpInsert, ev.Operation)
		assert.Equal(t, "orders", ev.Table.Name)
		assert.Equal(t, float64(3), ev.Data["qty"])
	default:
		t.Fatal("expected an event on the out channel")
	}
}
