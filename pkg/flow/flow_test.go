package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/model"
)

// fakeConnector feeds a fixed slice of events one at a time, then blocks
// (simulating an idle source) until the test cancels the context.
type fakeConnector struct {
	mu        sync.Mutex
	events    []*model.ChangeEvent
	next      int
	connected bool
}

func (c *fakeConnector) Connect(context.Context) error {
	c.connected = true
	return nil
}
func (c *fakeConnector) Disconnect(context.Context) error {
	c.connected = false
	return nil
}
func (c *fakeConnector) IsConnected() bool { return c.connected }

func (c *fakeConnector) Receive(ctx context.Context) (*model.ChangeEvent, error) {
	c.mu.Lock()
	if c.next < len(c.events) {
		ev := c.events[c.next]
		c.next++
		c.mu.Unlock()
		return ev, nil
	}
	c.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConnector) Status() model.ConnectorStatus { return model.ConnectorStatus{} }

// fakeDestination records every batch it receives, optionally failing the
// first N calls to exercise the circuit breaker and retry paths.
type fakeDestination struct {
	mu         sync.Mutex
	batches    [][]*model.ChangeEvent
	connected  bool
	failTimes  int
	calls      int
	failAlways bool
}

func (d *fakeDestination) Connect(context.Context) error {
	d.connected = true
	return nil
}
func (d *fakeDestination) Disconnect(context.Context) error {
	d.connected = false
	return nil
}
func (d *fakeDestination) IsConnected() bool { return d.connected }

func (d *fakeDestination) Write(ctx context.Context, ev *model.ChangeEvent) error {
	return d.WriteBatch(ctx, []*model.ChangeEvent{ev})
}

func (d *fakeDestination) WriteBatch(ctx context.Context, batch []*model.ChangeEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failAlways || d.calls <= d.failTimes {
		return fmt.Errorf("fakeDestination: injected failure %d", d.calls)
	}
	cp := append([]*model.ChangeEvent(nil), batch...)
	d.batches = append(d.batches, cp)
	return nil
}

func (d *fakeDestination) Status() model.DestinationStatus { return model.DestinationStatus{} }

func (d *fakeDestination) writtenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		n += len(b)
	}
	return n
}

func newTestEvent(id, schema string) *model.ChangeEvent {
	ev := model.NewChangeEvent(id, time.Now(), model.TableMetadata{Schema: schema, Name: "widgets"}, model.OpInsert)
	ev.SetData([]string{"id", "name"}, map[string]any{"id": id, "name": "thing"})
	return ev
}

func descriptor(name string, destNames ...string) model.FlowDescriptor {
	refs := make([]model.DestinationRef, 0, len(destNames))
	for _, n := range destNames {
		refs = append(refs, model.DestinationRef{Name: n})
	}
	return model.FlowDescriptor{
		Name:           name,
		Destinations:   refs,
		BatchSize:      2,
		ErrorThreshold: 3,
		FlushInterval:  50 * time.Millisecond,
	}
}

func TestFlow_DeliversBatchedEventsInOrder(t *testing.T) {
	conn := &fakeConnector{events: []*model.ChangeEvent{
		newTestEvent("1", "public"),
		newTestEvent("2", "public"),
		newTestEvent("3", "public"),
	}}
	dest := &fakeDestination{}

	f, err := New(Config{
		Descriptor:   descriptor("t1", "d1"),
		Connector:    conn,
		Destinations: map[string]model.Destination{"d1": dest},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go f.Run(ctx)

	require.Eventually(t, func() bool {
		return dest.writtenCount() >= 3
	}, time.Second, 10*time.Millisecond)

	f.Control() <- model.CmdStop
	<-f.Done()

	assert.Equal(t, model.FlowStopped, f.Status())
	assert.EqualValues(t, 3, f.MessageCount())
	assert.EqualValues(t, 3, f.Metrics().RecordsProcessed)
}

func TestFlow_SchemaFilterExcludesNonMatchingDestination(t *testing.T) {
	conn := &fakeConnector{events: []*model.ChangeEvent{
		newTestEvent("1", "tenant_a"),
		newTestEvent("2", "tenant_b"),
	}}
	destA := &fakeDestination{}
	destB := &fakeDestination{}

	desc := descriptor("t2", "a", "b")
	desc.Destinations[0].SchemaFilter = map[string]struct{}{"tenant_a": {}}
	desc.Destinations[1].SchemaFilter = map[string]struct{}{"tenant_b": {}}

	f, err := New(Config{
		Descriptor:   desc,
		Connector:    conn,
		Destinations: map[string]model.Destination{"a": destA, "b": destB},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go f.Run(ctx)

	require.Eventually(t, func() bool {
		return destA.writtenCount() == 1 && destB.writtenCount() == 1
	}, time.Second, 10*time.Millisecond)

	f.Control() <- model.CmdStop
	<-f.Done()
}

func TestFlow_CircuitBreakerTripsAfterErrorThreshold(t *testing.T) {
	conn := &fakeConnector{events: []*model.ChangeEvent{
		newTestEvent("1", ""),
		newTestEvent("2", ""),
	}}
	dest := &fakeDestination{failAlways: true}

	desc := descriptor("t3", "d1")
	desc.ErrorThreshold = 2
	desc.BatchSize = 1

	f, err := New(Config{
		Descriptor:   desc,
		Connector:    conn,
		Destinations: map[string]model.Destination{"d1": dest},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go f.Run(ctx)

	<-f.Done()
	assert.Equal(t, model.FlowFailed, f.Status())
	assert.NotEmpty(t, f.LastError())
}

func TestFlow_PauseBlocksDeliveryUntilResume(t *testing.T) {
	conn := &fakeConnector{events: []*model.ChangeEvent{newTestEvent("1", "")}}
	dest := &fakeDestination{}

	// Pre-load Pause into the buffered control channel before the loop ever
	// starts, so the very first command poll consumes it deterministically
	// instead of racing the connector's first receive.
	control := NewControlChannel()
	control <- model.CmdPause

	f, err := New(Config{
		Descriptor:   descriptor("t4", "d1"),
		Connector:    conn,
		Destinations: map[string]model.Destination{"d1": dest},
		Control:      control,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go f.Run(ctx)

	require.Eventually(t, func() bool { return f.Status() == model.FlowPaused }, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, dest.writtenCount(), "no delivery should happen while paused")

	f.Control() <- model.CmdResume
	require.Eventually(t, func() bool { return dest.writtenCount() == 1 }, time.Second, 10*time.Millisecond)

	f.Control() <- model.CmdStop
	<-f.Done()
}
