package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/flow"
	"github.com/cdcsink/cdcsink/pkg/model"
)

type idleConnector struct{ mu sync.Mutex }

func (c *idleConnector) Connect(context.Context) error    { return nil }
func (c *idleConnector) Disconnect(context.Context) error { return nil }
func (c *idleConnector) IsConnected() bool                { return true }
func (c *idleConnector) Receive(ctx context.Context) (*model.ChangeEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (c *idleConnector) Status() model.ConnectorStatus { return model.ConnectorStatus{} }

type noopDestination struct{}

func (noopDestination) Connect(context.Context) error                             { return nil }
func (noopDestination) Disconnect(context.Context) error                          { return nil }
func (noopDestination) IsConnected() bool                                         { return true }
func (noopDestination) Write(context.Context, *model.ChangeEvent) error           { return nil }
func (noopDestination) WriteBatch(context.Context, []*model.ChangeEvent) error    { return nil }
func (noopDestination) Status() model.DestinationStatus                          { return model.DestinationStatus{} }

func newTestFlow(t *testing.T, name string) *flow.Flow {
	t.Helper()
	f, err := flow.New(flow.Config{
		Descriptor: model.FlowDescriptor{
			Name:         name,
			Destinations: []model.DestinationRef{{Name: "d"}},
			BatchSize:    10,
		},
		Connector:    &idleConnector{},
		Destinations: map[string]model.Destination{"d": noopDestination{}},
	})
	require.NoError(t, err)
	return f
}

func TestOrchestrator_AddFlowRejectsDuplicateName(t *testing.T) {
	o := New()
	require.NoError(t, o.AddFlow(newTestFlow(t, "dup")))
	err := o.AddFlow(newTestFlow(t, "dup"))
	assert.Error(t, err)

	require.NoError(t, o.StopFlow("dup"))
	require.Eventually(t, func() bool {
		status, _ := o.GetFlowStatus("dup")
		return status == model.FlowStopped
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_StopFlowFlipsStatusImmediately(t *testing.T) {
	o := New()
	require.NoError(t, o.AddFlow(newTestFlow(t, "f1")))

	require.Eventually(t, func() bool {
		status, _ := o.GetFlowStatus("f1")
		return status == model.FlowRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.StopFlow("f1"))
	status, err := o.GetFlowStatus("f1")
	require.NoError(t, err)
	assert.Equal(t, model.FlowStopped, status, "status override must be visible before the task finishes winding down")
}

func TestOrchestrator_ListRemoveAndWaitAll(t *testing.T) {
	o := New()
	require.NoError(t, o.AddFlow(newTestFlow(t, "a")))
	require.NoError(t, o.AddFlow(newTestFlow(t, "b")))

	assert.ElementsMatch(t, []string{"a", "b"}, o.ListFlows())

	require.NoError(t, o.StopFlow("a"))
	require.NoError(t, o.StopFlow("b"))
	require.NoError(t, o.RemoveFlow("a"))
	require.NoError(t, o.RemoveFlow("b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, o.WaitAll(ctx))
}

func TestOrchestrator_UnknownFlowOperationsError(t *testing.T) {
	o := New()
	_, err := o.GetFlowStatus("missing")
	assert.Error(t, err)
	assert.Error(t, o.StopFlow("missing"))
	assert.Error(t, o.RemoveFlow("missing"))
}

func TestOrchestrator_ShutdownStopsAllFlows(t *testing.T) {
	o := New()
	require.NoError(t, o.AddFlow(newTestFlow(t, "s1")))
	require.NoError(t, o.AddFlow(newTestFlow(t, "s2")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o.Shutdown(ctx)
}
