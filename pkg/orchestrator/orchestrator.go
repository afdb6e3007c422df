// Package orchestrator holds the single source of truth for which flows are
// running: a mutex-guarded name -> handle map, generalizing the teacher's
// replicator.StreamManager (itself a mutex-guarded map of named streams)
// into the spec's add/stop/remove/list/status/metrics operations driven by
// pkg/flow rather than pkg/streams.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/flow"
	"github.com/cdcsink/cdcsink/pkg/model"
)

// handle is the orchestrator's private bookkeeping for one running flow.
// override lets stop_flow flip the control-plane-visible status to Stopped
// immediately, even though the flow's own task may still be winding down a
// final flush (spec §4.G).
type handle struct {
	f      *flow.Flow
	cancel context.CancelFunc

	mu       sync.Mutex
	override *model.FlowStatus
}

// Orchestrator holds the map of live flows. All operations acquire its lock
// only for pointer-sized reads/writes, never across a suspension point
// touching a connector or destination (spec §5 "Locking discipline").
type Orchestrator struct {
	mu    sync.Mutex
	flows map[string]*handle
}

// New returns an empty Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{flows: make(map[string]*handle)}
}

// AddFlow rejects a duplicate name, installs the handle, and spawns the
// flow's Run loop on its own goroutine.
func (o *Orchestrator) AddFlow(f *flow.Flow) error {
	o.mu.Lock()
	if _, exists := o.flows[f.Name()]; exists {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: flow %q already exists", f.Name())
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.flows[f.Name()] = &handle{f: f, cancel: cancel}
	o.mu.Unlock()

	go f.Run(ctx)
	return nil
}

func (o *Orchestrator) get(name string) (*handle, error) {
	o.mu.Lock()
	h, ok := o.flows[name]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("orchestrator: flow %q not found", name)
	}
	return h, nil
}

// StopFlow sends Stop on the flow's control channel and immediately flips
// the control-plane-visible status to Stopped; the background task may
// still be completing a best-effort final flush and disconnect.
func (o *Orchestrator) StopFlow(name string) error {
	h, err := o.get(name)
	if err != nil {
		return err
	}
	stopped := model.FlowStopped
	h.mu.Lock()
	h.override = &stopped
	h.mu.Unlock()

	h.f.Control() <- model.CmdStop
	return nil
}

// PauseFlow and ResumeFlow send the corresponding lifecycle command; the
// flow's own state machine (not an override) reflects the resulting status,
// since pausing has no "still winding down" ambiguity to paper over.
func (o *Orchestrator) PauseFlow(name string) error {
	h, err := o.get(name)
	if err != nil {
		return err
	}
	h.f.Control() <- model.CmdPause
	return nil
}

func (o *Orchestrator) ResumeFlow(name string) error {
	h, err := o.get(name)
	if err != nil {
		return err
	}
	h.f.Control() <- model.CmdResume
	return nil
}

// RemoveFlow drops the handle. The task is expected to have already exited;
// callers performing a restart should stop, sleep briefly, remove, then add
// (spec §4.G).
func (o *Orchestrator) RemoveFlow(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.flows[name]; !ok {
		return fmt.Errorf("orchestrator: flow %q not found", name)
	}
	delete(o.flows, name)
	return nil
}

// ListFlows returns every currently-registered flow name.
func (o *Orchestrator) ListFlows() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.flows))
	for name := range o.flows {
		names = append(names, name)
	}
	return names
}

// GetFlowStatus returns the control-plane-visible status: a pending
// StopFlow's override if present, otherwise the flow's own status.
func (o *Orchestrator) GetFlowStatus(name string) (model.FlowStatus, error) {
	h, err := o.get(name)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	override := h.override
	h.mu.Unlock()
	if override != nil {
		return *override, nil
	}
	return h.f.Status(), nil
}

// GetFlowMetrics returns a snapshot of the flow's uptime and throughput
// counters.
func (o *Orchestrator) GetFlowMetrics(name string) (flow.Metrics, error) {
	h, err := o.get(name)
	if err != nil {
		return flow.Metrics{}, err
	}
	return h.f.Metrics(), nil
}

// GetFlowMessageCount returns the number of records the flow has pulled
// from its connector.
func (o *Orchestrator) GetFlowMessageCount(name string) (int64, error) {
	h, err := o.get(name)
	if err != nil {
		return 0, err
	}
	return h.f.MessageCount(), nil
}

// WaitAll polls until every flow has been removed from the map, or ctx is
// done.
func (o *Orchestrator) WaitAll(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		o.mu.Lock()
		empty := len(o.flows) == 0
		o.mu.Unlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops every flow and waits (up to ctx) for each to finish; any
// still running when ctx expires has its context canceled to unblock an
// in-flight receive, since the orchestrator never aborts a task mid-flush
// under normal operation but a process-wide shutdown deadline takes
// priority.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	handles := make([]*handle, 0, len(o.flows))
	for _, h := range o.flows {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		select {
		case h.f.Control() <- model.CmdStop:
		default:
			log.Warn().Str("flow", h.f.Name()).Msg("orchestrator: control channel full during shutdown")
		}
	}

	for _, h := range handles {
		select {
		case <-h.f.Done():
		case <-ctx.Done():
			h.cancel()
			<-h.f.Done()
		}
	}
}
