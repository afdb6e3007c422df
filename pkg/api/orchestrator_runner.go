package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/flow"
	"github.com/cdcsink/cdcsink/pkg/model"
	"github.com/cdcsink/cdcsink/pkg/notifier"
	"github.com/cdcsink/cdcsink/pkg/orchestrator"
)

// OrchestratorRunner is the production StreamRunner: it backs every HTTP
// control-plane action (start/stop/pause/resume/list) directly onto an
// orchestrator.Orchestrator instead of an in-memory bookkeeping map.
type OrchestratorRunner struct {
	orch     *orchestrator.Orchestrator
	notifier notifier.Notifier

	mu      sync.RWMutex
	streams map[string]config.StreamConfig
}

// NewOrchestratorRunner builds a StreamRunner over an existing orchestrator.
func NewOrchestratorRunner(orch *orchestrator.Orchestrator, n notifier.Notifier) *OrchestratorRunner {
	return &OrchestratorRunner{
		orch:     orch,
		notifier: n,
		streams:  make(map[string]config.StreamConfig),
	}
}

// Start builds a flow from the given stream config and registers it.
func (r *OrchestratorRunner) Start(ctx context.Context, stream config.StreamConfig) error {
	f, err := flow.Build(stream, r.notifier)
	if err != nil {
		return fmt.Errorf("orchestrator runner: build flow %q: %w", stream.Name, err)
	}
	if err := r.orch.AddFlow(f); err != nil {
		return err
	}
	r.mu.Lock()
	r.streams[stream.Name] = stream
	r.mu.Unlock()
	return nil
}

// Stop halts a running flow.
func (r *OrchestratorRunner) Stop(ctx context.Context, name string) error {
	return r.orch.StopFlow(name)
}

// Pause suspends a running flow's delivery without tearing it down.
func (r *OrchestratorRunner) Pause(ctx context.Context, name string) error {
	return r.orch.PauseFlow(name)
}

// Resume resumes a paused flow.
func (r *OrchestratorRunner) Resume(ctx context.Context, name string) error {
	return r.orch.ResumeFlow(name)
}

// GetStatus reports a flow's current status and counters.
func (r *OrchestratorRunner) GetStatus(name string) StreamStatus {
	status, err := r.orch.GetFlowStatus(name)
	if err != nil {
		return StreamStatus{Name: name, Status: config.StreamStatusStopped, Error: err.Error()}
	}

	m, _ := r.orch.GetFlowMetrics(name)
	return StreamStatus{
		Name:   name,
		Status: toStreamStatus(status),
		Uptime: m.Uptime,
		Metrics: map[string]interface{}{
			"messages_received": m.MessagesReceived,
			"records_processed": m.RecordsProcessed,
			"errors":            m.Errors,
		},
	}
}

// ListStreams reports every registered stream's configuration and status.
func (r *OrchestratorRunner) ListStreams() []StreamInfo {
	r.mu.RLock()
	names := make([]string, 0, len(r.streams))
	configs := make(map[string]config.StreamConfig, len(r.streams))
	for name, cfg := range r.streams {
		names = append(names, name)
		configs[name] = cfg
	}
	r.mu.RUnlock()

	infos := make([]StreamInfo, 0, len(names))
	for _, name := range names {
		cfg := configs[name]
		status, err := r.orch.GetFlowStatus(name)
		info := StreamInfo{
			Name:           name,
			Source:         cfg.Source,
			Target:         cfg.Target,
			Transformation: cfg.Transformation,
			Enabled:        cfg.Enabled,
		}
		if err != nil {
			info.Status = config.StreamStatusStopped
			info.LastError = err.Error()
		} else {
			info.Status = toStreamStatus(status)
			if m, merr := r.orch.GetFlowMetrics(name); merr == nil {
				info.Uptime = m.Uptime
			}
		}
		infos = append(infos, info)
	}
	return infos
}

func toStreamStatus(s model.FlowStatus) config.StreamStatus {
	switch s {
	case model.FlowRunning:
		return config.StreamStatusRunning
	case model.FlowPaused:
		return config.StreamStatusPaused
	case model.FlowFailed:
		return config.StreamStatusError
	default:
		return config.StreamStatusStopped
	}
}
