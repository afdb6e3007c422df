// Package flow implements the per-flow ingestion runtime: a single
// cooperative control loop driving one model.Connector and a fan-out of
// named model.Destination instances, with batching, timed flush,
// per-destination schema filtering, and a consecutive-error circuit
// breaker.
//
// Generalizes the teacher's streams.KafkaStream.consume goroutine (the
// context-bounded receive-or-retry select loop) and
// replicator.Service.processEvents (the shutdown-aware dispatch select),
// merged into one source/sink-agnostic body driven by the capability
// interfaces in pkg/model rather than Kafka- or stream-specific types.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/model"
	"github.com/cdcsink/cdcsink/pkg/notifier"
	"github.com/cdcsink/cdcsink/pkg/transform"
)

const (
	defaultErrorThreshold  = 20
	defaultFlushInterval   = 5 * time.Second
	controlChannelCapacity = 32
	receiveTimeout         = 500 * time.Millisecond
)

// NewControlChannel returns a control channel sized per spec §5 ("capacity
// 32, backpressure via sender-side await").
func NewControlChannel() chan model.ControlCommand {
	return make(chan model.ControlCommand, controlChannelCapacity)
}

// Config bundles a Flow's construction-time dependencies. Connector and
// every named Destination are owned by the Flow once New succeeds: it
// connects and disconnects them, and nothing else may call their lifecycle
// methods concurrently.
type Config struct {
	Descriptor   model.FlowDescriptor
	Connector    model.Connector
	Destinations map[string]model.Destination // keyed by DestinationRef.Name
	Notifier     notifier.Notifier            // optional; defaults to a no-op logger
	Transformer  transform.EventTransformer   // optional; wired ahead of the buffer when set
	Control      chan model.ControlCommand    // optional; New allocates one if nil
}

// Metrics is a point-in-time snapshot of one flow's counters, consumed by
// the orchestrator's get_flow_metrics/get_flow_message_count operations.
type Metrics struct {
	MessagesReceived int64
	RecordsProcessed int64
	Errors           int64
	Uptime           time.Duration
}

// Flow drives one connector against one or more destinations until stopped
// or until a destination crosses the error threshold.
type Flow struct {
	name           string
	connector      model.Connector
	destRefs       []model.DestinationRef
	destinations   map[string]model.Destination
	destErrors     map[string]*atomic.Int32
	batchSize      int
	errorThreshold int
	flushInterval  time.Duration
	notifier       notifier.Notifier
	transformer    transform.EventTransformer

	control chan model.ControlCommand
	done    chan struct{}

	mu        sync.RWMutex
	status    model.FlowStatus
	lastErr   string
	startedAt time.Time

	buffer []*model.ChangeEvent

	messagesReceived atomic.Int64
	recordsProcessed atomic.Int64
	errs             atomic.Int64
}

// New validates cfg and builds a Flow in the Stopped state. It does not
// connect anything; call Run to start the flow's loop.
func New(cfg Config) (*Flow, error) {
	if cfg.Connector == nil {
		return nil, fmt.Errorf("flow: connector is required")
	}
	if len(cfg.Descriptor.Destinations) == 0 {
		return nil, fmt.Errorf("flow: at least one destination is required")
	}

	destErrors := make(map[string]*atomic.Int32, len(cfg.Descriptor.Destinations))
	for _, ref := range cfg.Descriptor.Destinations {
		if _, ok := cfg.Destinations[ref.Name]; !ok {
			return nil, fmt.Errorf("flow: no destination instance supplied for %q", ref.Name)
		}
		destErrors[ref.Name] = &atomic.Int32{}
	}

	n := cfg.Notifier
	if n == nil {
		n = &notifier.NoopNotifier{}
	}

	batchSize := cfg.Descriptor.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	threshold := cfg.Descriptor.ErrorThreshold
	if threshold <= 0 {
		threshold = defaultErrorThreshold
	}
	flushInterval := cfg.Descriptor.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	control := cfg.Control
	if control == nil {
		control = NewControlChannel()
	}

	return &Flow{
		name:           cfg.Descriptor.Name,
		connector:      cfg.Connector,
		destRefs:       cfg.Descriptor.Destinations,
		destinations:   cfg.Destinations,
		destErrors:     destErrors,
		batchSize:      batchSize,
		errorThreshold: threshold,
		flushInterval:  flushInterval,
		notifier:       n,
		transformer:    cfg.Transformer,
		control:        control,
		done:           make(chan struct{}),
		status:         model.FlowStopped,
	}, nil
}

// Name returns the flow's configured name.
func (f *Flow) Name() string { return f.name }

// Control returns the send side of the control channel driving this flow's
// lifecycle commands.
func (f *Flow) Control() chan<- model.ControlCommand { return f.control }

// Done is closed once Run's loop has exited and shutdown has completed.
func (f *Flow) Done() <-chan struct{} { return f.done }

// Status returns the flow's current state-machine position.
func (f *Flow) Status() model.FlowStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// LastError returns the most recent error string recorded against this
// flow, empty if none.
func (f *Flow) LastError() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}

// Metrics returns a snapshot of the flow's counters.
func (f *Flow) Metrics() Metrics {
	f.mu.RLock()
	started := f.startedAt
	f.mu.RUnlock()
	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started)
	}
	return Metrics{
		MessagesReceived: f.messagesReceived.Load(),
		RecordsProcessed: f.recordsProcessed.Load(),
		Errors:           f.errs.Load(),
		Uptime:           uptime,
	}
}

// MessageCount returns the number of records this flow has pulled from its
// connector, independent of how many were ultimately written.
func (f *Flow) MessageCount() int64 { return f.messagesReceived.Load() }

func (f *Flow) setStatus(s model.FlowStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *Flow) setFailed(err error) {
	f.mu.Lock()
	f.status = model.FlowFailed
	f.lastErr = err.Error()
	f.mu.Unlock()
}

// Run connects the connector and every destination in declaration order,
// drives the main loop to completion, and performs shutdown. It blocks
// until the flow exits and is meant to run on its own goroutine, spawned by
// the orchestrator (spec §4.F/§4.G).
func (f *Flow) Run(ctx context.Context) {
	defer close(f.done)

	if err := f.connect(ctx); err != nil {
		f.setFailed(err)
		log.Error().Err(err).Str("flow", f.name).Msg("flow: start sequence failed")
		return
	}

	f.mu.Lock()
	f.status = model.FlowRunning
	f.startedAt = time.Now()
	f.mu.Unlock()

	f.loop(ctx)
	f.shutdown(ctx)
}

func (f *Flow) connect(ctx context.Context) error {
	if err := f.connector.Connect(ctx); err != nil {
		return fmt.Errorf("flow: connect connector: %w", err)
	}
	for _, ref := range f.destRefs {
		if err := f.destinations[ref.Name].Connect(ctx); err != nil {
			return fmt.Errorf("flow: connect destination %q: %w", ref.Name, err)
		}
	}
	return nil
}

// loop is the main cooperative control loop from spec §4.F: a non-blocking
// command poll, a timed flush check, then a 500ms-bounded receive.
func (f *Flow) loop(ctx context.Context) {
	lastFlush := time.Now()

	for {
		select {
		case cmd := <-f.control:
			switch cmd {
			case model.CmdStop:
				return
			case model.CmdPause:
				f.setStatus(model.FlowPaused)
				if !f.waitForResumeOrStop(ctx) {
					return
				}
				f.setStatus(model.FlowRunning)
			case model.CmdResume:
				// already running; ignore per spec.
			}
		default:
		}

		if len(f.buffer) > 0 && time.Since(lastFlush) >= f.flushInterval {
			if err := f.flush(ctx); err != nil {
				log.Warn().Err(err).Str("flow", f.name).Msg("flow: timed flush failed")
				if f.Status() == model.FlowFailed {
					return
				}
			}
			lastFlush = time.Now()
		}

		recvCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
		ev, err := f.connector.Receive(recvCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			log.Debug().Err(err).Str("flow", f.name).Msg("flow: receive error, continuing")
			continue
		case ev == nil:
			// Orderly end-of-stream is transient per spec §9.3: a restart,
			// if warranted, is a control-plane decision, not this loop's.
			continue
		default:
			f.messagesReceived.Add(1)
			if f.transformer != nil {
				transformed, terr := f.transformer.TransformEvent(ctx, ev)
				if terr != nil {
					f.errs.Add(1)
					log.Warn().Err(terr).Str("flow", f.name).Str("event", ev.ID).Msg("flow: transform failed, dropping event")
					continue
				}
				ev = transformed
			}
			f.buffer = append(f.buffer, ev)
			if len(f.buffer) >= f.batchSize {
				if err := f.flush(ctx); err != nil {
					log.Warn().Err(err).Str("flow", f.name).Msg("flow: size-triggered flush failed")
					if f.Status() == model.FlowFailed {
						return
					}
				}
				lastFlush = time.Now()
			}
		}
	}
}

// waitForResumeOrStop blocks on the control channel while paused, returning
// true to resume the loop or false to exit it (Stop, or the outer context
// ending).
func (f *Flow) waitForResumeOrStop(ctx context.Context) bool {
	for {
		select {
		case cmd := <-f.control:
			switch cmd {
			case model.CmdResume:
				return true
			case model.CmdStop:
				return false
			case model.CmdPause:
				// already paused; ignore.
			}
		case <-ctx.Done():
			return false
		}
	}
}

// flush applies each destination's schema filter to the buffered batch and
// writes the filtered subset, in destination declaration order (spec
// §4.F "Flush"). No record is dropped from the in-memory buffer until every
// destination that should see it has accepted it: a failure anywhere
// restores the untouched original batch, so a retry or a flow-stop never
// loses data, though a destination that already succeeded this round may
// see the same records again on retry (hence the upsert guidance in spec
// §5 "Ordering guarantees").
func (f *Flow) flush(ctx context.Context) error {
	if len(f.buffer) == 0 {
		return nil
	}
	batch := f.buffer

	for _, ref := range f.destRefs {
		filtered := filterBatch(batch, ref)
		if len(filtered) == 0 {
			continue
		}

		dest := f.destinations[ref.Name]
		if err := dest.WriteBatch(ctx, filtered); err != nil {
			return f.handleDestinationFailure(ref.Name, err)
		}

		f.destErrors[ref.Name].Store(0)
		f.recordsProcessed.Add(int64(len(filtered)))
	}

	f.buffer = nil
	return nil
}

// handleDestinationFailure increments destName's consecutive-error counter
// and either trips the circuit breaker (notifying once, when the counter
// first reaches the threshold, and transitioning to Failed) or returns a
// transient error for the loop to log and retry.
func (f *Flow) handleDestinationFailure(destName string, err error) error {
	f.errs.Add(1)
	f.mu.Lock()
	f.lastErr = err.Error()
	f.mu.Unlock()

	counter := f.destErrors[destName].Add(1)
	if int(counter) < f.errorThreshold {
		return fmt.Errorf("flow: destination %q write failed (consecutive=%d): %w", destName, counter, err)
	}

	details := fmt.Sprintf("destination %q crossed error threshold (%d consecutive failures): %v", destName, counter, err)
	if int(counter) == f.errorThreshold {
		if nerr := f.notifier.SendErrorNotification(f.name, details); nerr != nil {
			log.Error().Err(nerr).Str("flow", f.name).Msg("flow: notifier invocation failed")
		}
	}
	terminal := fmt.Errorf("flow: %s", details)
	f.setFailed(terminal)
	return terminal
}

// shutdown attempts one best-effort final flush, then disconnects the
// connector and every destination regardless of that flush's outcome (spec
// §4.F "Shutdown"). A flow already Failed keeps its recorded error; one that
// exited via Stop transitions to Stopped.
func (f *Flow) shutdown(ctx context.Context) {
	if len(f.buffer) > 0 {
		if err := f.flush(ctx); err != nil {
			log.Warn().Err(err).Str("flow", f.name).Msg("flow: final flush on shutdown failed")
		}
	}

	if err := f.connector.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Str("flow", f.name).Msg("flow: disconnect connector failed")
	}
	for _, ref := range f.destRefs {
		if err := f.destinations[ref.Name].Disconnect(ctx); err != nil {
			log.Warn().Err(err).Str("flow", f.name).Str("destination", ref.Name).Msg("flow: disconnect destination failed")
		}
	}

	f.mu.Lock()
	if f.status != model.FlowFailed {
		f.status = model.FlowStopped
	}
	f.mu.Unlock()
}

func filterBatch(batch []*model.ChangeEvent, ref model.DestinationRef) []*model.ChangeEvent {
	filtered := make([]*model.ChangeEvent, 0, len(batch))
	for _, ev := range batch {
		if ref.Allows(ev.Table.Schema) {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}
