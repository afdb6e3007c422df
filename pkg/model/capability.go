package model

import (
	"context"
	"time"
)

// ConnectorStatus mirrors a connector's monotonic counters. Reset only on an
// explicit flow restart.
type ConnectorStatus struct {
	RecordsReceived  int64
	Errors           int64
	ConsecutiveErrors int
	LastError        string
	Connected        bool
}

// DestinationStatus mirrors a destination's monotonic counters.
type DestinationStatus struct {
	RecordsWritten   int64
	Errors           int64
	ConsecutiveErrors int
	LastError        string
	Connected        bool
}

// Connector is the source-agnostic pull interface a flow drives. receive may
// suspend until an event arrives or ctx is done; it returns (nil, nil) to
// signal orderly end-of-stream.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Receive(ctx context.Context) (*ChangeEvent, error)
	Status() ConnectorStatus
}

// Cleanup is an optional secondary capability a Connector may implement. It
// is invoked only by the control plane when a connector's configuration is
// being deleted (e.g. to drop a durable bus consumer) — never by the flow
// runtime itself.
type Cleanup interface {
	Cleanup(ctx context.Context) error
}

// Destination is the sink-agnostic push interface a flow drives.
// WriteBatch is the hot path and must provide all-or-nothing semantics for
// the batch it receives.
type Destination interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Write(ctx context.Context, event *ChangeEvent) error
	WriteBatch(ctx context.Context, batch []*ChangeEvent) error
	Status() DestinationStatus
}

// FlowStatus is the flow state machine: absent -> Running -> {Stopped,
// Failed} -> absent, with Running <-> Paused via commands, and Stopped ->
// Running only through an explicit restart (stop, remove, add).
type FlowStatus string

const (
	FlowRunning FlowStatus = "running"
	FlowPaused  FlowStatus = "paused"
	FlowStopped FlowStatus = "stopped"
	FlowFailed  FlowStatus = "failed"
)

// DestinationRef binds a destination instance name to a per-flow schema
// filter: records whose Table.Schema is non-empty and not in the allow-set
// are never delivered to that destination. An empty Table.Schema is always
// allowed through.
type DestinationRef struct {
	Name         string
	SchemaFilter map[string]struct{}
}

// Allows reports whether schema passes this destination's filter.
func (r DestinationRef) Allows(schema string) bool {
	if schema == "" {
		return true
	}
	if len(r.SchemaFilter) == 0 {
		return true
	}
	_, ok := r.SchemaFilter[schema]
	return ok
}

// FlowDescriptor is the immutable configuration snapshot passed to a flow
// runtime at construction.
type FlowDescriptor struct {
	Name           string
	ConnectorRef   string
	Destinations   []DestinationRef
	BatchSize      int
	ErrorThreshold int
	FlushInterval  time.Duration
}

// ControlCommand is sent over a flow's control channel.
type ControlCommand int

const (
	CmdStop ControlCommand = iota
	CmdPause
	CmdResume
)
