// Package postgresstream implements a model.Connector over PostgreSQL
// logical replication (pglogrepl + the raw pgconn protocol connection),
// polling the replication socket on a background goroutine and handing
// decoded rows to Receive through a buffered channel.
package postgresstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/connector"
	"github.com/cdcsink/cdcsink/pkg/events"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func init() {
	connector.Default.Register(config.SourceTypePostgreSQL, connector.FactoryFunc(New))
}

// Stream is a model.Connector driven by a PostgreSQL logical replication
// slot.
type Stream struct {
	cfg         config.SourceConfig
	slotName    string
	publication string

	conn *pgconn.PgConn
	out  chan *model.ChangeEvent

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	recordsReceived   atomic.Int64
	errors            atomic.Int64
	consecutiveErrors atomic.Int32
	lastErr           atomic.Value
}

// New builds a Stream from a source configuration.
func New(cfg config.SourceConfig) (model.Connector, error) {
	if cfg.Type != config.SourceTypePostgreSQL {
		return nil, fmt.Errorf("postgresstream: invalid source type %s", cfg.Type)
	}

	slot := "cdcsink_slot"
	pub := "cdcsink_publication"
	if cfg.Options != nil {
		if v, ok := cfg.Options["slot_name"].(string); ok && v != "" {
			slot = v
		}
		if v, ok := cfg.Options["publication"].(string); ok && v != "" {
			pub = v
		}
	}

	return &Stream{
		cfg:         cfg,
		slotName:    slot,
		publication: pub,
		out:         make(chan *model.ChangeEvent, 256),
	}, nil
}

func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s replication=database",
		s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password, s.cfg.Database)

	conn, err := pgconn.Connect(s.ctx, connString)
	if err != nil {
		return fmt.Errorf("postgresstream: connect: %w", err)
	}
	s.conn = conn

	if err := s.ensureSlot(); err != nil {
		conn.Close(s.ctx)
		return err
	}
	if err := s.ensurePublication(); err != nil {
		conn.Close(s.ctx)
		return err
	}

	options := pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '1'",
			fmt.Sprintf("publication_names '%s'", s.publication),
		},
	}
	if err := pglogrepl.StartReplication(s.ctx, s.conn, s.slotName, pglogrepl.LSN(0), options); err != nil {
		conn.Close(s.ctx)
		return fmt.Errorf("postgresstream: start replication: %w", err)
	}

	s.connected = true
	go s.consume()
	return nil
}

func (s *Stream) ensureSlot() error {
	exists, err := s.exists(fmt.Sprintf("SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s'", s.slotName))
	if err != nil {
		return fmt.Errorf("postgresstream: check slot: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := pglogrepl.CreateReplicationSlot(s.ctx, s.conn, s.slotName, "pgoutput", pglogrepl.CreateReplicationSlotOptions{}); err != nil {
		return fmt.Errorf("postgresstream: create slot: %w", err)
	}
	return nil
}

func (s *Stream) ensurePublication() error {
	exists, err := s.exists(fmt.Sprintf("SELECT 1 FROM pg_publication WHERE pubname = '%s'", s.publication))
	if err != nil {
		return fmt.Errorf("postgresstream: check publication: %w", err)
	}
	if exists {
		return nil
	}
	tableSpec := "ALL TABLES"
	if s.cfg.Options != nil {
		if table, ok := s.cfg.Options["table"].(string); ok && table != "" {
			tableSpec = fmt.Sprintf("TABLE %s", table)
		}
	}
	result := s.conn.Exec(s.ctx, fmt.Sprintf("CREATE PUBLICATION %s FOR %s", s.publication, tableSpec))
	if _, err := result.ReadAll(); err != nil {
		return fmt.Errorf("postgresstream: create publication: %w", err)
	}
	return nil
}

func (s *Stream) exists(query string) (bool, error) {
	result := s.conn.Exec(s.ctx, query)
	rows, err := result.ReadAll()
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Stream) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.cancel()
	err := s.conn.Close(ctx)
	s.connected = false
	return err
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Stream) Receive(ctx context.Context) (*model.ChangeEvent, error) {
	select {
	case ev, ok := <-s.out:
		if !ok {
			return nil, nil
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) Status() model.ConnectorStatus {
	status := model.ConnectorStatus{
		RecordsReceived:   s.recordsReceived.Load(),
		Errors:            s.errors.Load(),
		ConsecutiveErrors: int(s.consecutiveErrors.Load()),
		Connected:         s.IsConnected(),
	}
	if v := s.lastErr.Load(); v != nil {
		status.LastError = v.(string)
	}
	return status
}

func (s *Stream) consume() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("slot", s.slotName).Msg("panic in postgresql replication consumption")
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			recvCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
			msg, err := s.conn.ReceiveMessage(recvCtx)
			cancel()

			if err != nil {
				if pgconn.Timeout(err) {
					continue
				}
				s.recordError(err)
				continue
			}

			if err := s.handleMessage(msg); err != nil {
				s.recordError(err)
			}
		}
	}
}

func (s *Stream) handleMessage(msg pgproto3.BackendMessage) error {
	switch m := msg.(type) {
	case *pgproto3.CopyData:
		return s.handleCopyData(m.Data)
	case *pgproto3.ErrorResponse:
		return fmt.Errorf("postgresstream: server error: %s", m.Message)
	default:
		return nil
	}
}

func (s *Stream) handleCopyData(data []byte) error {
	logicalMsg, err := pglogrepl.Parse(data)
	if err != nil {
		return fmt.Errorf("postgresstream: parse logical message: %w", err)
	}

	switch m := logicalMsg.(type) {
	case *pglogrepl.InsertMessage:
		return s.emit(events.InsertAction, m.RelationID, m.Tuple, nil)
	case *pglogrepl.UpdateMessage:
		return s.emit(events.UpdateAction, m.RelationID, m.NewTuple, m.OldTuple)
	case *pglogrepl.DeleteMessage:
		return s.emit(events.DeleteAction, m.RelationID, m.OldTuple, nil)
	default:
		return nil
	}
}

func (s *Stream) emit(action string, relationID uint32, tuple, oldTuple *pglogrepl.TupleData) error {
	data, err := tupleToJSON(tuple)
	if err != nil {
		return err
	}
	var oldData []byte
	if oldTuple != nil {
		if oldData, err = tupleToJSON(oldTuple); err != nil {
			return err
		}
	}

	rec := events.RecordEvent{
		Action:     action,
		Schema:     s.cfg.Database,
		Collection: fmt.Sprintf("relation_%d", relationID),
		Data:       data,
		OldData:    oldData,
	}

	id := fmt.Sprintf("pg-%d-%d", relationID, time.Now().UnixNano())
	ev, err := rec.ToChangeEvent(id, time.Now())
	if err != nil {
		return err
	}

	select {
	case s.out <- ev:
		s.recordsReceived.Add(1)
		s.consecutiveErrors.Store(0)
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func tupleToJSON(tuple *pglogrepl.TupleData) ([]byte, error) {
	if tuple == nil {
		return json.Marshal(map[string]interface{}{})
	}
	row := make(map[string]interface{}, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if col.DataType == pglogrepl.TupleDataTypeNull {
			row[fmt.Sprintf("col_%d", i)] = nil
		} else {
			row[fmt.Sprintf("col_%d", i)] = string(col.Data)
		}
	}
	return json.Marshal(row)
}

func (s *Stream) recordError(err error) {
	s.errors.Add(1)
	s.consecutiveErrors.Add(1)
	s.lastErr.Store(err.Error())
	log.Error().Err(err).Str("slot", s.slotName).Msg("postgresql replication error")
}
