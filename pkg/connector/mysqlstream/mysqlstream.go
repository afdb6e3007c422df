// Package mysqlstream implements a model.Connector over MySQL binlog
// replication using go-mysql-org/go-mysql's BinlogSyncer.
package mysqlstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/connector"
	"github.com/cdcsink/cdcsink/pkg/events"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func init() {
	connector.Default.Register(config.SourceTypeMySQL, connector.FactoryFunc(New))
}

// Stream is a model.Connector driven by a MySQL binlog syncer.
type Stream struct {
	cfg          config.SourceConfig
	tableFilter  string
	syncer       *replication.BinlogSyncer
	streamer     *replication.BinlogStreamer
	out          chan *model.ChangeEvent

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
	if cfg.Type != config.SourceTypeMySQL {
		return nil, fmt.Errorf("mysqlstream: invalid source type %s", cfg.Type)
	}
	tableFilter := ""
	if cfg.Options != nil {
		if v, ok := cfg.Options["table"].(string); ok {
			tableFilter = v
		}
	}
	return &Stream{
		cfg:         cfg,
		tableFilter: tableFilter,
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

	serverID := uint32(100)
	if s.cfg.Options != nil {
		if v, ok := s.cfg.Options["server_id"].(float64); ok {
			serverID = uint32(v)
		}
	}

	s.syncer = replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: serverID,
		Flavor:   "mysql",
		Host:     s.cfg.Host,
		Port:     uint16(s.cfg.Port),
		User:     s.cfg.Username,
		Password: s.cfg.Password,
	})

	pos := mysql.Position{Name: "", Pos: 4}
	if s.cfg.Options != nil {
		if name, ok := s.cfg.Options["binlog_file"].(string); ok && name != "" {
			pos.Name = name
		}
		if p, ok := s.cfg.Options["binlog_pos"].(float64); ok {
			pos.Pos = uint32(p)
		}
	}

	streamer, err := s.syncer.StartSync(pos)
	if err != nil {
		s.syncer.Close()
		return fmt.Errorf("mysqlstream: start binlog sync: %w", err)
	}
	s.streamer = streamer
	s.connected = true

	go s.consume()
	return nil
}

func (s *Stream) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.cancel()
	s.syncer.Close()
	s.connected = false
	return nil
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
			log.Error().Interface("panic", r).Msg("panic in mysql binlog consumption")
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			recvCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
			ev, err := s.streamer.GetEvent(recvCtx)
			cancel()

			if err != nil {
				if err == context.DeadlineExceeded {
					continue
				}
				s.recordError(err)
				continue
			}

			if err := s.handleEvent(ev); err != nil {
				s.recordError(err)
			}
		}
	}
}

func (s *Stream) handleEvent(ev *replication.BinlogEvent) error {
	switch e := ev.Event.(type) {
	case *replication.RowsEvent:
		return s.handleRowsEvent(e, ev.Header.EventType)
	default:
		return nil
	}
}

func (s *Stream) handleRowsEvent(ev *replication.RowsEvent, eventType replication.EventType) error {
	var action string
	switch eventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		action = events.InsertAction
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		action = events.UpdateAction
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		action = events.DeleteAction
	default:
		return nil
	}

	schema := string(ev.Table.Schema)
	table := string(ev.Table.Table)

	if s.cfg.Database != "" && schema != s.cfg.Database {
		return nil
	}
	if s.tableFilter != "" && table != s.tableFilter {
		return nil
	}

	for _, row := range ev.Rows {
		if err := s.emit(action, schema, table, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) emit(action, schema, table string, row []interface{}) error {
	fields := make(map[string]interface{}, len(row))
	for i, v := range row {
		fields[fmt.Sprintf("col_%d", i)] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("mysqlstream: marshal row: %w", err)
	}

	rec := events.RecordEvent{
		Action:     action,
		Schema:     schema,
		Collection: table,
		Data:       data,
	}
	id := fmt.Sprintf("mysql-%s-%s-%d", schema, table, time.Now().UnixNano())
	chEvent, err := rec.ToChangeEvent(id, time.Now())
	if err != nil {
		return err
	}

	select {
	case s.out <- chEvent:
		s.recordsReceived.Add(1)
		s.consecutiveErrors.Store(0)
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Stream) recordError(err error) {
	s.errors.Add(1)
	s.consecutiveErrors.Add(1)
	s.lastErr.Store(err.Error())
	log.Error().Err(err).Msg("mysql binlog error")
}
