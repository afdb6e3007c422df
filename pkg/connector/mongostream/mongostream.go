// Package mongostream implements a model.Connector over a MongoDB change
// stream.
package mongostream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/connector"
	"github.com/cdcsink/cdcsink/pkg/events"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func init() {
	connector.Default.Register(config.SourceTypeMongoDB, connector.FactoryFunc(New))
}

// Stream is a model.Connector driven by a MongoDB change stream.
type Stream struct {
	cfg        config.SourceConfig
	collection string

	client       *mongo.Client
	changeStream *mongo.ChangeStream
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
	if cfg.Type != config.SourceTypeMongoDB {
		return nil, fmt.Errorf("mongostream: invalid source type %s", cfg.Type)
	}
	collection := ""
	if cfg.Options != nil {
		if v, ok := cfg.Options["collection"].(string); ok {
			collection = v
		}
	}
	return &Stream{
		cfg:        cfg,
		collection: collection,
		out:        make(chan *model.ChangeEvent, 256),
	}, nil
}

func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	connStr := s.cfg.URI
	if connStr == "" {
		authDB := "admin"
		if s.cfg.Options != nil {
			if v, ok := s.cfg.Options["authDatabase"].(string); ok && v != "" {
				authDB = v
			}
		}
		connStr = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s?authSource=%s",
			s.cfg.Username, s.cfg.Password, s.cfg.Host, s.cfg.Port, s.cfg.Database, authDB)
	}

	client, err := mongo.Connect(s.ctx, options.Client().ApplyURI(connStr))
	if err != nil {
		return fmt.Errorf("mongostream: connect: %w", err)
	}
	if err := client.Ping(s.ctx, nil); err != nil {
		return fmt.Errorf("mongostream: ping: %w", err)
	}
	s.client = client

	database := client.Database(s.cfg.Database)
	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	var cs *mongo.ChangeStream
	if s.collection != "" {
		cs, err = database.Collection(s.collection).Watch(s.ctx, mongo.Pipeline{}, csOpts)
	} else {
		cs, err = database.Watch(s.ctx, mongo.Pipeline{}, csOpts)
	}
	if err != nil {
		client.Disconnect(s.ctx)
		return fmt.Errorf("mongostream: create change stream: %w", err)
	}
	s.changeStream = cs
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
	if s.changeStream != nil {
		s.changeStream.Close(ctx)
	}
	err := s.client.Disconnect(ctx)
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
			log.Error().Interface("panic", r).Msg("panic in mongo change stream consumption")
		}
	}()

	for s.changeStream.Next(s.ctx) {
		var raw bson.M
		if err := s.changeStream.Decode(&raw); err != nil {
			s.recordError(err)
			continue
		}
		if err := s.handle(raw); err != nil {
			s.recordError(err)
		}
	}
	if err := s.changeStream.Err(); err != nil && s.ctx.Err() == nil {
		s.recordError(err)
	}
}

func (s *Stream) handle(raw bson.M) error {
	operationType, _ := raw["operationType"].(string)

	var data []byte
	var err error
	if fullDocument, ok := raw["fullDocument"].(bson.M); ok {
		data, err = bson.MarshalExtJSON(fullDocument, true, false)
		if err != nil {
			return fmt.Errorf("mongostream: marshal document: %w", err)
		}
	}

	var docKey []byte
	if key, ok := raw["documentKey"].(bson.M); ok {
		docKey, err = bson.MarshalExtJSON(key, true, false)
		if err != nil {
			return fmt.Errorf("mongostream: marshal document key: %w", err)
		}
	}

	collection := s.collection
	if ns, ok := raw["ns"].(bson.M); ok {
		if coll, ok := ns["coll"].(string); ok {
			collection = coll
		}
	}

	rec := events.RecordEvent{
		Action:      operationType,
		Schema:      s.cfg.Database,
		Collection:  collection,
		Data:        data,
		DocumentKey: docKey,
	}

	id := fmt.Sprintf("mongo-%s-%d", collection, time.Now().UnixNano())
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

func (s *Stream) recordError(err error) {
	s.errors.Add(1)
	s.consecutiveErrors.Add(1)
	s.lastErr.Store(err.Error())
	log.Error().Err(err).Msg("mongodb change stream error")
}
