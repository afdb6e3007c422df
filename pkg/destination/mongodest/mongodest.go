// Package mongodest implements a model.Destination over MongoDB, generalizing
// the teacher's pkg/estuary/mongo.go (a single InsertOne-only endpoint) into
// a full insert/update/delete sink driven by model.ChangeEvent.Operation.
package mongodest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/destination"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func init() {
	destination.Default.Register(config.TargetTypeMongoDB, destination.FactoryFunc(New))
}

// Sink is a model.Destination backed by one Mongo database. Each table name
// carried by an incoming event's metadata maps to a same-named collection.
type Sink struct {
	cfg config.TargetConfig

	mu        sync.Mutex
	client    *mongo.Client
	db        *mongo.Database
	connected bool

	written           atomic.Int64
	errs              atomic.Int64
	consecutiveErrors atomic.Int32
	lastErr           atomic.Value
}

func New(cfg config.TargetConfig) (model.Destination, error) {
	if cfg.Type != config.TargetTypeMongoDB {
		return nil, fmt.Errorf("mongodest: invalid target type %q", cfg.Type)
	}
	return &Sink{cfg: cfg}, nil
}

func (s *Sink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	uri := s.cfg.URI
	if uri == "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s", s.cfg.Username, s.cfg.Password, s.cfg.Host, s.cfg.Port, s.cfg.Database)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("mongodest: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodest: ping: %w", err)
	}

	s.client = client
	s.db = client.Database(s.cfg.Database)
	s.connected = true
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.connected = false
	return err
}

func (s *Sink) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sink) Write(ctx context.Context, ev *model.ChangeEvent) error {
	return s.WriteBatch(ctx, []*model.ChangeEvent{ev})
}

// WriteBatch applies the whole batch inside one multi-document transaction
// (mongo.Session.WithTransaction) so a failure partway through aborts every
// write in the batch instead of leaving a partially-applied set of
// documents: deletes by primary key, everything else as an upserting
// replace (falling back to a plain insert when the event carries no usable
// key). Per record: deletes by primary key, everything else as an
// upserting replace (falling back to a plain insert when the event carries
// no usable key).
func (s *Sink) WriteBatch(ctx context.Context, batch []*model.ChangeEvent) error {
	if len(batch) == 0 {
		return nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		s.recordFailure(err)
		return fmt.Errorf("mongodest: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		for _, ev := range batch {
			collName := ev.Table.Name
			if collName == "" {
				collName = "cdc_unknown"
			}
			if err := s.applyOne(sessCtx, s.db.Collection(collName), ev); err != nil {
				return nil, fmt.Errorf("write event %s: %w", ev.ID, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		s.recordFailure(err)
		return fmt.Errorf("mongodest: write batch: %w", err)
	}

	s.written.Add(int64(len(batch)))
	s.consecutiveErrors.Store(0)
	return nil
}

func (s *Sink) applyOne(ctx context.Context, coll *mongo.Collection, ev *model.ChangeEvent) error {
	if ev.Operation == model.OpDelete {
		pk, ok := ev.PrimaryKeyValue()
		if !ok {
			log.Warn().Str("event", ev.ID).Msg("mongodest: delete without usable primary key, skipping")
			return nil
		}
		_, err := coll.DeleteOne(ctx, bson.M{"_id": pk})
		return err
	}

	doc := bson.M(ev.Data)
	if pk, ok := ev.PrimaryKeyValue(); ok {
		_, err := coll.ReplaceOne(ctx, bson.M{"_id": pk}, doc, options.Replace().SetUpsert(true))
		return err
	}
	_, err := coll.InsertOne(ctx, doc)
	return err
}

func (s *Sink) recordFailure(err error) {
	s.errs.Add(1)
	s.consecutiveErrors.Add(1)
	s.lastErr.Store(err.Error())
}

func (s *Sink) Status() model.DestinationStatus {
	status := model.DestinationStatus{
		RecordsWritten:    s.written.Load(),
		Errors:            s.errs.Load(),
		ConsecutiveErrors: int(s.consecutiveErrors.Load()),
		Connected:         s.IsConnected(),
	}
	if v := s.lastErr.Load(); v != nil {
		status.LastError = v.(string)
	}
	return status
}
