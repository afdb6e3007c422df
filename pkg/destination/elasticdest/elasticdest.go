// Package elasticdest implements a model.Destination over Elasticsearch,
// generalizing the teacher's pkg/estuary/elastic.go (a single fixed-index
// endpoint keyed by a side-channel RecordKey) into a batch-aware sink keyed
// directly off model.ChangeEvent, indexing into one index per table.
package elasticdest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/destination"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func init() {
	destination.Default.Register(config.TargetTypeElastic, destination.FactoryFunc(New))
}

const defaultIndex = "cdc_events"

// Sink indexes, updates, or deletes one document per event, mirroring the
// teacher's ElasticEndpoint.WriteEvent action switch but against
// model.ChangeEvent.Operation and with a per-table index name instead of a
// single fixed one.
type Sink struct {
	cfg          config.TargetConfig
	defaultIndex string

	mu        sync.Mutex
	es        *elasticsearch.Client
	connected bool

	written           atomic.Int64
	errs              atomic.Int64
	consecutiveErrors atomic.Int32
	lastErr           atomic.Value
}

func New(cfg config.TargetConfig) (model.Destination, error) {
	if cfg.Type != config.TargetTypeElastic {
		return nil, fmt.Errorf("elasticdest: invalid target type %q", cfg.Type)
	}
	idx := cfg.Database
	if idx == "" {
		idx = defaultIndex
	}
	return &Sink{cfg: cfg, defaultIndex: idx}, nil
}

func (s *Sink) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	addrs := s.cfg.Brokers
	if len(addrs) == 0 {
		addrs = []string{fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)}
	}
	esCfg := elasticsearch.Config{
		Addresses: addrs,
		Username:  s.cfg.Username,
		Password:  s.cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 10 * time.Second,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return fmt.Errorf("elasticdest: new client: %w", err)
	}

	s.es = es
	s.connected = true
	return nil
}

func (s *Sink) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Sink) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sink) Write(ctx context.Context, ev *model.ChangeEvent) error {
	return s.WriteBatch(ctx, []*model.ChangeEvent{ev})
}

// bulkOp is one event staged for the Bulk API, carrying enough state
// (its pre-image, if any) to compensate the document back to its prior
// state if a sibling operation in the same batch fails.
type bulkOp struct {
	ev       *model.ChangeEvent
	index    string
	docID    string
	action   string // "index", "update", or "delete"
	hadPre   bool
	preImage json.RawMessage
}

// WriteBatch stages the whole batch as one Elasticsearch Bulk API request.
// Because the Bulk API itself applies each action independently rather than
// atomically, all-or-nothing semantics are achieved by capturing every
// target document's pre-image before the bulk call and, if any item in the
// response reports an error, compensating every item that did succeed back
// to its captured pre-image (or deleting it, if the document did not exist
// beforehand) before returning the batch error.
func (s *Sink) WriteBatch(ctx context.Context, batch []*model.ChangeEvent) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	es := s.es
	s.mu.Unlock()

	ops := make([]*bulkOp, 0, len(batch))
	for _, ev := range batch {
		index := ev.Table.Name
		if index == "" {
			index = s.defaultIndex
		}

		pk, hasPK := ev.PrimaryKeyValue()
		if ev.Operation == model.OpDelete && !hasPK {
			log.Warn().Str("index", index).Str("event", ev.ID).Msg("elasticdest: delete without usable primary key, skipping")
			continue
		}

		docID := ev.ID
		if hasPK {
			docID = fmt.Sprintf("%v", pk)
		}
		action := "index"
		switch ev.Operation {
		case model.OpDelete:
			action = "delete"
		case model.OpUpdate:
			action = "update"
		}

		op := &bulkOp{ev: ev, index: index, docID: docID, action: action}
		pre, found, err := s.fetchPreimage(ctx, es, index, docID)
		if err != nil {
			return fmt.Errorf("elasticdest: fetch pre-image for %s/%s: %w", index, docID, err)
		}
		op.hadPre, op.preImage = found, pre
		ops = append(ops, op)
	}

	if len(ops) == 0 {
		return nil
	}

	body, err := buildBulkBody(ops)
	if err != nil {
		s.recordFailure(err)
		return fmt.Errorf("elasticdest: build bulk body: %w", err)
	}

	res, err := esapi.BulkRequest{Body: bytes.NewReader(body)}.Do(ctx, es)
	if err != nil {
		s.recordFailure(err)
		return fmt.Errorf("elasticdest: bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		err := fmt.Errorf("elasticsearch error response: %s", res.Status())
		s.recordFailure(err)
		return err
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		s.recordFailure(err)
		return fmt.Errorf("elasticdest: decode bulk response: %w", err)
	}

	if !parsed.Errors {
		s.written.Add(int64(len(ops)))
		s.consecutiveErrors.Store(0)
		return nil
	}

	firstErr := s.compensate(ctx, es, ops, parsed.Items)
	s.recordFailure(firstErr)
	return fmt.Errorf("elasticdest: bulk batch rolled back: %w", firstErr)
}

// fetchPreimage returns a document's current _source (nil, false if the
// document does not yet exist), used to compensate a partially-applied
// bulk batch.
func (s *Sink) fetchPreimage(ctx context.Context, es *elasticsearch.Client, index, docID string) (json.RawMessage, bool, error) {
	res, err := esapi.GetRequest{Index: index, DocumentID: docID}.Do(ctx, es)
	if err != nil {
		return nil, false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if res.IsError() {
		return nil, false, fmt.Errorf("get %s/%s: %s", index, docID, res.Status())
	}
	var doc struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, false, err
	}
	return doc.Source, true, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// itemFailed reports whether the Bulk API response item for op failed
// (status 300 or above, or an empty item).
func itemFailed(item map[string]struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}) bool {
	for _, v := range item {
		return v.Status >= 300
	}
	return true
}

// compensate reverts every op whose bulk item succeeded back to its
// captured pre-image (re-indexing it) or deletes it (if it had none),
// leaving the index as if the whole batch had never been applied. It
// returns the first failure observed in the original response so the
// caller can report a meaningful error.
func (s *Sink) compensate(ctx context.Context, es *elasticsearch.Client, ops []*bulkOp, items []map[string]struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}) error {
	var firstErr error
	for i, op := range ops {
		if i >= len(items) {
			break
		}
		if itemFailed(items[i]) {
			if firstErr == nil {
				firstErr = fmt.Errorf("item %d (%s/%s) failed: %s", i, op.index, op.docID, firstItemError(items[i]))
			}
			continue
		}
		if err := s.revert(ctx, es, op); err != nil {
			log.Warn().Err(err).Str("index", op.index).Str("id", op.docID).Msg("elasticdest: rollback compensation failed")
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("bulk response reported errors with no failing item located")
	}
	return firstErr
}

func firstItemError(item map[string]struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}) string {
	for _, v := range item {
		if len(v.Error) > 0 {
			return string(v.Error)
		}
		return fmt.Sprintf("status %d", v.Status)
	}
	return "unknown"
}

func (s *Sink) revert(ctx context.Context, es *elasticsearch.Client, op *bulkOp) error {
	if op.hadPre {
		res, err := esapi.IndexRequest{Index: op.index, DocumentID: op.docID, Body: bytes.NewReader(op.preImage)}.Do(ctx, es)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("restore %s/%s: %s", op.index, op.docID, res.Status())
		}
		return nil
	}
	res, err := esapi.DeleteRequest{Index: op.index, DocumentID: op.docID}.Do(ctx, es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("undo create %s/%s: %s", op.index, op.docID, res.Status())
	}
	return nil
}

// buildBulkBody encodes ops into the newline-delimited action/source pairs
// the Bulk API expects, in request order so response items line up 1:1
// with ops.
func buildBulkBody(ops []*bulkOp) ([]byte, error) {
	var buf bytes.Buffer
	for _, op := range ops {
		meta := map[string]map[string]string{
			op.action: {"_index": op.index, "_id": op.docID},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		switch op.action {
		case "delete":
			// no source line
		case "update":
			body, err := ffjson.Marshal(map[string]any{"doc": op.ev.Data, "doc_as_upsert": true})
			if err != nil {
				return nil, fmt.Errorf("marshal update body: %w", err)
			}
			buf.Write(body)
			buf.WriteByte('\n')
		default: // index
			body, err := ffjson.Marshal(op.ev.Data)
			if err != nil {
				return nil, fmt.Errorf("marshal index body: %w", err)
			}
			buf.Write(body)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func (s *Sink) recordFailure(err error) {
	if err == nil {
		return
	}
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
