// Package kafkastream implements a model.Connector over an IBM/sarama
// consumer group: a background goroutine drives sarama's push-based
// ConsumeClaim callback and feeds a buffered channel that Receive drains,
// bridging it to the connector package's pull-based interface.
package kafkastream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/connector"
	"github.com/cdcsink/cdcsink/pkg/events"
	"github.com/cdcsink/cdcsink/pkg/model"
)

func init() {
	connector.Default.Register(config.SourceTypeKafka, connector.FactoryFunc(New))
}

// Stream is a model.Connector backed by a sarama consumer group.
type Stream struct {
	cfg           config.SourceConfig
	consumer      sarama.ConsumerGroup
	consumerGroup string
	topics        []string

	out chan *model.ChangeEvent

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	recordsReceived   atomic.Int64
	errors            atomic.Int64
	consecutiveErrors atomic.Int32
	lastErr           atomic.Value // string
}

// New builds a Stream from a source configuration. Matches the
// connector.FactoryFunc signature so it can self-register in init.
func New(cfg config.SourceConfig) (model.Connector, error) {
	if cfg.Type != config.SourceTypeKafka {
		return nil, fmt.Errorf("kafkastream: invalid source type %s", cfg.Type)
	}

	group := "cdcsink-group"
	topics := []string{"events"}
	if cfg.Options != nil {
		if g, ok := cfg.Options["consumer_group"].(string); ok && g != "" {
			group = g
		}
		switch v := cfg.Options["topics"].(type) {
		case []interface{}:
			topics = make([]string, 0, len(v))
			for _, t := range v {
				if s, ok := t.(string); ok {
					topics = append(topics, s)
				}
			}
		case string:
			topics = strings.Split(v, ",")
			for i := range topics {
				topics[i] = strings.TrimSpace(topics[i])
			}
		}
	}

	return &Stream{
		cfg:           cfg,
		consumerGroup: group,
		topics:        topics,
		out:           make(chan *model.ChangeEvent, 256),
	}, nil
}

func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V2_6_0_0
	saramaCfg.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaCfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	if s.cfg.Username != "" && s.cfg.Password != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		saramaCfg.Net.SASL.User = s.cfg.Username
		saramaCfg.Net.SASL.Password = s.cfg.Password
	}
	if s.cfg.Options != nil {
		if useTLS, ok := s.cfg.Options["use_tls"].(bool); ok && useTLS {
			saramaCfg.Net.TLS.Enable = true
		}
	}

	brokers := []string{fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)}
	if s.cfg.Options != nil {
		if list, ok := s.cfg.Options["brokers"].([]interface{}); ok {
			brokers = make([]string, 0, len(list))
			for _, b := range list {
				if str, ok := b.(string); ok {
					brokers = append(brokers, str)
				}
			}
		}
	}

	consumer, err := sarama.NewConsumerGroup(brokers, s.consumerGroup, saramaCfg)
	if err != nil {
		return fmt.Errorf("kafkastream: create consumer group: %w", err)
	}

	s.consumer = consumer
	s.ctx, s.cancel = context.WithCancel(ctx)
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
	err := s.consumer.Close()
	s.connected = false
	return err
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Cleanup drops nothing for a consumer group (sarama owns offset commits via
// the broker); present to satisfy model.Cleanup for parity with connectors
// that do hold external resources.
func (s *Stream) Cleanup(ctx context.Context) error {
	return nil
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
			log.Error().Interface("panic", r).Str("consumer_group", s.consumerGroup).Msg("panic in kafka consumption")
		}
	}()

	handler := &claimHandler{stream: s}
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			if err := s.consumer.Consume(s.ctx, s.topics, handler); err != nil {
				s.recordError(err)
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}
	}
}

func (s *Stream) recordError(err error) {
	s.errors.Add(1)
	s.consecutiveErrors.Add(1)
	s.lastErr.Store(err.Error())
	log.Error().Err(err).Str("consumer_group", s.consumerGroup).Msg("kafka consumer error")
}

func (s *Stream) recordReceived() {
	s.recordsReceived.Add(1)
	s.consecutiveErrors.Store(0)
}

type claimHandler struct {
	stream *Stream
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-h.stream.ctx.Done():
			return nil
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.process(message); err != nil {
				h.stream.recordError(err)
				continue
			}
			session.MarkMessage(message, "")
			h.stream.recordReceived()
		}
	}
}

func (h *claimHandler) process(message *sarama.ConsumerMessage) error {
	var rec events.RecordEvent
	if events.IsDebeziumEnvelope(message.Value) {
		r, err := events.ParseDebezium(message.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", message.Topic).Msg("kafkastream: malformed debezium envelope, falling back to flat decode")
			rec = h.decodeFlat(message)
		} else {
			rec = r
			if rec.Schema == "" {
				rec.Schema = h.stream.cfg.Database
			}
			if rec.Collection == "" {
				rec.Collection = message.Topic
			}
		}
	} else {
		rec = h.decodeFlat(message)
	}

	if len(message.Headers) > 0 {
		rec.Metadata = make(map[string]string, len(message.Headers))
		for _, hd := range message.Headers {
			rec.Metadata[string(hd.Key)] = string(hd.Value)
		}
	}

	id := fmt.Sprintf("%s-%d-%d", message.Topic, message.Partition, message.Offset)
	ev, err := rec.ToChangeEvent(id, message.Timestamp)
	if err != nil {
		return err
	}

	select {
	case h.stream.out <- ev:
		return nil
	case <-h.stream.ctx.Done():
		return h.stream.ctx.Err()
	}
}

// decodeFlat handles the action/schema/collection/data dialect: a bare JSON
// object with those fields at the top level, the shape a connector emits
// when it isn't fronted by a Debezium-style CDC topic.
func (h *claimHandler) decodeFlat(message *sarama.ConsumerMessage) events.RecordEvent {
	var raw map[string]interface{}
	if err := json.Unmarshal(message.Value, &raw); err != nil {
		raw = map[string]interface{}{"value": string(message.Value)}
	}

	action := events.InsertAction
	if v, ok := raw["action"].(string); ok {
		action = v
	}
	schema := h.stream.cfg.Database
	if v, ok := raw["schema"].(string); ok {
		schema = v
	}
	collection := message.Topic
	if v, ok := raw["collection"].(string); ok {
		collection = v
	}

	data, err := json.Marshal(raw["data"])
	if err != nil {
		data = message.Value
	}

	return events.RecordEvent{
		Action:     action,
		Schema:     schema,
		Collection: collection,
		Data:       data,
	}
}
