package ingestion

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/settlement"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// OutboundSubjectPrefix is where settled commands and lapses are published.
const OutboundSubjectPrefix = "cover.events"

// Sink is a message bus the outbound publisher writes to.
type Sink interface {
	Publish(ctx context.Context, subject string, key, data []byte) error
	Name() string
	Close() error
}

// PublishableEvent is a processed command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	CategoryID     *uint32     `json:"category_id,omitempty"`
	Result         interface{} `json:"result,omitempty"`
	StateHash      string      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// LapseNotice tells downstream consumers a buyer could not pay in full.
type LapseNotice struct {
	Sequence int64 `json:"sequence"`
	settlement.Lapse
}

// OutboundPublisher publishes applied commands after the core emitted them.
// Publishing is best effort; consumers can always read the event log.
type OutboundPublisher struct {
	sink      Sink
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(sink Sink, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		sink:      sink,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				if op.metrics != nil {
					op.metrics.PublishErrors.WithLabelValues(op.sink.Name()).Inc()
				}
				op.logger.Warn().Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

// ToPublishable converts a core output to its outbound form.
func ToPublishable(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		CategoryID:     env.CategoryID,
		Result:         out.Result,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// OutboundSubject builds cover.events.<command>[.<category>].
func OutboundSubject(evt PublishableEvent) string {
	subject := fmt.Sprintf("%s.%s", OutboundSubjectPrefix, SubjectToken(evt.EventType))
	if evt.CategoryID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *evt.CategoryID)
	}
	return subject
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	evt := ToPublishable(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := op.sink.Publish(ctx, OutboundSubject(evt), []byte(evt.IdempotencyKey), data); err != nil {
		return err
	}

	for _, lapse := range out.Lapses {
		data, err := json.Marshal(LapseNotice{Sequence: evt.Sequence, Lapse: lapse})
		if err != nil {
			return fmt.Errorf("marshal lapse: %w", err)
		}
		subject := fmt.Sprintf("%s.lapse.%d", OutboundSubjectPrefix, lapse.CategoryID)
		if err := op.sink.Publish(ctx, subject, []byte(lapse.BuyerID.String()), data); err != nil {
			return err
		}
	}
	return nil
}

// --- NATS JetStream ---

type NATSSink struct {
	js jetstream.JetStream
}

func NewNATSSink(js jetstream.JetStream) *NATSSink {
	return &NATSSink{js: js}
}

func (s *NATSSink) Publish(ctx context.Context, subject string, _, data []byte) error {
	_, err := s.js.Publish(ctx, subject, data)
	return err
}

func (s *NATSSink) Name() string { return "nats" }
func (s *NATSSink) Close() error { return nil }

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "COVER_EVENTS",
		Subjects:  []string{OutboundSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// --- Kafka ---

// KafkaSink writes every event to one topic; the subject travels as a
// header and the key keeps a command's messages on one partition.
type KafkaSink struct {
	writer *kafka.Writer
	Topic  string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer, Topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, subject string, key, data []byte) error {
	msg := kafka.Message{
		Key:     key,
		Value:   data,
		Headers: []kafka.Header{{Key: "subject", Value: []byte(subject)}},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
