package ingestion

import (
	"CoverLedger/internal/event"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds commands
// into the shell via eventChan. NATS JetStream is the primary ingestion
// surface; each command has its own subject.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the received-but-untyped command, ready for the shell to
// parse into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the core applied (or rejected) the command
	NakFunc   func() // NAK on transient failure (redelivered)
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// Command families. Each family is one stream.
const (
	FamilyAdmin     = "admin"
	FamilyFunds     = "funds"
	FamilyPositions = "positions"
	FamilyEpoch     = "epoch"
)

// FamilyOf returns the subject family a command is published under.
func FamilyOf(et event.EventType) string {
	switch {
	case et >= event.EventTypeSetAsset && et <= event.EventTypeFundBonus:
		return FamilyAdmin
	case et >= event.EventTypeBuyerDeposit && et <= event.EventTypeGuarantorWithdraw:
		return FamilyFunds
	case et == event.EventTypeSubscribe || et == event.EventTypeChangeBasket:
		return FamilyPositions
	default:
		return FamilyEpoch
	}
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// SubjectToken converts a command name to its subject token, e.g.
// "BuyerDeposit" -> "buyer_deposit".
func SubjectToken(name string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(name, "${1}_${2}"))
}

// SubjectFor returns cover.<family>.<name> for a command type.
func SubjectFor(et event.EventType) string {
	return fmt.Sprintf("cover.%s.%s", FamilyOf(et), SubjectToken(et.String()))
}

func streamName(family string) string {
	return "COVER_" + strings.ToUpper(family)
}

// DefaultSubjects returns one consumer per command type.
func DefaultSubjects() []SubjectConfig {
	types := event.EventTypes()
	out := make([]SubjectConfig, 0, len(types))
	for _, et := range types {
		out = append(out, SubjectConfig{
			Subject:      SubjectFor(et),
			EventType:    et.String(),
			ConsumerName: "ledger-" + strings.ReplaceAll(SubjectToken(et.String()), "_", "-"),
			StreamName:   streamName(FamilyOf(et)),
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates one file-backed stream per command family
// (retention=Limits, max_age=72h).
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for _, family := range []string{FamilyAdmin, FamilyFunds, FamilyPositions, FamilyEpoch} {
		cfg := jetstream.StreamConfig{
			Name:      streamName(family),
			Subjects:  []string{fmt.Sprintf("cover.%s.>", family)},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("coverledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
