package ingestion_test

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/settlement"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type memorySink struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     bool
}

func (s *memorySink) Publish(_ context.Context, subject string, _, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("bus down")
	}
	s.subjects = append(s.subjects, subject)
	s.payloads = append(s.payloads, data)
	return nil
}

func (s *memorySink) Name() string { return "memory" }
func (s *memorySink) Close() error { return nil }

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subjects)
}

func TestOutboundSubject(t *testing.T) {
	cat := uint32(4)
	if got := ingestion.OutboundSubject(ingestion.PublishableEvent{EventType: "SellerUpdatePremium", CategoryID: &cat}); got != "cover.events.seller_update_premium.4" {
		t.Errorf("got %q", got)
	}
	if got := ingestion.OutboundSubject(ingestion.PublishableEvent{EventType: "EpochSettle"}); got != "cover.events.epoch_settle" {
		t.Errorf("got %q", got)
	}
}

func TestOutboundPublisher_PublishesLapses(t *testing.T) {
	sink := &memorySink{}
	in := make(chan core.CoreOutput, 1)
	pub := ingestion.NewOutboundPublisher(sink, in, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	in <- core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       9,
			IdempotencyKey: "settle-3",
			EventType:      event.EventTypeEpochSettle,
			Timestamp:      time.UnixMicro(1),
		},
		Lapses: []settlement.Lapse{{BuyerID: uuid.New(), CategoryID: 2, Epoch: 3, Due: 50, Charged: 20}},
	}
	close(in)

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sink.count(); got != 2 {
		t.Fatalf("published: got %d, want 2", got)
	}
	if sink.subjects[1] != "cover.events.lapse.2" {
		t.Errorf("lapse subject: got %q", sink.subjects[1])
	}

	var evt ingestion.PublishableEvent
	if err := json.Unmarshal(sink.payloads[0], &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Sequence != 9 || evt.IdempotencyKey != "settle-3" {
		t.Errorf("got %+v", evt)
	}
}

func TestOutboundPublisher_ErrorsAreNotFatal(t *testing.T) {
	sink := &memorySink{fail: true}
	in := make(chan core.CoreOutput, 1)
	pub := ingestion.NewOutboundPublisher(sink, in, nil, zerolog.Nop())

	in <- core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 1, EventType: event.EventTypeFundBonus}}
	close(in)

	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}
