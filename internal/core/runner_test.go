package core_test

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/settlement"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestRunner_SubmitReturnsVerdict(t *testing.T) {
	c, _, _ := newTestCore(t)
	r := core.NewRunner(c, 16, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go r.Run(ctx)

	buyer := uuid.New()
	deposit := &event.BuyerDeposit{Meta: meta(1), BuyerID: buyer, Amount: 10}
	out, err := r.Submit(ctx, deposit)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if out.Duplicate() || out.Envelope.Sequence != 1 {
		t.Fatalf("deposit outcome: got %+v, want sequence 1", out.Envelope)
	}

	out, err = r.Submit(ctx, deposit)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !out.Duplicate() {
		t.Error("resubmitted deposit should be reported as duplicate")
	}

	_, err = r.Submit(ctx, &event.BuyerWithdraw{Meta: meta(2), BuyerID: buyer, Amount: 11})
	if !errors.Is(err, settlement.ErrInsufficientBalance) {
		t.Fatalf("withdraw: got %v, want ErrInsufficientBalance", err)
	}

	var balance int64
	if err := r.Read(ctx, func(c *core.DeterministicCore) {
		balance = c.Coordinator().Buyers().Balance(buyer)
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance: got %d, want 10", balance)
	}

	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Sequence != 1 {
		t.Errorf("snapshot sequence: got %d, want 1", snap.Sequence)
	}
}

func TestRunner_SubmitHonoursContext(t *testing.T) {
	c, _, _ := newTestCore(t)
	r := core.NewRunner(c, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Submit(ctx, &event.FundBonus{Meta: meta(1), Amount: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
