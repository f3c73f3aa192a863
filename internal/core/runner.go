package core

import (
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// Outcome is the core's verdict on one accepted command.
type Outcome struct {
	// Nil when the command id was already applied.
	Envelope *event.EventEnvelope
	Result   any
}

// Duplicate reports whether the command was skipped as already applied.
func (o Outcome) Duplicate() bool {
	return o.Envelope == nil
}

type verdict struct {
	outcome Outcome
	err     error
}

// submission is one command waiting for the core goroutine.
type submission struct {
	evt   event.Event
	reply chan verdict // nil for fire-and-forget
}

// Runner owns the DeterministicCore and serializes every access to it on a
// single goroutine. Ingestion, the HTTP API, the epoch ticker and the
// snapshotter all go through it.
type Runner struct {
	core   *DeterministicCore
	inbox  chan submission
	reads  chan func(*DeterministicCore)
	logger zerolog.Logger
}

func NewRunner(core *DeterministicCore, inboxSize int, logger zerolog.Logger) *Runner {
	return &Runner{
		core:   core,
		inbox:  make(chan submission, inboxSize),
		reads:  make(chan func(*DeterministicCore)),
		logger: logger,
	}
}

// Run processes submissions until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sub := <-r.inbox:
			out, err := r.core.Process(sub.evt)
			if err != nil {
				l := observability.ForCommand(r.logger, sub.evt.EventType().String(), sub.evt.IdempotencyKey())
				l.Warn().Err(err).Msg("command rejected")
			}
			if sub.reply != nil {
				v := verdict{err: err}
				if out != nil {
					v.outcome = Outcome{Envelope: out.Envelope, Result: out.Result}
				}
				sub.reply <- v
			}

		case fn := <-r.reads:
			fn(r.core)
		}
	}
}

// Submit queues evt and waits for the core's verdict.
func (r *Runner) Submit(ctx context.Context, evt event.Event) (Outcome, error) {
	reply := make(chan verdict, 1)
	select {
	case r.inbox <- submission{evt: evt, reply: reply}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v.outcome, v.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Enqueue queues evt without waiting for the result. It blocks while the
// inbox is full, which propagates backpressure to the caller.
func (r *Runner) Enqueue(ctx context.Context, evt event.Event) error {
	select {
	case r.inbox <- submission{evt: evt}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read runs fn on the core goroutine between commands.
func (r *Runner) Read(ctx context.Context, fn func(*DeterministicCore)) error {
	done := make(chan struct{})
	wrapped := func(c *DeterministicCore) {
		defer close(done)
		fn(c)
	}
	select {
	case r.reads <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Snapshot captures the core state between commands.
func (r *Runner) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := r.Read(ctx, func(c *DeterministicCore) {
		snap = c.CreateSnapshotState()
	}); err != nil {
		return nil, err
	}
	return snap, nil
}
