package core

import (
	"CoverLedger/internal/event"
	"CoverLedger/internal/settlement"
	"CoverLedger/internal/state"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CommandSubmitter is the part of Runner the ticker needs.
type CommandSubmitter interface {
	Submit(ctx context.Context, evt event.Event) (Outcome, error)
}

// EpochTicker submits EpochSettle for the epoch containing each tick.
//
// The first attempt in an epoch uses command id epoch-settle-<epoch>, so
// once it applies, later ticks are deduplicated. A settle whose report
// lists per-account failures is resubmitted under
// epoch-settle-<epoch>-retry-<n> on the following ticks, at most
// maxRetries times. Parts that already settled are skipped by the
// coordinator, so a retry only re-runs what failed.
type EpochTicker struct {
	submitter  CommandSubmitter
	clock      state.EpochClock
	maxRetries int
	logger     zerolog.Logger

	epoch   int64
	attempt int
	done    bool
}

func NewEpochTicker(submitter CommandSubmitter, clock state.EpochClock, maxRetries int, logger zerolog.Logger) *EpochTicker {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &EpochTicker{
		submitter:  submitter,
		clock:      clock,
		maxRetries: maxRetries,
		logger:     logger,
		epoch:      -1,
	}
}

// CommandID returns the id the next tick in epoch would submit under.
func (t *EpochTicker) CommandID(epoch int64, attempt int) string {
	if attempt == 0 {
		return fmt.Sprintf("epoch-settle-%d", epoch)
	}
	return fmt.Sprintf("epoch-settle-%d-retry-%d", epoch, attempt)
}

// Tick settles the epoch containing now, unless it already settled cleanly
// or ran out of retries. A rejected command is resubmitted under the same
// id on the next tick.
func (t *EpochTicker) Tick(ctx context.Context, now time.Time) error {
	ts := now.UnixMicro()
	epoch := t.clock.EpochAt(ts)
	if epoch != t.epoch {
		t.epoch, t.attempt, t.done = epoch, 0, false
	}
	if t.done {
		return nil
	}

	cmd := &event.EpochSettle{Meta: event.Meta{
		CommandID: t.CommandID(epoch, t.attempt),
		Timestamp: ts,
	}}
	out, err := t.submitter.Submit(ctx, cmd)
	if err != nil {
		return fmt.Errorf("epoch %d settle: %w", epoch, err)
	}
	if out.Duplicate() {
		// Settled before a restart.
		t.done = true
		return nil
	}

	report, ok := out.Result.(*settlement.EpochReport)
	if !ok || len(report.Failures) == 0 {
		t.done = true
		return nil
	}
	if t.attempt >= t.maxRetries {
		t.logger.Error().
			Int64("epoch", epoch).
			Int("failures", len(report.Failures)).
			Int("attempts", t.attempt+1).
			Msg("epoch settle retries exhausted")
		t.done = true
		return nil
	}
	t.attempt++
	t.logger.Warn().
		Int64("epoch", epoch).
		Int("failures", len(report.Failures)).
		Int("next_attempt", t.attempt).
		Msg("epoch settled with failures, will retry")
	return nil
}

// Run ticks every interval until ctx is cancelled. interval <= 0 disables
// the ticker.
func (t *EpochTicker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		t.logger.Info().Msg("epoch ticker disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := t.Tick(ctx, now); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.logger.Warn().Err(err).Msg("epoch settle failed")
			}
		}
	}
}
