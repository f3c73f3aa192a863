package main

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoverCore restores the latest verified snapshot and replays the event
// log on top of it. Every replayed command must land on the sequence and
// state hash the log recorded for it.
func recoverCore(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	lruCapacity int,
	logger zerolog.Logger,
) error {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	fromSequence := int64(1)
	if snap != nil {
		st, err := snap.ToCoreState()
		if err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		if err := deterministicCore.RestoreFromSnapshot(st); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		fromSequence = snap.Sequence + 1
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	replayed, err := replayEventsFromLog(ctx, deterministicCore, snapMgr, fromSequence)
	if err != nil {
		return err
	}
	if replayed > 0 {
		logger.Info().
			Int64("replayed", replayed).
			Int64("next_sequence", deterministicCore.GetSequence()).
			Msg("event log replayed")
	}

	// Keys from before the snapshot, in case the snapshot's own LRU was
	// smaller than this process's.
	keys, err := snapMgr.LoadRecentKeys(ctx, lruCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("warm LRU from event log failed")
	} else if len(keys) > 0 {
		deterministicCore.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("warmed idempotency LRU")
	}
	return nil
}

func replayEventsFromLog(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	fromSequence int64,
) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			et, ok := event.ParseEventType(row.EventType)
			if !ok {
				return total, fmt.Errorf("seq %d: unknown event type %q", row.Sequence, row.EventType)
			}
			evt, err := event.DecodePayload(et, row.Payload)
			if err != nil {
				return total, fmt.Errorf("seq %d: %w", row.Sequence, err)
			}
			env, err := deterministicCore.ReplayEvent(evt)
			if err != nil {
				return total, fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}
			if env == nil {
				return total, fmt.Errorf("replay seq %d: %s %q already applied", row.Sequence, row.EventType, row.IdempotencyKey)
			}
			if env.Sequence != row.Sequence {
				return total, fmt.Errorf("replay seq %d: core assigned %d", row.Sequence, env.Sequence)
			}
			if !bytes.Equal(env.StateHash[:], row.StateHash) {
				return total, fmt.Errorf("replay seq %d: state hash mismatch, log %x, core %x", row.Sequence, row.StateHash, env.StateHash)
			}
			total++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}

// runPeriodicSnapshots snapshots every interval commands, checking every
// check period.
func runPeriodicSnapshots(
	ctx context.Context,
	runner *core.Runner,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	check time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	if interval <= 0 {
		interval = 100_000
	}
	if check <= 0 {
		check = 10 * time.Second
	}

	var lastSnapshotSeq int64
	if err := runner.Read(ctx, func(c *core.DeterministicCore) {
		lastSnapshotSeq = c.GetSequence() - 1
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var current int64
			if err := runner.Read(ctx, func(c *core.DeterministicCore) {
				current = c.GetSequence() - 1
			}); err != nil {
				return err
			}
			if current-lastSnapshotSeq < interval {
				continue
			}
			seq, err := takeSnapshot(ctx, runner, snapMgr, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = seq
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot captures the core between commands and persists it.
func takeSnapshot(ctx context.Context, runner *core.Runner, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics) (int64, error) {
	st, err := runner.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("capture snapshot: %w", err)
	}
	return saveSnapshot(ctx, st, snapMgr, metrics)
}

func saveSnapshot(ctx context.Context, st *core.SnapshotState, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics) (int64, error) {
	start := time.Now()
	data := persistence.FromCoreState(st, time.Now())

	size, err := snapMgr.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	// Taken from live state, so verified immediately.
	if err := snapMgr.MarkVerified(ctx, data.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot %d verified: %w", data.Sequence, err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	return data.Sequence, nil
}
