package projection

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/settlement"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const watermarkName = "main"

// Hook is notified after an output has been committed to the projection
// tables. Cache invalidation and websocket fan-out hang off this.
type Hook interface {
	AfterApply(ctx context.Context, out core.CoreOutput)
}

// ProjectionWorker updates the read-side tables from applied commands.
// The core sends to it without blocking; if it falls behind, outputs are
// dropped and the tables can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	hooks     []Hook
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger, hooks ...Hook) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		hooks:     hooks,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence is the last sequence this worker applied.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("seq", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = output.Envelope.Sequence

			for _, h := range pw.hooks {
				h.AfterApply(ctx, output)
			}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, key := range sortedKeys(out.Balances) {
		if err := upsertBalance(ctx, tx, key.AccountPath(), out.Balances[key], seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	switch r := out.Result.(type) {
	case *settlement.EpochReport:
		if err := insertEpochSettlement(ctx, tx, seq, r, out.Envelope.Timestamp); err != nil {
			return fmt.Errorf("epoch projection: %w", err)
		}
		if r.Snapshot != nil {
			if err := insertExposure(ctx, tx, r.Snapshot); err != nil {
				return fmt.Errorf("exposure projection: %w", err)
			}
		}
	case *core.SnapshotResult:
		if r.Created {
			if err := insertExposure(ctx, tx, r.Snapshot); err != nil {
				return fmt.Errorf("exposure projection: %w", err)
			}
		}
	}

	for _, l := range out.Lapses {
		if err := insertLapse(ctx, tx, seq, l); err != nil {
			return fmt.Errorf("lapse projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

func sortedKeys(balances map[ledger.AccountKey]int64) []ledger.AccountKey {
	keys := make([]ledger.AccountKey, 0, len(balances))
	for key := range balances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].AccountPath() < keys[j].AccountPath() })
	return keys
}

// AccountColumns splits an account path into its scope, entity, sub-type
// and asset columns. External accounts have no entity.
func AccountColumns(path string) (scope, entity, subType, asset string) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return path, "", "", ""
	}
	scope = parts[0]
	subType = parts[len(parts)-2]
	asset = parts[len(parts)-1]
	if len(parts) == 4 {
		entity = parts[1]
	}
	if scope == "system" {
		entity = parts[1]
	}
	return scope, entity, subType, asset
}

func upsertBalance(ctx context.Context, tx *sql.Tx, path string, balance, seq int64) error {
	scope, entity, subType, asset := AccountColumns(path)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, scope, entity_id, sub_type, asset, balance, last_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = $6, last_seq = $7, updated_at = NOW()
		WHERE projections.balances.last_seq < $7
	`, path, scope, entity, subType, asset, balance, seq)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_seq = GREATEST(projections.watermark.last_seq, $2), updated_at = NOW()
	`, watermarkName, seq)
	return err
}
