package projection

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/settlement"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LapsesOf derives the lapse notices of a buyer update from its charge lines.
func LapsesOf(r *settlement.BuyerUpdateResult) []settlement.Lapse {
	var out []settlement.Lapse
	for _, line := range r.Lines {
		if line.Charged < line.Due {
			out = append(out, settlement.Lapse{
				BuyerID:    r.BuyerID,
				CategoryID: line.CategoryID,
				Epoch:      r.Epoch,
				Due:        line.Due,
				Charged:    line.Charged,
			})
		}
	}
	return out
}

// RebuildProjections truncates every projection table and rebuilds it from
// event_log. Balances come from the journal; epoch rows, exposure and
// lapses come from the stored settlement results.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	truncate := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.epoch_settlements`,
		`TRUNCATE projections.category_exposure`,
		`TRUNCATE projections.lapses`,
		`DELETE FROM projections.watermark WHERE projection_name = 'main'`,
	}
	for _, stmt := range truncate {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	balances, err := rebuildBalances(ctx, tx)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}
	results, lastSeq, err := rebuildSettlements(ctx, tx)
	if err != nil {
		return fmt.Errorf("rebuild settlements: %w", err)
	}
	if lastSeq > 0 {
		if err := setWatermark(ctx, tx, lastSeq); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().
		Int("accounts", balances).
		Int("settlement_results", results).
		Int64("last_seq", lastSeq).
		Msg("projection rebuild complete")
	return nil
}

// rebuildBalances sums journals the way BalanceTracker applies them: the
// debit account increases, the credit account decreases.
func rebuildBalances(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT account, SUM(delta), MAX(sequence) FROM (
			SELECT debit_account AS account, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account, -amount AS delta, sequence FROM event_log.journal
		) moves
		GROUP BY account
		ORDER BY account
	`)
	if err != nil {
		return 0, err
	}

	type row struct {
		path    string
		balance int64
		seq     int64
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.path, &r.balance, &r.seq); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range all {
		if err := upsertBalance(ctx, tx, r.path, r.balance, r.seq); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

func rebuildSettlements(ctx context.Context, tx *sql.Tx) (int, int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, event_type, result, timestamp FROM event_log.events
		WHERE result IS NOT NULL AND event_type IN ('EpochSettle', 'BeforeUpdate', 'BuyerUpdate')
		ORDER BY sequence ASC
	`)
	if err != nil {
		return 0, 0, err
	}

	type stored struct {
		seq       int64
		eventType string
		result    []byte
		ts        time.Time
	}
	var all []stored
	for rows.Next() {
		var s stored
		if err := rows.Scan(&s.seq, &s.eventType, &s.result, &s.ts); err != nil {
			rows.Close()
			return 0, 0, err
		}
		all = append(all, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	var lastSeq int64
	for _, s := range all {
		lastSeq = s.seq
		switch s.eventType {
		case "EpochSettle":
			var r settlement.EpochReport
			if err := json.Unmarshal(s.result, &r); err != nil {
				return 0, 0, fmt.Errorf("decode report seq=%d: %w", s.seq, err)
			}
			if err := insertEpochSettlement(ctx, tx, s.seq, &r, s.ts); err != nil {
				return 0, 0, err
			}
			if r.Snapshot != nil {
				if err := insertExposure(ctx, tx, r.Snapshot); err != nil {
					return 0, 0, err
				}
			}
			for _, b := range r.Buyers {
				for _, l := range LapsesOf(b) {
					if err := insertLapse(ctx, tx, s.seq, l); err != nil {
						return 0, 0, err
					}
				}
			}
		case "BeforeUpdate":
			var r core.SnapshotResult
			if err := json.Unmarshal(s.result, &r); err != nil {
				return 0, 0, fmt.Errorf("decode snapshot seq=%d: %w", s.seq, err)
			}
			if r.Created && r.Snapshot != nil {
				if err := insertExposure(ctx, tx, r.Snapshot); err != nil {
					return 0, 0, err
				}
			}
		case "BuyerUpdate":
			var r settlement.BuyerUpdateResult
			if err := json.Unmarshal(s.result, &r); err != nil {
				return 0, 0, fmt.Errorf("decode buyer update seq=%d: %w", s.seq, err)
			}
			for _, l := range LapsesOf(&r) {
				if err := insertLapse(ctx, tx, s.seq, l); err != nil {
					return 0, 0, err
				}
			}
		}
	}
	return len(all), lastSeq, nil
}
