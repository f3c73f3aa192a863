package projection

import (
	"CoverLedger/internal/settlement"
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

func insertEpochSettlement(ctx context.Context, tx *sql.Tx, seq int64, r *settlement.EpochReport, settledAt time.Time) error {
	report, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.epoch_settlements
			(epoch, sequence, snapshot_created, premium_charged, premium_held, premium_released,
			 seller_distributed, guarantor_distributed, seller_settled, bonus_accrued, bonus_shortfall,
			 lapses, failures, report, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (epoch) DO UPDATE SET
			sequence = $2, snapshot_created = projections.epoch_settlements.snapshot_created OR $3,
			premium_charged = projections.epoch_settlements.premium_charged + $4,
			premium_held = projections.epoch_settlements.premium_held + $5,
			premium_released = projections.epoch_settlements.premium_released + $6,
			seller_distributed = projections.epoch_settlements.seller_distributed + $7,
			guarantor_distributed = projections.epoch_settlements.guarantor_distributed + $8,
			seller_settled = projections.epoch_settlements.seller_settled + $9,
			bonus_accrued = projections.epoch_settlements.bonus_accrued + $10,
			bonus_shortfall = projections.epoch_settlements.bonus_shortfall + $11,
			lapses = projections.epoch_settlements.lapses + $12,
			failures = projections.epoch_settlements.failures + $13,
			report = $14, settled_at = $15
		WHERE projections.epoch_settlements.sequence < $2
	`, r.Epoch, seq, r.SnapshotCreated, r.PremiumCharged, r.PremiumHeld, r.PremiumReleased,
		r.SellerDistributed, r.GuarantorDistributed, r.SellerSettled, r.BonusAccrued, r.BonusShortfall,
		r.Lapses, len(r.Failures), report, settledAt)
	return err
}

func insertExposure(ctx context.Context, tx *sql.Tx, snap *settlement.EpochExposureSnapshot) error {
	for _, id := range snap.CategoryIDs() {
		c := snap.Categories[id]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.category_exposure
				(epoch, category_id, has_guarantor, premium_rate, total_requested,
				 seller_allocated, guarantor_allocated, effective_covered)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (epoch, category_id) DO NOTHING
		`, snap.Epoch, int64(id), c.HasGuarantor, c.PremiumRate, c.TotalRequestedCoverage,
			c.SellerAllocatedCollateral, c.GuarantorAllocatedCollateral, c.EffectiveCoveredAmount); err != nil {
			return err
		}
	}
	return nil
}

func insertLapse(ctx context.Context, tx *sql.Tx, seq int64, l settlement.Lapse) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lapses (sequence, buyer_id, category_id, epoch, due, charged)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (buyer_id, category_id, epoch) DO NOTHING
	`, seq, l.BuyerID, int64(l.CategoryID), l.Epoch, l.Due, l.Charged)
	return err
}
