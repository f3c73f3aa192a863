package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a projected row does not exist.
var ErrNotFound = errors.New("not found")

// Store reads the projection tables.
type Store interface {
	Watermark(ctx context.Context) (int64, error)
	PartyAccounts(ctx context.Context, scope, entityID string) ([]AccountBalance, error)
	EpochSettlement(ctx context.Context, epoch int64) (*EpochSettlement, error)
	RecentEpochs(ctx context.Context, limit int) ([]int64, error)
	Lapses(ctx context.Context, buyerID string, limit int) ([]LapseEntry, error)
	JournalHistory(ctx context.Context, accountPrefix string, limit int, beforeSeq *int64) ([]JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*IntegrityReport, error)
}

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_seq FROM projections.watermark WHERE projection_name = 'main'`).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (s *PostgresStore) PartyAccounts(ctx context.Context, scope, entityID string) ([]AccountBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_path, sub_type, asset, balance, last_seq
		FROM projections.balances
		WHERE scope = $1 AND entity_id = $2
		ORDER BY account_path
	`, scope, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountBalance
	for rows.Next() {
		var a AccountBalance
		if err := rows.Scan(&a.AccountPath, &a.SubType, &a.Asset, &a.Balance, &a.LastSeq); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EpochSettlement(ctx context.Context, epoch int64) (*EpochSettlement, error) {
	var e EpochSettlement
	err := s.pool.QueryRow(ctx, `
		SELECT epoch, sequence, snapshot_created, premium_charged, premium_held, premium_released,
		       seller_distributed, guarantor_distributed, seller_settled, bonus_accrued, bonus_shortfall,
		       lapses, failures, settled_at
		FROM projections.epoch_settlements WHERE epoch = $1
	`, epoch).Scan(
		&e.Epoch, &e.Sequence, &e.SnapshotCreated, &e.PremiumCharged, &e.PremiumHeld, &e.PremiumReleased,
		&e.SellerDistributed, &e.GuarantorDistributed, &e.SellerSettled, &e.BonusAccrued, &e.BonusShortfall,
		&e.Lapses, &e.Failures, &e.SettledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("epoch %d: %w", epoch, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get epoch %d: %w", epoch, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT category_id, has_guarantor, premium_rate, total_requested,
		       seller_allocated, guarantor_allocated, effective_covered
		FROM projections.category_exposure
		WHERE epoch = $1
		ORDER BY category_id
	`, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c  CategoryExposure
			id int64
		)
		if err := rows.Scan(&id, &c.HasGuarantor, &c.PremiumRate, &c.TotalRequested,
			&c.SellerAllocated, &c.GuarantorAllocated, &c.EffectiveCovered); err != nil {
			return nil, err
		}
		c.CategoryID = uint32(id)
		e.Categories = append(e.Categories, c)
	}
	return &e, rows.Err()
}

func (s *PostgresStore) RecentEpochs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT epoch FROM projections.epoch_settlements ORDER BY epoch DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var e int64
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Lapses(ctx context.Context, buyerID string, limit int) ([]LapseEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, buyer_id::TEXT, category_id, epoch, due, charged
		FROM projections.lapses
		WHERE buyer_id = $1::UUID
		ORDER BY epoch DESC, category_id
		LIMIT $2
	`, buyerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LapseEntry
	for rows.Next() {
		var (
			l   LapseEntry
			cat int64
		)
		if err := rows.Scan(&l.Sequence, &l.BuyerID, &cat, &l.Epoch, &l.Due, &l.Charged); err != nil {
			return nil, err
		}
		l.CategoryID = uint32(cat)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) JournalHistory(ctx context.Context, accountPrefix string, limit int, beforeSeq *int64) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id::TEXT, batch_id::TEXT, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix + "%"}
	argIdx := 2

	if beforeSeq != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSeq)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e       JournalHistoryEntry
			assetID int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.AssetID = uint16(assetID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity checks the hash chain, the per-asset zero sum and that no
// party account is negative.
func (s *PostgresStore) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.pool.Query(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT asset, SUM(balance)::BIGINT
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var u UnbalancedAsset
		if err := rows.Scan(&u.Asset, &u.Imbalance); err != nil {
			rows.Close()
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT account_path FROM projections.balances
		WHERE scope IN ('buyer', 'seller', 'guarantor') AND balance < 0
		ORDER BY account_path
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		report.NegativeAccounts = append(report.NegativeAccounts, path)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.NegativeAccounts) == 0
	return report, nil
}
