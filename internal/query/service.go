package query

import (
	fpmath "CoverLedger/internal/math"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultLimit = 100

// assetDecimals is the number of fractional digits of each asset's base unit.
var assetDecimals = map[string]int32{
	"USDC":  6,
	"USDT":  6,
	"TIDAL": 6,
}

// FormatAmount renders a base-unit amount in whole units.
func FormatAmount(amount int64, asset string) string {
	exp, ok := assetDecimals[asset]
	if !ok {
		exp = 6
	}
	return decimal.New(amount, -exp).String()
}

// FormatRatePercent renders a per-epoch rate scaled by RateScale as a
// percentage, e.g. 500 -> "0.05".
func FormatRatePercent(rate int64) string {
	return decimal.NewFromInt(rate).Div(decimal.NewFromInt(fpmath.RateScale)).Mul(decimal.NewFromInt(100)).String()
}

// QueryService provides read-only access to the projection tables. Every
// response carries as_of_sequence, the last command the projections applied.
type QueryService struct {
	store Store
}

func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// Buyer returns a buyer's deposit and pending refund accounts.
func (qs *QueryService) Buyer(ctx context.Context, buyerID uuid.UUID) (*PartyBalances, error) {
	return qs.party(ctx, "buyer", buyerID.String())
}

// Seller returns a seller's collateral, premium and bonus accounts.
func (qs *QueryService) Seller(ctx context.Context, sellerID uuid.UUID) (*PartyBalances, error) {
	return qs.party(ctx, "seller", sellerID.String())
}

// Guarantor returns the pooled guarantor's accounts.
func (qs *QueryService) Guarantor(ctx context.Context) (*PartyBalances, error) {
	return qs.party(ctx, "guarantor", "pool")
}

func (qs *QueryService) party(ctx context.Context, scope, entityID string) (*PartyBalances, error) {
	asOf, err := qs.store.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	accounts, err := qs.store.PartyAccounts(ctx, scope, entityID)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", scope, entityID, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%s %s: %w", scope, entityID, ErrNotFound)
	}
	for i := range accounts {
		accounts[i].Display = FormatAmount(accounts[i].Balance, accounts[i].Asset)
	}
	return &PartyBalances{
		Scope:        scope,
		EntityID:     entityID,
		Accounts:     accounts,
		AsOfSequence: asOf,
	}, nil
}

// Epoch returns a settled epoch's totals and exposure.
func (qs *QueryService) Epoch(ctx context.Context, epoch int64) (*EpochSettlement, error) {
	asOf, err := qs.store.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	e, err := qs.store.EpochSettlement(ctx, epoch)
	if err != nil {
		return nil, err
	}
	for i := range e.Categories {
		e.Categories[i].PremiumRatePercent = FormatRatePercent(e.Categories[i].PremiumRate)
	}
	e.AsOfSequence = asOf
	return e, nil
}

// RecentEpochs lists the most recently settled epochs, newest first.
func (qs *QueryService) RecentEpochs(ctx context.Context, limit int) ([]int64, error) {
	return qs.store.RecentEpochs(ctx, clampLimit(limit))
}

// Lapses returns a buyer's recorded underpayments, newest epoch first.
func (qs *QueryService) Lapses(ctx context.Context, buyerID uuid.UUID, limit int) ([]LapseEntry, error) {
	return qs.store.Lapses(ctx, buyerID.String(), clampLimit(limit))
}

// JournalHistory returns journal entries touching any account under the
// given scope and entity, newest first, paginated by sequence.
func (qs *QueryService) JournalHistory(ctx context.Context, scope, entityID string, limit int, beforeSeq *int64) ([]JournalHistoryEntry, error) {
	return qs.store.JournalHistory(ctx, scope+":"+entityID+":", clampLimit(limit), beforeSeq)
}

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	return qs.store.VerifyIntegrity(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}
