package query_test

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/query"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// memoryStore is an in-memory Store for tests.
type memoryStore struct {
	watermark  int64
	accounts   map[string][]query.AccountBalance // "scope:entity" -> accounts
	epochs     map[int64]*query.EpochSettlement
	partyCalls int
	lastPrefix string
	lastLimit  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string][]query.AccountBalance),
		epochs:   make(map[int64]*query.EpochSettlement),
	}
}

func (m *memoryStore) Watermark(context.Context) (int64, error) { return m.watermark, nil }

func (m *memoryStore) PartyAccounts(_ context.Context, scope, entityID string) ([]query.AccountBalance, error) {
	m.partyCalls++
	src := m.accounts[scope+":"+entityID]
	return append([]query.AccountBalance(nil), src...), nil
}

func (m *memoryStore) EpochSettlement(_ context.Context, epoch int64) (*query.EpochSettlement, error) {
	e, ok := m.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("epoch %d: %w", epoch, query.ErrNotFound)
	}
	cp := *e
	cp.Categories = append([]query.CategoryExposure(nil), e.Categories...)
	return &cp, nil
}

func (m *memoryStore) RecentEpochs(_ context.Context, limit int) ([]int64, error) {
	m.lastLimit = limit
	return nil, nil
}

func (m *memoryStore) Lapses(context.Context, string, int) ([]query.LapseEntry, error) {
	return nil, nil
}

func (m *memoryStore) JournalHistory(_ context.Context, prefix string, limit int, _ *int64) ([]query.JournalHistoryEntry, error) {
	m.lastPrefix = prefix
	m.lastLimit = limit
	return nil, nil
}

func (m *memoryStore) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

// ============================================================================
// Test: formatting
// ============================================================================

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount int64
		asset  string
		want   string
	}{
		{99950, "USDC", "0.09995"},
		{80040000000, "USDC", "80040"},
		{0, "TIDAL", "0"},
		{-5, "USDC", "-0.000005"},
	}
	for _, tc := range tests {
		if got := query.FormatAmount(tc.amount, tc.asset); got != tc.want {
			t.Errorf("FormatAmount(%d, %s): got %q, want %q", tc.amount, tc.asset, got, tc.want)
		}
	}
}

func TestFormatRatePercent(t *testing.T) {
	if got := query.FormatRatePercent(500); got != "0.05" {
		t.Errorf("got %q, want 0.05", got)
	}
	if got := query.FormatRatePercent(10000); got != "1" {
		t.Errorf("got %q, want 1", got)
	}
}

// ============================================================================
// Test: service
// ============================================================================

func TestQueryService_Buyer(t *testing.T) {
	store := newMemoryStore()
	store.watermark = 8
	buyer := uuid.New()
	store.accounts["buyer:"+buyer.String()] = []query.AccountBalance{
		{AccountPath: "buyer:" + buyer.String() + ":balance:USDC", SubType: "balance", Asset: "USDC", Balance: 99950},
		{AccountPath: "buyer:" + buyer.String() + ":pending_refund:USDC", SubType: "pending_refund", Asset: "USDC", Balance: 10},
	}
	svc := query.NewQueryService(store)

	got, err := svc.Buyer(context.Background(), buyer)
	if err != nil {
		t.Fatalf("buyer: %v", err)
	}
	if got.AsOfSequence != 8 {
		t.Errorf("as of: got %d, want 8", got.AsOfSequence)
	}
	if got.Get("balance") != 99950 || got.Get("pending_refund") != 10 {
		t.Errorf("balances: got %+v", got.Accounts)
	}
	if got.Accounts[0].Display != "0.09995" {
		t.Errorf("display: got %q", got.Accounts[0].Display)
	}
}

func TestQueryService_UnknownPartyNotFound(t *testing.T) {
	svc := query.NewQueryService(newMemoryStore())
	_, err := svc.Seller(context.Background(), uuid.New())
	if !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestQueryService_EpochRatePercent(t *testing.T) {
	store := newMemoryStore()
	store.epochs[3] = &query.EpochSettlement{
		Epoch:      3,
		Categories: []query.CategoryExposure{{CategoryID: 1, PremiumRate: 500}},
	}
	svc := query.NewQueryService(store)

	e, err := svc.Epoch(context.Background(), 3)
	if err != nil {
		t.Fatalf("epoch: %v", err)
	}
	if e.Categories[0].PremiumRatePercent != "0.05" {
		t.Errorf("rate: got %q", e.Categories[0].PremiumRatePercent)
	}
	if _, err := svc.Epoch(context.Background(), 4); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("missing epoch: got %v, want ErrNotFound", err)
	}
}

func TestQueryService_JournalHistoryPrefixAndLimit(t *testing.T) {
	store := newMemoryStore()
	svc := query.NewQueryService(store)

	if _, err := svc.JournalHistory(context.Background(), "seller", "abc", 0, nil); err != nil {
		t.Fatalf("history: %v", err)
	}
	if store.lastPrefix != "seller:abc:" {
		t.Errorf("prefix: got %q", store.lastPrefix)
	}
	if store.lastLimit != 100 {
		t.Errorf("limit: got %d, want 100", store.lastLimit)
	}
}

// ============================================================================
// Test: cache
// ============================================================================

func TestTouchedPartyKeys(t *testing.T) {
	buyer := uuid.New()
	usdc, _ := ledger.GetAssetID("USDC")
	balances := make(map[ledger.AccountKey]int64)
	balances[ledger.NewBuyerAccountKey(buyer, ledger.SubTypeBalance, usdc)] = 1
	balances[ledger.NewBuyerAccountKey(buyer, ledger.SubTypePendingRefund, usdc)] = 2
	balances[ledger.NewGuarantorAccountKey(ledger.SubTypeCollateral, usdc)] = 3
	balances[ledger.NewCategoryAccountKey(1, ledger.SubTypeSellerPremium, usdc)] = 4
	balances[ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc)] = 5
	keys := query.TouchedPartyKeys(balances)
	want := map[string]bool{
		query.PartyKey("buyer", buyer.String()): true,
		query.PartyKey("guarantor", "pool"):     true,
	}
	if len(keys) != len(want) {
		t.Fatalf("keys: got %v", keys)
	}
	for _, k := range keys {
		if !want[k] {
			t.Errorf("unexpected key %s", k)
		}
	}
}

func TestCachedStore_FallsBackWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	store := newMemoryStore()
	seller := uuid.New()
	store.accounts["seller:"+seller.String()] = []query.AccountBalance{
		{SubType: "collateral", Asset: "USDC", Balance: 80040},
	}

	var misses int
	cached := query.NewCachedStore(store, rdb, time.Minute, zerolog.Nop())
	cached.OnLookup(func(hit bool) {
		if !hit {
			misses++
		}
	})

	svc := query.NewQueryService(cached)
	got, err := svc.Seller(context.Background(), seller)
	if err != nil {
		t.Fatalf("seller: %v", err)
	}
	if got.Get("collateral") != 80040 {
		t.Errorf("collateral: got %d, want 80040", got.Get("collateral"))
	}
	if store.partyCalls != 1 || misses != 1 {
		t.Errorf("primary calls=%d misses=%d, want 1/1", store.partyCalls, misses)
	}

	// Invalidation with Redis down only logs.
	cached.AfterApply(context.Background(), core.CoreOutput{})
}
