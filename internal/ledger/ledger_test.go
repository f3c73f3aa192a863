package ledger_test

import (
	"CoverLedger/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

func usdc(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	return id
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_BuyerPath(t *testing.T) {
	buyerID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewBuyerAccountKey(buyerID, ledger.SubTypeBalance, usdc(t))

	path := key.AccountPath()
	expected := "buyer:550e8400-e29b-41d4-a716-446655440000:balance:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_CategoryPath(t *testing.T) {
	key := ledger.NewCategoryAccountKey(7, ledger.SubTypeSellerPremium, usdc(t))

	if path := key.AccountPath(); path != "category:7:seller_premium:USDC" {
		t.Errorf("got %q, want %q", path, "category:7:seller_premium:USDC")
	}
	if key.CategoryID() != 7 {
		t.Errorf("category id: got %d, want 7", key.CategoryID())
	}
}

func TestAccountKey_GuarantorAndExternalPaths(t *testing.T) {
	g := ledger.NewGuarantorAccountKey(ledger.SubTypeCollateral, usdc(t))
	if path := g.AccountPath(); path != "guarantor:pool:collateral:USDC" {
		t.Errorf("got %q", path)
	}

	e := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc(t))
	if path := e.AccountPath(); path != "external:deposits:USDC" {
		t.Errorf("got %q", path)
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	tidal, _ := ledger.GetAssetID("TIDAL")
	keys := []ledger.AccountKey{
		ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypePendingRefund, usdc(t)),
		ledger.NewSellerAccountKey(uuid.New(), ledger.SubTypeBonus, tidal),
		ledger.NewGuarantorAccountKey(ledger.SubTypeCollateral, usdc(t)),
		ledger.NewCategoryAccountKey(42, ledger.SubTypeGuarantorPremium, usdc(t)),
		ledger.NewSystemAccountKey("bonus_reserve", ledger.SubTypeBonusReserve, tidal),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, usdc(t)),
	}

	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", key.AccountPath(), err)
		}
		if parsed != key {
			t.Errorf("round trip mismatch for %q", key.AccountPath())
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{"", "buyer:x", "buyer:not-a-uuid:balance:USDC", "mars:1:balance:USDC", "buyer:550e8400-e29b-41d4-a716-446655440000:balance:DOGE"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_RejectsNonPositiveAndSelfTransfer(t *testing.T) {
	key := ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypeBalance, usdc(t))
	batchID := uuid.New()

	zero := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{{
		JournalID: uuid.New(), BatchID: batchID, AssetID: usdc(t), Amount: 0,
		DebitAccount: key, CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc(t)),
	}}}
	if err := zero.Validate(); err == nil {
		t.Error("expected error for zero amount")
	}

	self := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{{
		JournalID: uuid.New(), BatchID: batchID, AssetID: usdc(t), Amount: 10,
		DebitAccount: key, CreditAccount: key,
	}}}
	if err := self.Validate(); err == nil {
		t.Error("expected error for self transfer")
	}

	empty := &ledger.Batch{BatchID: batchID}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestBatch_RejectsMixedAssets(t *testing.T) {
	tidal, _ := ledger.GetAssetID("TIDAL")
	batchID := uuid.New()
	b := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		AssetID:       usdc(t),
		Amount:        10,
		DebitAccount:  ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypeBalance, usdc(t)),
		CreditAccount: ledger.NewSystemAccountKey("bonus_reserve", ledger.SubTypeBonusReserve, tidal),
	}}}
	if err := b.Validate(); err == nil {
		t.Error("expected error for mixed-asset journal")
	}
}

// ============================================================================
// Test: Book
// ============================================================================

func TestBook_DepositWithdrawZeroSum(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	buyer := ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypeBalance, usdc(t))

	book.Begin("cmd-1", 1000)
	if _, err := book.Deposit(buyer, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	book.Begin("cmd-2", 2000)
	if _, err := book.Withdraw(buyer, 30_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := book.Balance(buyer); got != 70_000 {
		t.Errorf("balance: got %d, want 70000", got)
	}
	if err := book.Validator().ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}

	batches := book.Drain()
	if len(batches) != 2 {
		t.Fatalf("drained %d batches, want 2", len(batches))
	}
	if batches[1].EventRef != "cmd-2" || batches[1].Timestamp != 2000 {
		t.Errorf("batch context not carried: ref=%s ts=%d", batches[1].EventRef, batches[1].Timestamp)
	}
	if len(book.Drain()) != 0 {
		t.Error("second drain should be empty")
	}
}

func TestBook_WithdrawInsufficient(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	seller := ledger.NewSellerAccountKey(uuid.New(), ledger.SubTypeCollateral, usdc(t))

	book.Begin("cmd-1", 1)
	if _, err := book.Withdraw(seller, 1); err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if got := book.Balance(seller); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
}

func TestBook_PostRejectsOverdraft(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	buyer := ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypeBalance, usdc(t))
	pool := ledger.NewCategoryAccountKey(1, ledger.SubTypeSellerPremium, usdc(t))

	book.Begin("cmd-1", 1)
	_, err := book.Post(ledger.Transfer{Debit: pool, Credit: buyer, Amount: 5, Type: ledger.JournalTypePremiumEarned})
	if err == nil {
		t.Fatal("expected overdraft to be rejected")
	}
	if book.Balance(buyer) != 0 || book.Balance(pool) != 0 {
		t.Error("rejected batch must leave balances untouched")
	}
}

func TestBook_PostSkipsZeroLegs(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	buyer := ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypeBalance, usdc(t))
	pool := ledger.NewCategoryAccountKey(1, ledger.SubTypeSellerPremium, usdc(t))

	book.Begin("cmd-1", 1)
	batch, err := book.Post(ledger.Transfer{Debit: pool, Credit: buyer, Amount: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch != nil {
		t.Error("all-zero legs should produce no batch")
	}
}

func TestBook_Rollback(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	buyer := ledger.NewBuyerAccountKey(uuid.New(), ledger.SubTypeBalance, usdc(t))
	pool := ledger.NewCategoryAccountKey(3, ledger.SubTypeSellerPremium, usdc(t))

	book.Begin("cmd-1", 1)
	book.Deposit(buyer, 1_000)
	book.Drain()

	mark := book.Begin("cmd-2", 2)
	if _, err := book.Post(ledger.Transfer{Debit: pool, Credit: buyer, Amount: 400, Type: ledger.JournalTypePremiumEarned}); err != nil {
		t.Fatalf("post: %v", err)
	}
	book.Rollback(mark)

	if got := book.Balance(buyer); got != 1_000 {
		t.Errorf("buyer after rollback: got %d, want 1000", got)
	}
	if got := book.Balance(pool); got != 0 {
		t.Errorf("pool after rollback: got %d, want 0", got)
	}
	if len(book.Drain()) != 0 {
		t.Error("rolled back batches must not be drained")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_SnapshotIsCopy(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewGuarantorAccountKey(ledger.SubTypeCollateral, usdc(t))
	bt.SetBalance(key, 10)

	snap := bt.Snapshot()
	snap[key] = 99

	if bt.GetBalance(key) != 10 {
		t.Error("mutating snapshot changed tracker")
	}
}

func TestBalanceTracker_KeysSorted(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.SetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc(t)), -5)
	bt.SetBalance(ledger.NewCategoryAccountKey(1, ledger.SubTypeSellerPremium, usdc(t)), 5)

	keys := bt.Keys()
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].Scope != ledger.AccountScopeCategory {
		t.Errorf("first key should be the category account, got %s", keys[0].AccountPath())
	}
}
