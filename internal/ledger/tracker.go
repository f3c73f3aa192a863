package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// revertJournal undoes ApplyJournal
func (bt *BalanceTracker) revertJournal(j Journal) {
	bt.balances[j.DebitAccount] -= j.Amount
	bt.balances[j.CreditAccount] += j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// RevertBatch undoes a previously applied batch, last journal first.
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for i := len(batch.Journals) - 1; i >= 0; i-- {
		bt.revertJournal(batch.Journals[i])
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// === Party balance queries ===

func (bt *BalanceTracker) BuyerBalance(buyerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewBuyerAccountKey(buyerID, SubTypeBalance, assetID))
}

func (bt *BalanceTracker) BuyerPendingRefund(buyerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewBuyerAccountKey(buyerID, SubTypePendingRefund, assetID))
}

func (bt *BalanceTracker) SellerCollateral(sellerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewSellerAccountKey(sellerID, SubTypeCollateral, assetID))
}

func (bt *BalanceTracker) SellerPremiumAccrued(sellerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewSellerAccountKey(sellerID, SubTypePremiumAccrued, assetID))
}

func (bt *BalanceTracker) GuarantorCollateral(assetID AssetID) int64 {
	return bt.GetBalance(NewGuarantorAccountKey(SubTypeCollateral, assetID))
}

// === Invariant Checks ===

// ValidateSufficient checks an account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Keys returns every tracked key ordered by account path.
func (bt *BalanceTracker) Keys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}
