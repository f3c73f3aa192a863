package settlement

import (
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// PremiumDistribution reports one category's premium pool payout.
type PremiumDistribution struct {
	CategoryID state.CategoryID    `json:"category_id"`
	Epoch      int64               `json:"epoch"`
	Skipped    bool                `json:"skipped"`
	Pool       int64               `json:"pool"`    // pool balance before payout
	Paid       map[uuid.UUID]int64 `json:"paid"`    // per seller; empty for the guarantor
	Carried    int64               `json:"carried"` // left in the pool for next epoch
}

// SellerUpdateResult reports one SellerLedger.Update call.
type SellerUpdateResult struct {
	SellerID uuid.UUID `json:"seller_id"`
	Epoch    int64     `json:"epoch"`
	Skipped  bool      `json:"skipped"`
	Settled  int64     `json:"settled"`
}

// SellerLedger tracks seller collateral and baskets and pays out the
// seller share of earned premium.
type SellerLedger struct {
	book     *ledger.Book
	assets   Assets
	catalog  *state.AssetCatalog
	index    *state.CategoryIndex
	epochs   *EpochState
	accounts map[uuid.UUID]*state.SellerAccount
}

func NewSellerLedger(
	book *ledger.Book,
	assets Assets,
	catalog *state.AssetCatalog,
	index *state.CategoryIndex,
	epochs *EpochState,
) *SellerLedger {
	return &SellerLedger{
		book:     book,
		assets:   assets,
		catalog:  catalog,
		index:    index,
		epochs:   epochs,
		accounts: make(map[uuid.UUID]*state.SellerAccount),
	}
}

func (sl *SellerLedger) collateralKey(id uuid.UUID) ledger.AccountKey {
	return ledger.NewSellerAccountKey(id, ledger.SubTypeCollateral, sl.assets.Base)
}

func (sl *SellerLedger) accruedKey(id uuid.UUID) ledger.AccountKey {
	return ledger.NewSellerAccountKey(id, ledger.SubTypePremiumAccrued, sl.assets.Base)
}

func (sl *SellerLedger) account(id uuid.UUID) *state.SellerAccount {
	acct, ok := sl.accounts[id]
	if !ok {
		acct = state.NewSellerAccount(id)
		sl.accounts[id] = acct
	}
	return acct
}

// Deposit credits seller collateral. No epoch restriction; the next
// snapshot sees the new balance.
func (sl *SellerLedger) Deposit(sellerID uuid.UUID, amount int64) error {
	if err := checkAmount("deposit", amount); err != nil {
		return err
	}
	sl.account(sellerID)
	if _, err := sl.book.Deposit(sl.collateralKey(sellerID), amount); err != nil {
		return fmt.Errorf("seller %s deposit: %w", sellerID, err)
	}
	return nil
}

// Withdraw debits seller collateral. The current epoch's allocation is
// already frozen, so this only affects the next snapshot.
func (sl *SellerLedger) Withdraw(sellerID uuid.UUID, amount int64) error {
	if err := checkAmount("withdrawal", amount); err != nil {
		return err
	}
	if _, ok := sl.accounts[sellerID]; !ok {
		return fmt.Errorf("%w: seller %s", ErrUnknownAccount, sellerID)
	}
	if have := sl.Collateral(sellerID); have < amount {
		return fmt.Errorf("%w: seller %s has %d, requested %d", ErrInsufficientBalance, sellerID, have, amount)
	}
	if _, err := sl.book.Withdraw(sl.collateralKey(sellerID), amount); err != nil {
		return fmt.Errorf("seller %s withdrawal: %w", sellerID, err)
	}
	return nil
}

// ChangeBasket replaces the seller's basket wholesale and updates the
// category index.
func (sl *SellerLedger) ChangeBasket(sellerID uuid.UUID, categories []state.CategoryID) error {
	if err := sl.catalog.ValidateCategories(categories); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownCategory, err)
	}
	acct := sl.account(sellerID)
	for _, cat := range acct.Basket {
		sl.index.RemoveSeller(cat, sellerID)
	}
	acct.SetBasket(categories)
	for _, cat := range acct.Basket {
		sl.index.AddSeller(cat, sellerID)
	}
	return nil
}

// UpdatePremium pays the category's seller premium pool to sellers pro-rata
// by allocated collateral. Rounding dust stays in the pool. At most once
// per category per epoch.
func (sl *SellerLedger) UpdatePremium(cat state.CategoryID, now int64) (*PremiumDistribution, error) {
	snap, err := sl.epochs.Current(now)
	if err != nil {
		return nil, err
	}
	exp, ok := snap.Category(cat)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}

	result := &PremiumDistribution{CategoryID: cat, Epoch: snap.Epoch, Paid: map[uuid.UUID]int64{}}
	if sl.epochs.done(kindSellerPremium, categoryKey(cat), snap.Epoch) {
		result.Skipped = true
		return result, nil
	}

	pool := ledger.NewCategoryAccountKey(uint32(cat), ledger.SubTypeSellerPremium, sl.assets.Base)
	result.Pool = sl.book.Balance(pool)

	weights := exp.premiumWeights()
	w := make([]fpmath.Weight, 0, len(weights))
	for _, id := range sortedIDs(weights) {
		w = append(w, fpmath.Weight{ID: id, Weight: weights[id]})
	}
	shares, dust := fpmath.ProRataSplit(result.Pool, w)
	result.Carried = dust
	if len(shares) == 0 {
		result.Carried = result.Pool
	}

	legs := make([]ledger.Transfer, 0, len(shares))
	for _, share := range shares {
		id := uuid.UUID(share.ID)
		legs = append(legs, ledger.Transfer{
			Debit: sl.accruedKey(id), Credit: pool, Amount: share.Amount, Type: ledger.JournalTypePremiumDistribute,
		})
		result.Paid[id] = share.Amount
	}

	if _, err := sl.book.Post(legs...); err != nil {
		return nil, fmt.Errorf("category %d seller premium: %w", cat, err)
	}

	sl.epochs.mark(kindSellerPremium, categoryKey(cat), snap.Epoch)
	return result, nil
}

// Update settles the seller's accrued premium into collateral. At most once
// per seller per epoch.
func (sl *SellerLedger) Update(sellerID uuid.UUID, now int64) (*SellerUpdateResult, error) {
	snap, err := sl.epochs.Current(now)
	if err != nil {
		return nil, err
	}
	if _, ok := sl.accounts[sellerID]; !ok {
		return nil, fmt.Errorf("%w: seller %s", ErrUnknownAccount, sellerID)
	}

	result := &SellerUpdateResult{SellerID: sellerID, Epoch: snap.Epoch}
	if sl.epochs.done(kindSeller, sellerID.String(), snap.Epoch) {
		result.Skipped = true
		return result, nil
	}

	accrued := sl.book.Balance(sl.accruedKey(sellerID))
	if accrued > 0 {
		if _, err := sl.book.Post(ledger.Transfer{
			Debit: sl.collateralKey(sellerID), Credit: sl.accruedKey(sellerID), Amount: accrued, Type: ledger.JournalTypePremiumSettle,
		}); err != nil {
			return nil, fmt.Errorf("seller %s update: %w", sellerID, err)
		}
		result.Settled = accrued
	}

	sl.epochs.mark(kindSeller, sellerID.String(), snap.Epoch)
	return result, nil
}

// Collateral returns the seller's deposit balance.
func (sl *SellerLedger) Collateral(sellerID uuid.UUID) int64 {
	return sl.book.Tracker().SellerCollateral(sellerID, sl.assets.Base)
}

// PremiumAccrued returns premium paid out but not yet settled.
func (sl *SellerLedger) PremiumAccrued(sellerID uuid.UUID) int64 {
	return sl.book.Tracker().SellerPremiumAccrued(sellerID, sl.assets.Base)
}

func (sl *SellerLedger) Account(sellerID uuid.UUID) (*state.SellerAccount, bool) {
	acct, ok := sl.accounts[sellerID]
	return acct, ok
}

// IDs returns every seller in id order.
func (sl *SellerLedger) IDs() []uuid.UUID {
	m := make(map[uuid.UUID]int64, len(sl.accounts))
	for id := range sl.accounts {
		m[id] = 0
	}
	return sortedIDs(m)
}

func (sl *SellerLedger) restore(acct state.SellerAccount) {
	a := state.NewSellerAccount(acct.SellerID)
	a.SetBasket(acct.Basket)
	sl.accounts[acct.SellerID] = a
}
