package settlement

import (
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ChargeLine is one category's premium settlement for one buyer.
type ChargeLine struct {
	CategoryID    state.CategoryID `json:"category_id"`
	Requested     int64            `json:"requested"`
	Due           int64            `json:"due"`     // full weekly premium
	Charged       int64            `json:"charged"` // Due clamped to balance
	SellerPart    int64            `json:"seller_part"`
	GuarantorPart int64            `json:"guarantor_part"`
	Refundable    int64            `json:"refundable"` // held until next update
}

// BuyerUpdateResult reports one BuyerLedger.Update call.
type BuyerUpdateResult struct {
	BuyerID  uuid.UUID    `json:"buyer_id"`
	Epoch    int64        `json:"epoch"`
	Skipped  bool         `json:"skipped"`
	Released int64        `json:"released"`
	Lines    []ChargeLine `json:"lines"`
	Lapsed   bool         `json:"lapsed"`
}

// Charged returns the total debited from the buyer this update.
func (r *BuyerUpdateResult) Charged() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.Charged
	}
	return total
}

// Lapse signals a buyer whose balance could not cover the full premium.
type Lapse struct {
	BuyerID    uuid.UUID        `json:"buyer_id"`
	CategoryID state.CategoryID `json:"category_id"`
	Epoch      int64            `json:"epoch"`
	Due        int64            `json:"due"`
	Charged    int64            `json:"charged"`
}

// BuyerLedger tracks buyer balances and subscriptions and settles premiums.
type BuyerLedger struct {
	book     *ledger.Book
	assets   Assets
	catalog  *state.AssetCatalog
	index    *state.CategoryIndex
	epochs   *EpochState
	accounts map[uuid.UUID]*state.BuyerAccount
	lapses   []Lapse
}

func NewBuyerLedger(
	book *ledger.Book,
	assets Assets,
	catalog *state.AssetCatalog,
	index *state.CategoryIndex,
	epochs *EpochState,
) *BuyerLedger {
	return &BuyerLedger{
		book:     book,
		assets:   assets,
		catalog:  catalog,
		index:    index,
		epochs:   epochs,
		accounts: make(map[uuid.UUID]*state.BuyerAccount),
	}
}

func (bl *BuyerLedger) balanceKey(id uuid.UUID) ledger.AccountKey {
	return ledger.NewBuyerAccountKey(id, ledger.SubTypeBalance, bl.assets.Base)
}

func (bl *BuyerLedger) refundKey(id uuid.UUID) ledger.AccountKey {
	return ledger.NewBuyerAccountKey(id, ledger.SubTypePendingRefund, bl.assets.Base)
}

func (bl *BuyerLedger) account(id uuid.UUID) *state.BuyerAccount {
	acct, ok := bl.accounts[id]
	if !ok {
		acct = state.NewBuyerAccount(id)
		bl.accounts[id] = acct
	}
	return acct
}

// Deposit credits the buyer's balance, creating the account on first use.
func (bl *BuyerLedger) Deposit(buyerID uuid.UUID, amount int64) error {
	if err := checkAmount("deposit", amount); err != nil {
		return err
	}
	bl.account(buyerID)
	if _, err := bl.book.Deposit(bl.balanceKey(buyerID), amount); err != nil {
		return fmt.Errorf("buyer %s deposit: %w", buyerID, err)
	}
	return nil
}

// Withdraw debits the buyer's balance. Pending refunds are not withdrawable
// until the next update releases them.
func (bl *BuyerLedger) Withdraw(buyerID uuid.UUID, amount int64) error {
	if err := checkAmount("withdrawal", amount); err != nil {
		return err
	}
	if _, ok := bl.accounts[buyerID]; !ok {
		return fmt.Errorf("%w: buyer %s", ErrUnknownAccount, buyerID)
	}
	if have := bl.Balance(buyerID); have < amount {
		return fmt.Errorf("%w: buyer %s has %d, requested %d", ErrInsufficientBalance, buyerID, have, amount)
	}
	if _, err := bl.book.Withdraw(bl.balanceKey(buyerID), amount); err != nil {
		return fmt.Errorf("buyer %s withdrawal: %w", buyerID, err)
	}
	return nil
}

// Subscribe sets or replaces requested coverage for a category; 0 removes
// the subscription. Takes effect at the next snapshot.
func (bl *BuyerLedger) Subscribe(buyerID uuid.UUID, cat state.CategoryID, coverage int64) error {
	if coverage < 0 || coverage > fpmath.MaxAmount {
		return fmt.Errorf("%w: coverage %d", ErrInvalidAmount, coverage)
	}
	if !bl.catalog.Has(cat) {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}
	acct := bl.account(buyerID)
	acct.SetSubscription(cat, coverage)
	if coverage == 0 {
		bl.index.RemoveBuyer(cat, buyerID)
	} else {
		bl.index.AddBuyer(cat, buyerID)
	}
	return nil
}

// Update settles the buyer for the current epoch:
//  1. release last update's uncovered premium back to the balance
//  2. charge the full weekly premium per subscribed category, clamped to balance
//  3. route the covered part to the category premium pools and hold the
//     uncovered part as a pending refund
//
// A second call in the same epoch is a no-op.
func (bl *BuyerLedger) Update(buyerID uuid.UUID, now int64) (*BuyerUpdateResult, error) {
	snap, err := bl.epochs.Current(now)
	if err != nil {
		return nil, err
	}
	if _, ok := bl.accounts[buyerID]; !ok {
		return nil, fmt.Errorf("%w: buyer %s", ErrUnknownAccount, buyerID)
	}

	result := &BuyerUpdateResult{BuyerID: buyerID, Epoch: snap.Epoch}
	if bl.epochs.done(kindBuyer, buyerID.String(), snap.Epoch) {
		result.Skipped = true
		return result, nil
	}

	balanceKey := bl.balanceKey(buyerID)
	refundKey := bl.refundKey(buyerID)

	legs := make([]ledger.Transfer, 0, 8)

	released := bl.book.Balance(refundKey)
	if released > 0 {
		legs = append(legs, ledger.Transfer{
			Debit: balanceKey, Credit: refundKey, Amount: released, Type: ledger.JournalTypePremiumRefundRelease,
		})
		result.Released = released
	}

	available := bl.book.Balance(balanceKey) + released
	var lapses []Lapse

	for _, cat := range snap.CategoryIDs() {
		exp := snap.Categories[cat]
		requested, ok := exp.BuyerRequests[buyerID]
		if !ok || requested <= 0 {
			continue
		}

		due := fpmath.ComputePremiumCharge(requested, exp.PremiumRate)
		charged := fpmath.Min64(due, available)
		if charged < 0 {
			charged = 0
		}
		if charged < due {
			result.Lapsed = true
			lapses = append(lapses, Lapse{BuyerID: buyerID, CategoryID: cat, Epoch: snap.Epoch, Due: due, Charged: charged})
		}

		earned := fpmath.ComputeEarnedPremium(charged, exp.EffectiveCoveredAmount, exp.TotalRequestedCoverage)
		sellerPart, guarantorPart := fpmath.SplitEarnedPremium(earned, exp.SellerAllocatedCollateral, exp.GuarantorAllocatedCollateral)
		refundable := charged - earned
		available -= charged

		line := ChargeLine{
			CategoryID:    cat,
			Requested:     requested,
			Due:           due,
			Charged:       charged,
			SellerPart:    sellerPart,
			GuarantorPart: guarantorPart,
			Refundable:    refundable,
		}
		result.Lines = append(result.Lines, line)

		legs = append(legs,
			ledger.Transfer{
				Debit:  ledger.NewCategoryAccountKey(uint32(cat), ledger.SubTypeSellerPremium, bl.assets.Base),
				Credit: balanceKey, Amount: sellerPart, Type: ledger.JournalTypePremiumEarned,
			},
			ledger.Transfer{
				Debit:  ledger.NewCategoryAccountKey(uint32(cat), ledger.SubTypeGuarantorPremium, bl.assets.Base),
				Credit: balanceKey, Amount: guarantorPart, Type: ledger.JournalTypePremiumEarned,
			},
			ledger.Transfer{
				Debit: refundKey, Credit: balanceKey, Amount: refundable, Type: ledger.JournalTypePremiumRefundHold,
			},
		)
	}

	if _, err := bl.book.Post(legs...); err != nil {
		return nil, fmt.Errorf("buyer %s update: %w", buyerID, err)
	}

	bl.epochs.mark(kindBuyer, buyerID.String(), snap.Epoch)
	bl.lapses = append(bl.lapses, lapses...)
	return result, nil
}

// Balance returns the buyer's deposit balance.
func (bl *BuyerLedger) Balance(buyerID uuid.UUID) int64 {
	return bl.book.Tracker().BuyerBalance(buyerID, bl.assets.Base)
}

// PendingRefund returns premium held for release at the next update.
func (bl *BuyerLedger) PendingRefund(buyerID uuid.UUID) int64 {
	return bl.book.Tracker().BuyerPendingRefund(buyerID, bl.assets.Base)
}

func (bl *BuyerLedger) Account(buyerID uuid.UUID) (*state.BuyerAccount, bool) {
	acct, ok := bl.accounts[buyerID]
	return acct, ok
}

// IDs returns every buyer in id order.
func (bl *BuyerLedger) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(bl.accounts))
	for id := range bl.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// DrainLapses returns lapse signals raised since the last drain.
func (bl *BuyerLedger) DrainLapses() []Lapse {
	out := bl.lapses
	bl.lapses = nil
	return out
}

func (bl *BuyerLedger) restore(acct state.BuyerAccount) {
	a := state.NewBuyerAccount(acct.BuyerID)
	for _, cat := range acct.Categories() {
		a.SetSubscription(cat, acct.Subscriptions[cat])
	}
	bl.accounts[acct.BuyerID] = a
}
