package settlement

import (
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// BonusParty selects which side of a category a bonus rate applies to.
type BonusParty uint8

const (
	BonusPartySeller BonusParty = iota
	BonusPartyGuarantor
)

func (p BonusParty) String() string {
	if p == BonusPartyGuarantor {
		return "guarantor"
	}
	return "seller"
}

// ParseBonusParty maps "seller" / "guarantor" to a BonusParty.
func ParseBonusParty(s string) (BonusParty, error) {
	switch s {
	case "seller", "":
		return BonusPartySeller, nil
	case "guarantor":
		return BonusPartyGuarantor, nil
	default:
		return 0, fmt.Errorf("unknown bonus party %q", s)
	}
}

// BonusResult reports one bonus update.
type BonusResult struct {
	CategoryID state.CategoryID    `json:"category_id"`
	Party      string              `json:"party"`
	Epoch      int64               `json:"epoch"`
	Skipped    bool                `json:"skipped"`
	Accrued    map[uuid.UUID]int64 `json:"accrued"` // guarantor pool keyed by uuid.Nil
	Shortfall  int64               `json:"shortfall"`
}

// Total returns the reward accrued in this update.
func (r *BonusResult) Total() int64 {
	var total int64
	for _, v := range r.Accrued {
		total += v
	}
	return total
}

// BonusDistributor accrues reward-token entitlement proportional to
// allocated collateral, paid out of a funded reserve.
type BonusDistributor struct {
	book           *ledger.Book
	assets         Assets
	catalog        *state.AssetCatalog
	epochs         *EpochState
	sellerRates    map[state.CategoryID]int64
	guarantorRates map[state.CategoryID]int64
}

func NewBonusDistributor(book *ledger.Book, assets Assets, catalog *state.AssetCatalog, epochs *EpochState) *BonusDistributor {
	return &BonusDistributor{
		book:           book,
		assets:         assets,
		catalog:        catalog,
		epochs:         epochs,
		sellerRates:    make(map[state.CategoryID]int64),
		guarantorRates: make(map[state.CategoryID]int64),
	}
}

func (bd *BonusDistributor) reserveKey() ledger.AccountKey {
	return ledger.NewSystemAccountKey("bonus_reserve", ledger.SubTypeBonusReserve, bd.assets.Reward)
}

func (bd *BonusDistributor) setRate(rates map[state.CategoryID]int64, cat state.CategoryID, rate int64) error {
	if !bd.catalog.Has(cat) {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}
	if err := state.ValidateRate(rate); err != nil {
		return fmt.Errorf("bonus rate for category %d: %w", cat, err)
	}
	rates[cat] = rate
	return nil
}

// SetBonusPerExposureUnit sets the seller bonus rate for a category.
// Takes effect at the next snapshot.
func (bd *BonusDistributor) SetBonusPerExposureUnit(cat state.CategoryID, rate int64) error {
	return bd.setRate(bd.sellerRates, cat, rate)
}

func (bd *BonusDistributor) SetGuarantorBonusPerExposureUnit(cat state.CategoryID, rate int64) error {
	return bd.setRate(bd.guarantorRates, cat, rate)
}

func (bd *BonusDistributor) SellerRate(cat state.CategoryID) int64 {
	return bd.sellerRates[cat]
}

func (bd *BonusDistributor) GuarantorRate(cat state.CategoryID) int64 {
	return bd.guarantorRates[cat]
}

// Fund credits the reward reserve from outside.
func (bd *BonusDistributor) Fund(amount int64) error {
	if err := checkAmount("fund", amount); err != nil {
		return err
	}
	if _, err := bd.book.Deposit(bd.reserveKey(), amount); err != nil {
		return fmt.Errorf("bonus fund: %w", err)
	}
	return nil
}

// Reserve returns the unallocated reward balance.
func (bd *BonusDistributor) Reserve() int64 {
	return bd.book.Balance(bd.reserveKey())
}

// SellerBonus returns a seller's accrued reward entitlement.
func (bd *BonusDistributor) SellerBonus(sellerID uuid.UUID) int64 {
	return bd.book.Balance(ledger.NewSellerAccountKey(sellerID, ledger.SubTypeBonus, bd.assets.Reward))
}

// GuarantorBonus returns the pool's accrued reward entitlement.
func (bd *BonusDistributor) GuarantorBonus() int64 {
	return bd.book.Balance(ledger.NewGuarantorAccountKey(ledger.SubTypeBonus, bd.assets.Reward))
}

// UpdateSellerBonus credits floor(allocation * rate / RateScale) to each
// seller allocated to the category, in seller id order, until the reserve
// runs out. At most once per category per epoch.
func (bd *BonusDistributor) UpdateSellerBonus(cat state.CategoryID, now int64) (*BonusResult, error) {
	snap, exp, result, err := bd.begin(cat, now, BonusPartySeller)
	if err != nil || result.Skipped {
		return result, err
	}

	reserve := bd.Reserve()
	legs := make([]ledger.Transfer, 0, len(exp.SellerAllocations))
	for _, id := range sortedIDs(exp.SellerAllocations) {
		due := fpmath.ComputeBonus(exp.SellerAllocations[id], exp.SellerBonusRate)
		paid := fpmath.Min64(due, reserve)
		result.Shortfall += due - paid
		if paid <= 0 {
			continue
		}
		reserve -= paid
		result.Accrued[id] = paid
		legs = append(legs, ledger.Transfer{
			Debit:  ledger.NewSellerAccountKey(id, ledger.SubTypeBonus, bd.assets.Reward),
			Credit: bd.reserveKey(), Amount: paid, Type: ledger.JournalTypeBonusAccrual,
		})
	}

	if _, err := bd.book.Post(legs...); err != nil {
		return nil, fmt.Errorf("category %d seller bonus: %w", cat, err)
	}
	bd.epochs.mark(kindSellerBonus, categoryKey(cat), snap.Epoch)
	return result, nil
}

// UpdateGuarantorBonus credits the pool for its allocation to the category.
// At most once per category per epoch.
func (bd *BonusDistributor) UpdateGuarantorBonus(cat state.CategoryID, now int64) (*BonusResult, error) {
	snap, exp, result, err := bd.begin(cat, now, BonusPartyGuarantor)
	if err != nil || result.Skipped {
		return result, err
	}

	due := fpmath.ComputeBonus(exp.GuarantorAllocatedCollateral, exp.GuarantorBonusRate)
	paid := fpmath.Min64(due, bd.Reserve())
	result.Shortfall = due - paid
	if paid > 0 {
		result.Accrued[ledger.GuarantorPoolID] = paid
		if _, err := bd.book.Post(ledger.Transfer{
			Debit:  ledger.NewGuarantorAccountKey(ledger.SubTypeBonus, bd.assets.Reward),
			Credit: bd.reserveKey(), Amount: paid, Type: ledger.JournalTypeBonusAccrual,
		}); err != nil {
			return nil, fmt.Errorf("category %d guarantor bonus: %w", cat, err)
		}
	}

	bd.epochs.mark(kindGuarantorBonus, categoryKey(cat), snap.Epoch)
	return result, nil
}

func (bd *BonusDistributor) begin(cat state.CategoryID, now int64, party BonusParty) (*EpochExposureSnapshot, *CategoryExposure, *BonusResult, error) {
	snap, err := bd.epochs.Current(now)
	if err != nil {
		return nil, nil, nil, err
	}
	exp, ok := snap.Category(cat)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}

	kind := kindSellerBonus
	if party == BonusPartyGuarantor {
		kind = kindGuarantorBonus
	}
	result := &BonusResult{
		CategoryID: cat,
		Party:      party.String(),
		Epoch:      snap.Epoch,
		Accrued:    map[uuid.UUID]int64{},
	}
	if bd.epochs.done(kind, categoryKey(cat), snap.Epoch) {
		result.Skipped = true
	}
	return snap, exp, result, nil
}

// rates returns copies of both rate tables (for state export)
func (bd *BonusDistributor) rates() (seller, guarantor map[state.CategoryID]int64) {
	seller = make(map[state.CategoryID]int64, len(bd.sellerRates))
	for k, v := range bd.sellerRates {
		seller[k] = v
	}
	guarantor = make(map[state.CategoryID]int64, len(bd.guarantorRates))
	for k, v := range bd.guarantorRates {
		guarantor[k] = v
	}
	return seller, guarantor
}
