package settlement

import (
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/state"
	"fmt"
)

// GuarantorLedger manages the single pooled backstop account.
type GuarantorLedger struct {
	book     *ledger.Book
	assets   Assets
	epochs   *EpochState
	coverage *state.GuarantorCoverage
}

func NewGuarantorLedger(book *ledger.Book, assets Assets, epochs *EpochState) *GuarantorLedger {
	return &GuarantorLedger{
		book:     book,
		assets:   assets,
		epochs:   epochs,
		coverage: state.NewGuarantorCoverage(),
	}
}

func (gl *GuarantorLedger) poolKey() ledger.AccountKey {
	return ledger.NewGuarantorAccountKey(ledger.SubTypeCollateral, gl.assets.Base)
}

func (gl *GuarantorLedger) Deposit(amount int64) error {
	if err := checkAmount("deposit", amount); err != nil {
		return err
	}
	if _, err := gl.book.Deposit(gl.poolKey(), amount); err != nil {
		return fmt.Errorf("guarantor deposit: %w", err)
	}
	return nil
}

func (gl *GuarantorLedger) Withdraw(amount int64) error {
	if err := checkAmount("withdrawal", amount); err != nil {
		return err
	}
	if have := gl.PoolBalance(); have < amount {
		return fmt.Errorf("%w: guarantor pool has %d, requested %d", ErrInsufficientBalance, have, amount)
	}
	if _, err := gl.book.Withdraw(gl.poolKey(), amount); err != nil {
		return fmt.Errorf("guarantor withdrawal: %w", err)
	}
	return nil
}

// PoolBalance returns the pooled guarantor deposit.
func (gl *GuarantorLedger) PoolBalance() int64 {
	return gl.book.Tracker().GuarantorCollateral(gl.assets.Base)
}

// Allocate returns the collateral the pool backs for one category:
// min(available, deficit) when the category has a guarantor, else 0.
// available is what earlier categories of the same snapshot left of the
// pool.
func (gl *GuarantorLedger) Allocate(hasGuarantor bool, available, totalRequested, sellerAllocated int64) int64 {
	deficit := gl.coverage.Deficit(totalRequested, sellerAllocated)
	covered, _ := gl.coverage.ComputeCoverage(available, deficit, hasGuarantor)
	return covered
}

// UpdatePremium moves the category's earned guarantor premium into the pool.
// At most once per category per epoch.
func (gl *GuarantorLedger) UpdatePremium(cat state.CategoryID, now int64) (*PremiumDistribution, error) {
	snap, err := gl.epochs.Current(now)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Category(cat); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}

	result := &PremiumDistribution{CategoryID: cat, Epoch: snap.Epoch}
	if gl.epochs.done(kindGuarantorPremium, categoryKey(cat), snap.Epoch) {
		result.Skipped = true
		return result, nil
	}

	pool := ledger.NewCategoryAccountKey(uint32(cat), ledger.SubTypeGuarantorPremium, gl.assets.Base)
	result.Pool = gl.book.Balance(pool)
	if _, err := gl.book.Post(ledger.Transfer{
		Debit: gl.poolKey(), Credit: pool, Amount: result.Pool, Type: ledger.JournalTypeGuarantorPremium,
	}); err != nil {
		return nil, fmt.Errorf("category %d guarantor premium: %w", cat, err)
	}

	gl.epochs.mark(kindGuarantorPremium, categoryKey(cat), snap.Epoch)
	return result, nil
}
