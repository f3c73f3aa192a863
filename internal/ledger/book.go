package ledger

import (
	"fmt"
)

// Book is the posting surface the settlement components write through.
// Every posted batch is validated and applied immediately so later legs of
// the same command see updated balances. Posted batches accumulate until
// the core drains them, and can be rolled back to a mark if the command
// fails part way.
type Book struct {
	tracker   *BalanceTracker
	generator *JournalGenerator
	validator *InvariantValidator

	eventRef  string
	timestamp int64
	posted    []*Batch
}

func NewBook(tracker *BalanceTracker) *Book {
	return &Book{
		tracker:   tracker,
		generator: NewJournalGenerator(tracker),
		validator: NewInvariantValidator(tracker),
	}
}

// Begin sets the source command for subsequent postings and returns a
// rollback mark.
func (b *Book) Begin(eventRef string, timestamp int64) int {
	b.eventRef = eventRef
	b.timestamp = timestamp
	return len(b.posted)
}

// Post builds, validates and applies one batch. A nil batch is returned
// when every leg was zero.
func (b *Book) Post(legs ...Transfer) (*Batch, error) {
	batch := b.generator.GenerateTransfers(b.eventRef, b.timestamp, legs)
	if batch == nil {
		return nil, nil
	}
	return batch, b.apply(batch)
}

// Deposit credits account from the external deposit boundary.
func (b *Book) Deposit(account AccountKey, amount int64) (*Batch, error) {
	batch, err := b.generator.GenerateDeposit(b.eventRef, b.timestamp, account, amount)
	if err != nil {
		return nil, err
	}
	return batch, b.apply(batch)
}

// Withdraw debits account to the external withdrawal boundary.
func (b *Book) Withdraw(account AccountKey, amount int64) (*Batch, error) {
	batch, err := b.generator.GenerateWithdrawal(b.eventRef, b.timestamp, account, amount)
	if err != nil {
		return nil, err
	}
	return batch, b.apply(batch)
}

func (b *Book) apply(batch *Batch) error {
	if err := b.validator.ValidateBatchBalance(batch); err != nil {
		return fmt.Errorf("unbalanced batch: %w", err)
	}
	if err := b.tracker.ApplyBatch(batch); err != nil {
		return err
	}
	if err := b.validator.ValidateTouchedNonNegative(batch); err != nil {
		b.tracker.RevertBatch(batch)
		return fmt.Errorf("post-apply check: %w", err)
	}
	b.posted = append(b.posted, batch)
	return nil
}

// Rollback reverts every batch posted after mark.
func (b *Book) Rollback(mark int) {
	for i := len(b.posted) - 1; i >= mark; i-- {
		b.tracker.RevertBatch(b.posted[i])
	}
	b.posted = b.posted[:mark]
}

// Drain returns the batches posted since the last drain.
func (b *Book) Drain() []*Batch {
	out := b.posted
	b.posted = nil
	return out
}

// Balance returns the current balance of key.
func (b *Book) Balance(key AccountKey) int64 {
	return b.tracker.GetBalance(key)
}

// Tracker exposes the underlying balances for queries and snapshots.
func (b *Book) Tracker() *BalanceTracker {
	return b.tracker
}

// Validator exposes the invariant checks.
func (b *Book) Validator() *InvariantValidator {
	return b.validator
}
