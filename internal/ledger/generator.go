package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Transfer is one leg of a batch before ids are assigned.
type Transfer struct {
	Debit  AccountKey
	Credit AccountKey
	Amount int64
	Type   JournalType
}

// JournalGenerator creates balanced journal batches
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// GenerateTransfers builds one batch from the given legs. Zero-amount legs
// are dropped; a nil batch means nothing moved.
func (jg *JournalGenerator) GenerateTransfers(eventRef string, timestamp int64, legs []Transfer) *Batch {
	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			DebitAccount:  leg.Debit,
			CreditAccount: leg.Credit,
			AssetID:       leg.Debit.AssetID,
			Amount:        leg.Amount,
			JournalType:   leg.Type,
			Timestamp:     timestamp,
		})
	}

	if len(batch.Journals) == 0 {
		return nil
	}
	return batch
}

// GenerateDeposit moves funds: external:deposits -> account
func (jg *JournalGenerator) GenerateDeposit(eventRef string, timestamp int64, account AccountKey, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	return jg.GenerateTransfers(eventRef, timestamp, []Transfer{{
		Debit:  account,
		Credit: NewExternalAccountKey(SubTypeExternalDeposits, account.AssetID),
		Amount: amount,
		Type:   JournalTypeDeposit,
	}}), nil
}

// GenerateWithdrawal moves funds: account -> external:withdrawals.
// Pre-check: the account must hold at least amount.
func (jg *JournalGenerator) GenerateWithdrawal(eventRef string, timestamp int64, account AccountKey, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficient(account, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	return jg.GenerateTransfers(eventRef, timestamp, []Transfer{{
		Debit:  NewExternalAccountKey(SubTypeExternalWithdrawals, account.AssetID),
		Credit: account,
		Amount: amount,
		Type:   JournalTypeWithdrawal,
	}}), nil
}
