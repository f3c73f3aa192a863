package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypePremiumEarned
	JournalTypePremiumRefundHold
	JournalTypePremiumRefundRelease
	JournalTypePremiumDistribute
	JournalTypePremiumSettle
	JournalTypeGuarantorPremium
	JournalTypeBonusFund
	JournalTypeBonusAccrual
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypePremiumEarned:
		return "premium_earned"
	case JournalTypePremiumRefundHold:
		return "premium_refund_hold"
	case JournalTypePremiumRefundRelease:
		return "premium_refund_release"
	case JournalTypePremiumDistribute:
		return "premium_distribute"
	case JournalTypePremiumSettle:
		return "premium_settle"
	case JournalTypeGuarantorPremium:
		return "guarantor_premium"
	case JournalTypeBonusFund:
		return "bonus_fund"
	case JournalTypeBonusAccrual:
		return "bonus_accrual"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string      // Idempotency key of the source command
	Sequence      int64       // Global sequence, stamped by the core
	DebitAccount  AccountKey  // balance increases
	CreditAccount AccountKey  // balance decreases
	AssetID       AssetID
	Amount        int64 // always positive
	JournalType   JournalType
	Timestamp     int64 // versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves a single positive amount from credit to debit, so
// every entry is balanced on its own and so is the batch.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// Stamp assigns the global sequence to the batch and all of its journals.
func (b *Batch) Stamp(sequence int64) {
	b.Sequence = sequence
	for i := range b.Journals {
		b.Journals[i].Sequence = sequence
	}
}

// Total returns the sum of journal amounts of the given type.
func (b *Batch) Total(jt JournalType) int64 {
	var total int64
	for _, j := range b.Journals {
		if j.JournalType == jt {
			total += j.Amount
		}
	}
	return total
}
