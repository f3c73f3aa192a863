package query

import "time"

// AccountBalance is one projected ledger account.
type AccountBalance struct {
	AccountPath string `json:"account_path"`
	SubType     string `json:"sub_type"`
	Asset       string `json:"asset"`
	Balance     int64  `json:"balance"`
	Display     string `json:"display"` // Balance in whole units, e.g. "0.09995"
	LastSeq     int64  `json:"last_seq"`
}

// PartyBalances groups the accounts of one buyer, seller or the guarantor.
type PartyBalances struct {
	Scope        string           `json:"scope"`
	EntityID     string           `json:"entity_id"`
	Accounts     []AccountBalance `json:"accounts"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// Get returns the balance of the given sub-type, 0 if absent.
func (p *PartyBalances) Get(subType string) int64 {
	for _, a := range p.Accounts {
		if a.SubType == subType {
			return a.Balance
		}
	}
	return 0
}

// EpochSettlement is one settled epoch with its frozen exposure.
type EpochSettlement struct {
	Epoch                int64              `json:"epoch"`
	Sequence             int64              `json:"sequence"`
	SnapshotCreated      bool               `json:"snapshot_created"`
	PremiumCharged       int64              `json:"premium_charged"`
	PremiumHeld          int64              `json:"premium_held"`
	PremiumReleased      int64              `json:"premium_released"`
	SellerDistributed    int64              `json:"seller_distributed"`
	GuarantorDistributed int64              `json:"guarantor_distributed"`
	SellerSettled        int64              `json:"seller_settled"`
	BonusAccrued         int64              `json:"bonus_accrued"`
	BonusShortfall       int64              `json:"bonus_shortfall"`
	Lapses               int                `json:"lapses"`
	Failures             int                `json:"failures"`
	SettledAt            time.Time          `json:"settled_at"`
	Categories           []CategoryExposure `json:"categories"`
	AsOfSequence         int64              `json:"as_of_sequence"`
}

// CategoryExposure is a projected category row of an epoch snapshot.
type CategoryExposure struct {
	CategoryID         uint32 `json:"category_id"`
	HasGuarantor       bool   `json:"has_guarantor"`
	PremiumRate        int64  `json:"premium_rate"`
	PremiumRatePercent string `json:"premium_rate_percent"` // weekly, e.g. "0.05"
	TotalRequested     int64  `json:"total_requested"`
	SellerAllocated    int64  `json:"seller_allocated"`
	GuarantorAllocated int64  `json:"guarantor_allocated"`
	EffectiveCovered   int64  `json:"effective_covered"`
}

// LapseEntry is a recorded underpayment.
type LapseEntry struct {
	Sequence   int64  `json:"sequence"`
	BuyerID    string `json:"buyer_id"`
	CategoryID uint32 `json:"category_id"`
	Epoch      int64  `json:"epoch"`
	Due        int64  `json:"due"`
	Charged    int64  `json:"charged"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	NegativeAccounts []string          `json:"negative_accounts,omitempty"`
}

// UnbalancedAsset represents an asset whose projected balances do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}
