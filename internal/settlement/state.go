package settlement

import (
	"CoverLedger/internal/state"
	"fmt"
)

// State is the non-balance settlement state needed for a warm restart.
// Balances travel separately as ledger account snapshots.
type State struct {
	Categories          []state.AssetCategory      `json:"categories"`
	PremiumRates        map[state.CategoryID]int64 `json:"premium_rates"`
	SellerBonusRates    map[state.CategoryID]int64 `json:"seller_bonus_rates"`
	GuarantorBonusRates map[state.CategoryID]int64 `json:"guarantor_bonus_rates"`
	Buyers              []state.BuyerAccount       `json:"buyers"`
	Sellers             []state.SellerAccount      `json:"sellers"`
	Updates             map[string]int64           `json:"updates"`
	Snapshot            *EpochExposureSnapshot     `json:"snapshot,omitempty"`
}

// ExportState copies the coordinator's settlement state.
func (ec *EpochCoordinator) ExportState() *State {
	st := &State{
		Categories:   ec.catalog.All(),
		PremiumRates: ec.oracle.All(),
		Updates:      ec.epochs.Updates().All(),
		Snapshot:     ec.epochs.Snapshot(),
	}
	st.SellerBonusRates, st.GuarantorBonusRates = ec.bonus.rates()

	for _, id := range ec.buyers.IDs() {
		acct, _ := ec.buyers.Account(id)
		cp := state.BuyerAccount{BuyerID: id, Subscriptions: make(map[state.CategoryID]int64, len(acct.Subscriptions))}
		for cat, cov := range acct.Subscriptions {
			cp.Subscriptions[cat] = cov
		}
		st.Buyers = append(st.Buyers, cp)
	}
	for _, id := range ec.sellers.IDs() {
		acct, _ := ec.sellers.Account(id)
		st.Sellers = append(st.Sellers, state.SellerAccount{
			SellerID: id,
			Basket:   append([]state.CategoryID(nil), acct.Basket...),
		})
	}
	return st
}

// RestoreState loads exported state into a freshly built coordinator and
// rebuilds the category indexes.
func (ec *EpochCoordinator) RestoreState(st *State) error {
	if st == nil {
		return nil
	}
	for _, asset := range st.Categories {
		ec.catalog.SetAsset(asset)
	}
	for cat, rate := range st.PremiumRates {
		if err := ec.oracle.SetPremiumRate(cat, rate); err != nil {
			return fmt.Errorf("restore premium rate: %w", err)
		}
	}
	for cat, rate := range st.SellerBonusRates {
		if err := ec.bonus.SetBonusPerExposureUnit(cat, rate); err != nil {
			return fmt.Errorf("restore seller bonus rate: %w", err)
		}
	}
	for cat, rate := range st.GuarantorBonusRates {
		if err := ec.bonus.SetGuarantorBonusPerExposureUnit(cat, rate); err != nil {
			return fmt.Errorf("restore guarantor bonus rate: %w", err)
		}
	}
	for _, acct := range st.Buyers {
		ec.buyers.restore(acct)
	}
	for _, acct := range st.Sellers {
		ec.sellers.restore(acct)
	}
	ec.epochs.Updates().Restore(st.Updates)
	if st.Snapshot != nil {
		ec.epochs.install(st.Snapshot)
	}

	for _, cat := range ec.catalog.IDs() {
		if err := ec.ResetIndexesByCategory(cat); err != nil {
			return err
		}
	}
	return nil
}
