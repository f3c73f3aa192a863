package core

import (
	"CoverLedger/internal/event"
	"CoverLedger/internal/settlement"
	"CoverLedger/internal/state"
	"fmt"
)

// SnapshotResult is the outcome of a BeforeUpdate command.
type SnapshotResult struct {
	Snapshot *settlement.EpochExposureSnapshot `json:"snapshot"`
	Created  bool                              `json:"created"`
}

// dispatchEvent routes a command to its settlement component. The returned
// value is the component's result and may be nil.
func (c *DeterministicCore) dispatchEvent(evt event.Event, now int64) (any, error) {
	ec := c.coordinator

	switch e := evt.(type) {
	// Admin
	case *event.SetAsset:
		ec.SetAsset(state.AssetCategory{
			ID:             state.CategoryID(e.Category),
			HasGuarantor:   e.HasGuarantor,
			RiskCategoryID: e.RiskCategoryID,
		})
		return nil, nil
	case *event.ResetIndexes:
		return nil, ec.ResetIndexesByCategory(state.CategoryID(e.Category))
	case *event.SetPremiumRate:
		return nil, ec.SetPremiumRate(state.CategoryID(e.Category), e.Rate)
	case *event.SetBonusRate:
		party, err := settlement.ParseBonusParty(e.Party)
		if err != nil {
			return nil, err
		}
		if party == settlement.BonusPartyGuarantor {
			return nil, ec.Bonus().SetGuarantorBonusPerExposureUnit(state.CategoryID(e.Category), e.Rate)
		}
		return nil, ec.Bonus().SetBonusPerExposureUnit(state.CategoryID(e.Category), e.Rate)
	case *event.FundBonus:
		return nil, ec.Bonus().Fund(e.Amount)

	// Funds
	case *event.BuyerDeposit:
		return nil, ec.Buyers().Deposit(e.BuyerID, e.Amount)
	case *event.BuyerWithdraw:
		return nil, ec.Buyers().Withdraw(e.BuyerID, e.Amount)
	case *event.SellerDeposit:
		return nil, ec.Sellers().Deposit(e.SellerID, e.Amount)
	case *event.SellerWithdraw:
		return nil, ec.Sellers().Withdraw(e.SellerID, e.Amount)
	case *event.GuarantorDeposit:
		return nil, ec.Guarantor().Deposit(e.Amount)
	case *event.GuarantorWithdraw:
		return nil, ec.Guarantor().Withdraw(e.Amount)

	// Positions
	case *event.Subscribe:
		return nil, ec.Buyers().Subscribe(e.BuyerID, state.CategoryID(e.Category), e.Coverage)
	case *event.ChangeBasket:
		cats := make([]state.CategoryID, len(e.Categories))
		for i, id := range e.Categories {
			cats[i] = state.CategoryID(id)
		}
		return nil, ec.Sellers().ChangeBasket(e.SellerID, cats)

	// Per-epoch
	case *event.BeforeUpdate:
		snap, created, err := ec.BeforeUpdate(now)
		if err != nil {
			return nil, err
		}
		return &SnapshotResult{Snapshot: snap, Created: created}, nil
	case *event.UpdateGuarantorBonus:
		return ec.Bonus().UpdateGuarantorBonus(state.CategoryID(e.Category), now)
	case *event.UpdateSellerBonus:
		return ec.Bonus().UpdateSellerBonus(state.CategoryID(e.Category), now)
	case *event.GuarantorUpdatePremium:
		return ec.Guarantor().UpdatePremium(state.CategoryID(e.Category), now)
	case *event.SellerUpdatePremium:
		return ec.Sellers().UpdatePremium(state.CategoryID(e.Category), now)
	case *event.BuyerUpdate:
		return ec.Buyers().Update(e.BuyerID, now)
	case *event.SellerUpdate:
		return ec.Sellers().Update(e.SellerID, now)
	case *event.EpochSettle:
		return ec.SettleEpoch(now)

	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}
