package event

// SetAsset registers or replaces an insurable category.
type SetAsset struct {
	Meta
	Category       uint32
	HasGuarantor   bool
	RiskCategoryID uint32
}

func (e *SetAsset) EventType() EventType { return EventTypeSetAsset }
func (e *SetAsset) CategoryID() *uint32  { return category(e.Category) }

// ResetIndexes rebuilds the category's seller and buyer index.
type ResetIndexes struct {
	Meta
	Category uint32
}

func (e *ResetIndexes) EventType() EventType { return EventTypeResetIndexes }
func (e *ResetIndexes) CategoryID() *uint32  { return category(e.Category) }

// SetPremiumRate sets the weekly premium rate (RateScale units).
type SetPremiumRate struct {
	Meta
	Category uint32
	Rate     int64
}

func (e *SetPremiumRate) EventType() EventType { return EventTypeSetPremiumRate }
func (e *SetPremiumRate) CategoryID() *uint32  { return category(e.Category) }

// SetBonusRate sets the bonus per exposure unit for one side of a category.
type SetBonusRate struct {
	Meta
	Category uint32
	Party    string // "seller" or "guarantor"
	Rate     int64
}

func (e *SetBonusRate) EventType() EventType { return EventTypeSetBonusRate }
func (e *SetBonusRate) CategoryID() *uint32  { return category(e.Category) }

// FundBonus credits the reward-token reserve.
type FundBonus struct {
	Meta
	Amount int64
}

func (e *FundBonus) EventType() EventType { return EventTypeFundBonus }
func (e *FundBonus) CategoryID() *uint32  { return nil }
