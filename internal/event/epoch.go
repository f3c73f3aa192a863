package event

import "github.com/google/uuid"

// BeforeUpdate freezes the exposure snapshot for the epoch containing
// the command timestamp.
type BeforeUpdate struct {
	Meta
}

func (e *BeforeUpdate) EventType() EventType { return EventTypeBeforeUpdate }
func (e *BeforeUpdate) CategoryID() *uint32  { return nil }

type UpdateGuarantorBonus struct {
	Meta
	Category uint32
}

func (e *UpdateGuarantorBonus) EventType() EventType { return EventTypeUpdateGuarantorBonus }
func (e *UpdateGuarantorBonus) CategoryID() *uint32  { return category(e.Category) }

type UpdateSellerBonus struct {
	Meta
	Category uint32
}

func (e *UpdateSellerBonus) EventType() EventType { return EventTypeUpdateSellerBonus }
func (e *UpdateSellerBonus) CategoryID() *uint32  { return category(e.Category) }

type GuarantorUpdatePremium struct {
	Meta
	Category uint32
}

func (e *GuarantorUpdatePremium) EventType() EventType { return EventTypeGuarantorUpdatePremium }
func (e *GuarantorUpdatePremium) CategoryID() *uint32  { return category(e.Category) }

type SellerUpdatePremium struct {
	Meta
	Category uint32
}

func (e *SellerUpdatePremium) EventType() EventType { return EventTypeSellerUpdatePremium }
func (e *SellerUpdatePremium) CategoryID() *uint32  { return category(e.Category) }

type BuyerUpdate struct {
	Meta
	BuyerID uuid.UUID
}

func (e *BuyerUpdate) EventType() EventType { return EventTypeBuyerUpdate }
func (e *BuyerUpdate) CategoryID() *uint32  { return nil }

type SellerUpdate struct {
	Meta
	SellerID uuid.UUID
}

func (e *SellerUpdate) EventType() EventType { return EventTypeSellerUpdate }
func (e *SellerUpdate) CategoryID() *uint32  { return nil }

// EpochSettle runs the full per-epoch sequence. The epoch ticker emits one
// with a deterministic command id per tick.
type EpochSettle struct {
	Meta
}

func (e *EpochSettle) EventType() EventType { return EventTypeEpochSettle }
func (e *EpochSettle) CategoryID() *uint32  { return nil }
