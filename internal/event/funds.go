package event

import "github.com/google/uuid"

type BuyerDeposit struct {
	Meta
	BuyerID uuid.UUID
	Amount  int64
}

func (e *BuyerDeposit) EventType() EventType { return EventTypeBuyerDeposit }
func (e *BuyerDeposit) CategoryID() *uint32  { return nil }

type BuyerWithdraw struct {
	Meta
	BuyerID uuid.UUID
	Amount  int64
}

func (e *BuyerWithdraw) EventType() EventType { return EventTypeBuyerWithdraw }
func (e *BuyerWithdraw) CategoryID() *uint32  { return nil }

type SellerDeposit struct {
	Meta
	SellerID uuid.UUID
	Amount   int64
}

func (e *SellerDeposit) EventType() EventType { return EventTypeSellerDeposit }
func (e *SellerDeposit) CategoryID() *uint32  { return nil }

type SellerWithdraw struct {
	Meta
	SellerID uuid.UUID
	Amount   int64
}

func (e *SellerWithdraw) EventType() EventType { return EventTypeSellerWithdraw }
func (e *SellerWithdraw) CategoryID() *uint32  { return nil }

type GuarantorDeposit struct {
	Meta
	Amount int64
}

func (e *GuarantorDeposit) EventType() EventType { return EventTypeGuarantorDeposit }
func (e *GuarantorDeposit) CategoryID() *uint32  { return nil }

type GuarantorWithdraw struct {
	Meta
	Amount int64
}

func (e *GuarantorWithdraw) EventType() EventType { return EventTypeGuarantorWithdraw }
func (e *GuarantorWithdraw) CategoryID() *uint32  { return nil }

// Subscribe sets a buyer's requested coverage for a category; 0 removes it.
type Subscribe struct {
	Meta
	BuyerID  uuid.UUID
	Category uint32
	Coverage int64
}

func (e *Subscribe) EventType() EventType { return EventTypeSubscribe }
func (e *Subscribe) CategoryID() *uint32  { return category(e.Category) }

// ChangeBasket replaces a seller's basket wholesale.
type ChangeBasket struct {
	Meta
	SellerID   uuid.UUID
	Categories []uint32
}

func (e *ChangeBasket) EventType() EventType { return EventTypeChangeBasket }
func (e *ChangeBasket) CategoryID() *uint32  { return nil }
