package state

import (
	"sort"

	"github.com/google/uuid"
)

// BuyerAccount holds a buyer's subscriptions. The deposit balance lives in
// the ledger (buyer:<id>:balance).
type BuyerAccount struct {
	BuyerID       uuid.UUID            `json:"buyer_id"`
	Subscriptions map[CategoryID]int64 `json:"subscriptions"` // category -> requested coverage
}

func NewBuyerAccount(id uuid.UUID) *BuyerAccount {
	return &BuyerAccount{
		BuyerID:       id,
		Subscriptions: make(map[CategoryID]int64),
	}
}

// SetSubscription replaces the requested coverage for cat; 0 removes it.
func (b *BuyerAccount) SetSubscription(cat CategoryID, coverage int64) {
	if coverage == 0 {
		delete(b.Subscriptions, cat)
		return
	}
	b.Subscriptions[cat] = coverage
}

// Categories returns subscribed categories in ascending order
func (b *BuyerAccount) Categories() []CategoryID {
	out := make([]CategoryID, 0, len(b.Subscriptions))
	for c := range b.Subscriptions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SellerAccount holds a seller's basket. Collateral lives in the ledger
// (seller:<id>:collateral).
type SellerAccount struct {
	SellerID uuid.UUID    `json:"seller_id"`
	Basket   []CategoryID `json:"basket"`
}

func NewSellerAccount(id uuid.UUID) *SellerAccount {
	return &SellerAccount{SellerID: id}
}

// SetBasket replaces the basket, dropping duplicates and keeping it sorted.
func (s *SellerAccount) SetBasket(categories []CategoryID) {
	seen := make(map[CategoryID]struct{}, len(categories))
	basket := make([]CategoryID, 0, len(categories))
	for _, c := range categories {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		basket = append(basket, c)
	}
	sort.Slice(basket, func(i, j int) bool { return basket[i] < basket[j] })
	s.Basket = basket
}

func (s *SellerAccount) Covers(cat CategoryID) bool {
	for _, c := range s.Basket {
		if c == cat {
			return true
		}
	}
	return false
}
