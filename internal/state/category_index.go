package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// CategoryIndex maps each category to the ordered sets of sellers whose
// basket contains it and buyers subscribed to it.
type CategoryIndex struct {
	sellers map[CategoryID]map[uuid.UUID]struct{}
	buyers  map[CategoryID]map[uuid.UUID]struct{}
}

func NewCategoryIndex() *CategoryIndex {
	return &CategoryIndex{
		sellers: make(map[CategoryID]map[uuid.UUID]struct{}),
		buyers:  make(map[CategoryID]map[uuid.UUID]struct{}),
	}
}

func addMember(m map[CategoryID]map[uuid.UUID]struct{}, cat CategoryID, id uuid.UUID) {
	set, ok := m[cat]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m[cat] = set
	}
	set[id] = struct{}{}
}

func removeMember(m map[CategoryID]map[uuid.UUID]struct{}, cat CategoryID, id uuid.UUID) {
	if set, ok := m[cat]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, cat)
		}
	}
}

func sortedMembers(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (ci *CategoryIndex) AddSeller(cat CategoryID, sellerID uuid.UUID) {
	addMember(ci.sellers, cat, sellerID)
}

func (ci *CategoryIndex) RemoveSeller(cat CategoryID, sellerID uuid.UUID) {
	removeMember(ci.sellers, cat, sellerID)
}

func (ci *CategoryIndex) AddBuyer(cat CategoryID, buyerID uuid.UUID) {
	addMember(ci.buyers, cat, buyerID)
}

func (ci *CategoryIndex) RemoveBuyer(cat CategoryID, buyerID uuid.UUID) {
	removeMember(ci.buyers, cat, buyerID)
}

// Sellers returns the sellers backing cat, ordered by id
func (ci *CategoryIndex) Sellers(cat CategoryID) []uuid.UUID {
	return sortedMembers(ci.sellers[cat])
}

// Buyers returns the buyers subscribed to cat, ordered by id
func (ci *CategoryIndex) Buyers(cat CategoryID) []uuid.UUID {
	return sortedMembers(ci.buyers[cat])
}

// Reset replaces the membership of cat wholesale.
func (ci *CategoryIndex) Reset(cat CategoryID, sellers, buyers []uuid.UUID) {
	delete(ci.sellers, cat)
	delete(ci.buyers, cat)
	for _, id := range sellers {
		addMember(ci.sellers, cat, id)
	}
	for _, id := range buyers {
		addMember(ci.buyers, cat, id)
	}
}
