package state

import (
	"fmt"
	"sort"
)

// CategoryID identifies an insurable asset category
type CategoryID uint32

// AssetCategory describes one insurable category
type AssetCategory struct {
	ID             CategoryID `json:"id"`
	HasGuarantor   bool       `json:"has_guarantor"`
	RiskCategoryID uint32     `json:"risk_category_id"`
}

// AssetCatalog is the registry of insurable categories
type AssetCatalog struct {
	categories map[CategoryID]*AssetCategory
}

func NewAssetCatalog() *AssetCatalog {
	return &AssetCatalog{
		categories: make(map[CategoryID]*AssetCategory),
	}
}

// SetAsset registers or replaces a category. Changes take effect at the
// next epoch snapshot.
func (ac *AssetCatalog) SetAsset(category AssetCategory) {
	c := category
	ac.categories[category.ID] = &c
}

func (ac *AssetCatalog) Get(id CategoryID) (*AssetCategory, bool) {
	c, ok := ac.categories[id]
	return c, ok
}

func (ac *AssetCatalog) Has(id CategoryID) bool {
	_, ok := ac.categories[id]
	return ok
}

// ValidateCategories returns an error naming the first unregistered id.
func (ac *AssetCatalog) ValidateCategories(ids []CategoryID) error {
	for _, id := range ids {
		if !ac.Has(id) {
			return fmt.Errorf("category %d", id)
		}
	}
	return nil
}

// IDs returns every registered category in ascending order
func (ac *AssetCatalog) IDs() []CategoryID {
	ids := make([]CategoryID, 0, len(ac.categories))
	for id := range ac.categories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All returns a copy of every category (for snapshot creation)
func (ac *AssetCatalog) All() []AssetCategory {
	out := make([]AssetCategory, 0, len(ac.categories))
	for _, id := range ac.IDs() {
		out = append(out, *ac.categories[id])
	}
	return out
}
