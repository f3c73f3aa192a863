package settlement

import (
	"CoverLedger/internal/state"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// CategoryExposure is one category's frozen view for an epoch.
type CategoryExposure struct {
	CategoryID     state.CategoryID `json:"category_id"`
	HasGuarantor   bool             `json:"has_guarantor"`
	RiskCategoryID uint32           `json:"risk_category_id"`
	PremiumRate    int64            `json:"premium_rate"`

	TotalRequestedCoverage       int64 `json:"total_requested_coverage"`
	SellerAllocatedCollateral    int64 `json:"seller_allocated_collateral"`
	GuarantorAllocatedCollateral int64 `json:"guarantor_allocated_collateral"`
	EffectiveCoveredAmount       int64 `json:"effective_covered_amount"`

	SellerBonusRate    int64 `json:"seller_bonus_rate"`
	GuarantorBonusRate int64 `json:"guarantor_bonus_rate"`

	// Per-party inputs frozen at snapshot time.
	BuyerRequests     map[uuid.UUID]int64 `json:"buyer_requests"`
	SellerAllocations map[uuid.UUID]int64 `json:"seller_allocations"`

	// Seller allocations of the epoch the undistributed premium pool was
	// earned in. Nil on the first snapshot that contains the category.
	PriorSellerAllocations map[uuid.UUID]int64 `json:"prior_seller_allocations,omitempty"`
}

// Deficit is the requested coverage seller collateral could not back.
func (c *CategoryExposure) Deficit() int64 {
	if c.SellerAllocatedCollateral >= c.TotalRequestedCoverage {
		return 0
	}
	return c.TotalRequestedCoverage - c.SellerAllocatedCollateral
}

// Validate checks the clamping invariants of the exposure.
func (c *CategoryExposure) Validate() error {
	if c.EffectiveCoveredAmount > c.TotalRequestedCoverage {
		return fmt.Errorf("category %d: effective %d exceeds requested %d",
			c.CategoryID, c.EffectiveCoveredAmount, c.TotalRequestedCoverage)
	}
	if c.EffectiveCoveredAmount > c.SellerAllocatedCollateral+c.GuarantorAllocatedCollateral {
		return fmt.Errorf("category %d: effective %d exceeds collateral %d",
			c.CategoryID, c.EffectiveCoveredAmount, c.SellerAllocatedCollateral+c.GuarantorAllocatedCollateral)
	}
	if c.SellerAllocatedCollateral > c.TotalRequestedCoverage {
		return fmt.Errorf("category %d: seller allocation %d exceeds requested %d",
			c.CategoryID, c.SellerAllocatedCollateral, c.TotalRequestedCoverage)
	}
	return nil
}

// premiumWeights returns the allocations the seller premium pool is split by.
func (c *CategoryExposure) premiumWeights() map[uuid.UUID]int64 {
	if c.PriorSellerAllocations != nil {
		return c.PriorSellerAllocations
	}
	return c.SellerAllocations
}

// SkippedCategory is a registered category left out of a snapshot because
// its exposure could not be computed. Nothing is charged or distributed for
// it that epoch.
type SkippedCategory struct {
	CategoryID state.CategoryID `json:"category_id"`
	Reason     string           `json:"reason"`
}

// EpochExposureSnapshot is produced once per epoch by BeforeUpdate and is
// read-only afterwards.
type EpochExposureSnapshot struct {
	Epoch      int64                                  `json:"epoch"`
	StartedAt  int64                                  `json:"started_at"` // epoch start, microseconds
	CreatedAt  int64                                  `json:"created_at"` // command timestamp, microseconds
	Categories map[state.CategoryID]*CategoryExposure `json:"categories"`
	Skipped    []SkippedCategory                      `json:"skipped,omitempty"`
}

func (s *EpochExposureSnapshot) Category(id state.CategoryID) (*CategoryExposure, bool) {
	c, ok := s.Categories[id]
	return c, ok
}

// CategoryIDs returns the snapshot's categories in ascending order
func (s *EpochExposureSnapshot) CategoryIDs() []state.CategoryID {
	ids := make([]state.CategoryID, 0, len(s.Categories))
	for id := range s.Categories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedIDs(m map[uuid.UUID]int64) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func copyAllocations(m map[uuid.UUID]int64) map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
