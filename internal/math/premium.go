package math

import (
	"bytes"
	"math/big"
	"sort"
)

// ComputePremiumCharge returns the full weekly premium for a requested
// coverage amount: floor(requested * rate / RateScale).
func ComputePremiumCharge(requested, rate int64) int64 {
	if requested <= 0 || rate <= 0 {
		return 0
	}
	return MulDiv(requested, rate, RateScale, RoundDown)
}

// ComputeEarnedPremium returns the part of charge that is backed by
// collateral: floor(charge * min(1, effective/totalRequested)).
// The remainder (charge - earned) is refundable to the buyer.
func ComputeEarnedPremium(charge, effective, totalRequested int64) int64 {
	if charge <= 0 || effective <= 0 || totalRequested <= 0 {
		return 0
	}
	if effective >= totalRequested {
		return charge
	}
	return MulDiv(charge, effective, totalRequested, RoundDown)
}

// SplitEarnedPremium divides earned premium between the seller pool and the
// guarantor by their share of allocated collateral. The seller side is
// floored, the guarantor receives the rest so nothing is lost.
func SplitEarnedPremium(earned, sellerAllocated, guarantorAllocated int64) (sellerPart, guarantorPart int64) {
	total := sellerAllocated + guarantorAllocated
	if earned <= 0 || total <= 0 {
		return 0, 0
	}
	sellerPart = MulDiv(earned, sellerAllocated, total, RoundDown)
	return sellerPart, earned - sellerPart
}

// ComputeBonus returns floor(exposure * ratePerUnit / RateScale).
func ComputeBonus(exposure, ratePerUnit int64) int64 {
	if exposure <= 0 || ratePerUnit <= 0 {
		return 0
	}
	return MulDiv(exposure, ratePerUnit, RateScale, RoundDown)
}

// Weight is one participant in a pro-rata split.
type Weight struct {
	ID     [16]byte
	Weight int64
}

// Share is one participant's floored part of a pro-rata split.
type Share struct {
	ID     [16]byte
	Amount int64
}

// ProRataSplit divides total across weights proportionally, flooring each
// share. Participants are ordered by ID for determinism. Returns the shares
// (zero shares omitted) and the undistributed dust.
func ProRataSplit(total int64, weights []Weight) (shares []Share, dust int64) {
	if total <= 0 {
		return nil, 0
	}

	// The weight sum can exceed int64 even though no single share can.
	sorted := make([]Weight, 0, len(weights))
	sumWeight := new(big.Int)
	for _, w := range weights {
		if w.Weight <= 0 {
			continue
		}
		sorted = append(sorted, w)
		sumWeight.Add(sumWeight, big.NewInt(w.Weight))
	}
	if sumWeight.Sign() == 0 {
		return nil, total
	}

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	shares = make([]Share, 0, len(sorted))
	var distributed int64
	for _, w := range sorted {
		amount := mulDivBig(total, w.Weight, sumWeight)
		if amount == 0 {
			continue
		}
		shares = append(shares, Share{ID: w.ID, Amount: amount})
		distributed += amount
	}

	return shares, total - distributed
}

// AllocateCollateral caps a category's seller collateral at the requested
// coverage and splits the capped amount over sellers by deposit. Sellers
// with no deposit get nothing.
func AllocateCollateral(deposits []Weight, totalRequested int64) (allocated int64, perSeller []Share) {
	var sum int64
	for _, d := range deposits {
		if d.Weight > 0 {
			sum = SaturatingAdd(sum, d.Weight)
		}
	}
	allocated = Min64(sum, totalRequested)
	if allocated <= 0 {
		return 0, nil
	}
	perSeller, _ = ProRataSplit(allocated, deposits)
	return allocated, perSeller
}
