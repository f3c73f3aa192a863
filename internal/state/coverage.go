package state

// GuarantorCoverage computes how much of a category's collateral deficit the
// pooled guarantor can backstop. The pool balance itself lives in the
// ledger (guarantor:pool:collateral account).
type GuarantorCoverage struct{}

func NewGuarantorCoverage() *GuarantorCoverage {
	return &GuarantorCoverage{}
}

// Deficit is the requested coverage sellers could not back.
func (g *GuarantorCoverage) Deficit(totalRequested, sellerAllocated int64) int64 {
	if sellerAllocated >= totalRequested {
		return 0
	}
	return totalRequested - sellerAllocated
}

// ComputeCoverage returns how much the pool covers and what stays uncovered.
// Categories without a guarantor get no coverage.
func (g *GuarantorCoverage) ComputeCoverage(poolBalance, deficit int64, hasGuarantor bool) (covered int64, remaining int64) {
	if !hasGuarantor || deficit <= 0 || poolBalance <= 0 {
		if deficit < 0 {
			deficit = 0
		}
		return 0, deficit
	}
	if poolBalance >= deficit {
		return deficit, 0
	}
	return poolBalance, deficit - poolBalance
}
