package math_test

import (
	fpmath "CoverLedger/internal/math"
	"math"
	"math/big"
	"testing"
)

// ============================================================================
// Test: Fixed-point helpers
// ============================================================================

func TestDivideInt128_RoundingModes(t *testing.T) {
	tests := []struct {
		name  string
		num   int64
		den   int64
		mode  fpmath.RoundingMode
		want  int64
	}{
		{"down exact", 10, 5, fpmath.RoundDown, 2},
		{"down fraction", 11, 5, fpmath.RoundDown, 2},
		{"up fraction", 11, 5, fpmath.RoundUp, 3},
		{"up exact", 10, 5, fpmath.RoundUp, 2},
		{"half even to even", 5, 2, fpmath.RoundHalfEven, 2},
		{"half even odd", 7, 2, fpmath.RoundHalfEven, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fpmath.DivideInt128(big.NewInt(tt.num), tt.den, tt.mode)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDiv_NoOverflow(t *testing.T) {
	// 9e18 * 1e6 overflows int64 without the 128-bit intermediate.
	got := fpmath.MulDiv(9_000_000_000_000_000_000, 1_000_000, 1_000_000, fpmath.RoundDown)
	if got != 9_000_000_000_000_000_000 {
		t.Errorf("got %d, want 9e18", got)
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if got := fpmath.MulDiv(10, 10, 0, fpmath.RoundDown); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

// ============================================================================
// Test: Premium math
// ============================================================================

func TestComputePremiumCharge(t *testing.T) {
	// 100000 at 0.05%/week
	if got := fpmath.ComputePremiumCharge(100_000, 500); got != 50 {
		t.Errorf("got %d, want 50", got)
	}
	// floor: 1999 * 0.05% = 0.9995
	if got := fpmath.ComputePremiumCharge(1_999, 500); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := fpmath.ComputePremiumCharge(100_000, 0); got != 0 {
		t.Errorf("zero rate: got %d, want 0", got)
	}
}

func TestComputeEarnedPremium(t *testing.T) {
	tests := []struct {
		name                      string
		charge, effective, total  int64
		want                      int64
	}{
		{"fully covered", 50, 100_000, 100_000, 50},
		{"over covered", 50, 200_000, 100_000, 50},
		{"80 percent", 50, 80_000, 100_000, 40},
		{"floored", 50, 33_333, 100_000, 16},
		{"no coverage", 50, 0, 100_000, 0},
		{"no request", 50, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fpmath.ComputeEarnedPremium(tt.charge, tt.effective, tt.total)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplitEarnedPremium_Conserves(t *testing.T) {
	seller, guarantor := fpmath.SplitEarnedPremium(41, 70_000, 30_000)
	if seller != 28 {
		t.Errorf("seller: got %d, want 28", seller)
	}
	if seller+guarantor != 41 {
		t.Errorf("split lost value: %d + %d != 41", seller, guarantor)
	}

	seller, guarantor = fpmath.SplitEarnedPremium(50, 100_000, 0)
	if seller != 50 || guarantor != 0 {
		t.Errorf("seller-only: got (%d, %d), want (50, 0)", seller, guarantor)
	}
}

func TestComputeBonus(t *testing.T) {
	// 80000 exposure at 1 reward unit per 100 exposure units
	if got := fpmath.ComputeBonus(80_000, 10_000); got != 800 {
		t.Errorf("got %d, want 800", got)
	}
	if got := fpmath.ComputeBonus(0, 10_000); got != 0 {
		t.Errorf("zero exposure: got %d, want 0", got)
	}
}

// ============================================================================
// Test: Pro-rata allocation
// ============================================================================

func TestProRataSplit_DustAndOrder(t *testing.T) {
	a := [16]byte{0x02}
	b := [16]byte{0x01}
	c := [16]byte{0x03}

	shares, dust := fpmath.ProRataSplit(100, []fpmath.Weight{
		{ID: a, Weight: 1},
		{ID: b, Weight: 1},
		{ID: c, Weight: 1},
	})

	if len(shares) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(shares))
	}
	if shares[0].ID != b || shares[1].ID != a || shares[2].ID != c {
		t.Error("shares should be ordered by ID")
	}
	for _, s := range shares {
		if s.Amount != 33 {
			t.Errorf("share: got %d, want 33", s.Amount)
		}
	}
	if dust != 1 {
		t.Errorf("dust: got %d, want 1", dust)
	}
}

func TestProRataSplit_NoWeights(t *testing.T) {
	shares, dust := fpmath.ProRataSplit(100, []fpmath.Weight{{ID: [16]byte{1}, Weight: 0}})
	if len(shares) != 0 {
		t.Errorf("expected no shares, got %d", len(shares))
	}
	if dust != 100 {
		t.Errorf("dust: got %d, want 100", dust)
	}
}

func TestAllocateCollateral_CappedAtRequested(t *testing.T) {
	allocated, per := fpmath.AllocateCollateral([]fpmath.Weight{
		{ID: [16]byte{1}, Weight: 60_000},
		{ID: [16]byte{2}, Weight: 20_000},
	}, 50_000)

	if allocated != 50_000 {
		t.Errorf("allocated: got %d, want 50000", allocated)
	}
	if per[0].Amount != 37_500 || per[1].Amount != 12_500 {
		t.Errorf("per seller: got %d/%d, want 37500/12500", per[0].Amount, per[1].Amount)
	}
}

func TestAllocateCollateral_Undercollateralized(t *testing.T) {
	allocated, per := fpmath.AllocateCollateral([]fpmath.Weight{
		{ID: [16]byte{1}, Weight: 80_000},
	}, 100_000)

	if allocated != 80_000 {
		t.Errorf("allocated: got %d, want 80000", allocated)
	}
	if len(per) != 1 || per[0].Amount != 80_000 {
		t.Errorf("per seller: got %+v, want one share of 80000", per)
	}
}

// ============================================================================
// Test: Amounts near the int64 limit
// ============================================================================

func TestCheckedAdd_Overflow(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int64
		ok   bool
	}{
		{"small", 2, 3, 5, true},
		{"at max", math.MaxInt64 - 1, 1, math.MaxInt64, true},
		{"past max", math.MaxInt64, 1, 0, false},
		{"two halves", math.MaxInt64/2 + 1, math.MaxInt64/2 + 1, 0, false},
		{"past min", math.MinInt64, -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fpmath.CheckedAdd(tt.a, tt.b)
			if ok != tt.ok || got != tt.want {
				t.Errorf("got (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}

	if got := fpmath.SaturatingAdd(math.MaxInt64, 10); got != math.MaxInt64 {
		t.Errorf("saturating: got %d, want MaxInt64", got)
	}
}

func TestAllocateCollateral_HugeDeposits(t *testing.T) {
	// Two deposits whose sum overflows int64.
	allocated, per := fpmath.AllocateCollateral([]fpmath.Weight{
		{ID: [16]byte{1}, Weight: math.MaxInt64 - 1},
		{ID: [16]byte{2}, Weight: math.MaxInt64 - 1},
	}, 1_000_000)

	if allocated != 1_000_000 {
		t.Errorf("allocated: got %d, want 1000000", allocated)
	}
	if len(per) != 2 || per[0].Amount != 500_000 || per[1].Amount != 500_000 {
		t.Errorf("per seller: got %+v, want two shares of 500000", per)
	}
}

func TestProRataSplit_HugeWeights(t *testing.T) {
	shares, dust := fpmath.ProRataSplit(math.MaxInt64, []fpmath.Weight{
		{ID: [16]byte{1}, Weight: math.MaxInt64},
		{ID: [16]byte{2}, Weight: math.MaxInt64},
	})

	var sum int64
	for _, s := range shares {
		if s.Amount < 0 {
			t.Fatalf("negative share %d", s.Amount)
		}
		sum += s.Amount
	}
	if sum+dust != math.MaxInt64 {
		t.Errorf("shares+dust: got %d, want MaxInt64", sum+dust)
	}
	if dust != 1 {
		t.Errorf("dust: got %d, want 1", dust)
	}
}
