package math

import (
	"math"
	"math/big"
	"sync"
)

// RateScale is the denominator every rate is expressed against.
// 500 = 0.05% per epoch.
const RateScale = int64(1_000_000)

// MaxAmount bounds a single deposit, withdrawal or requested coverage.
// Sums of a few bounded amounts still fit in int64; larger sums go through
// CheckedAdd.
const MaxAmount = int64(1) << 60

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// multiplyInt128 performs a * b using int128 to prevent overflow.
// The caller returns the result with putInt128.
func multiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// Operands in this package are non-negative, so RoundDown is floor.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.DivMod(numerator, denom, remainder)
	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 && result%2 != 0 {
			result++
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	}

	return result
}

// MulDiv computes a * b / c with a 128-bit intermediate. Returns 0 when c <= 0.
func MulDiv(a, b, c int64, mode RoundingMode) int64 {
	if c <= 0 {
		return 0
	}
	product := multiplyInt128(a, b)
	defer putInt128(product)
	return DivideInt128(product, c, mode)
}

// mulDivBig is MulDiv with a denominator that may not fit in int64.
// The quotient must fit: callers pass b <= c.
func mulDivBig(a, b int64, c *big.Int) int64 {
	if c.Sign() <= 0 {
		return 0
	}
	product := multiplyInt128(a, b)
	defer putInt128(product)
	return product.Quo(product, c).Int64()
}

// CheckedAdd returns a + b, or false when the sum overflows int64.
func CheckedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// SaturatingAdd returns a + b clamped to the int64 range.
func SaturatingAdd(a, b int64) int64 {
	sum, ok := CheckedAdd(a, b)
	if ok {
		return sum
	}
	if b > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// Min64 returns the smaller of a and b.
func Min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
