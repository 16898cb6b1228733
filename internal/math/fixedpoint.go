package math

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// Scale is the fixed-point scale shared by sizes, prices, and quote
// amounts: 6 decimal places ("e6").
const Scale int64 = 1_000_000

// ErrOverflow is returned whenever a checked operation would exceed the
// int64 range or divide by zero. Values never wrap.
var ErrOverflow = errors.New("fixed-point overflow")

// Pooled big.Int for 128-bit intermediates
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// Add returns a + b, failing instead of wrapping.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a - b, failing instead of wrapping.
func Sub(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Mul returns a * b, failing instead of wrapping.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a == math.MinInt64 || b == math.MinInt64 {
		return 0, ErrOverflow
	}
	result := a * b
	if result/b != a {
		return 0, ErrOverflow
	}
	return result, nil
}

// Div returns a / b, truncated toward zero. Division by zero is an
// overflow condition, not a panic.
func Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrOverflow
	}
	if a == math.MinInt64 && b == -1 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// MulE6 returns (a * b) / 1_000_000 through a 128-bit intermediate,
// truncated toward zero.
func MulE6(a, b int64) (int64, error) {
	prod := getInt128()
	defer putInt128(prod)

	prod.Mul(big.NewInt(a), big.NewInt(b))
	prod.Quo(prod, big.NewInt(Scale))

	if !prod.IsInt64() {
		return 0, ErrOverflow
	}
	return prod.Int64(), nil
}

// DivE6 returns (a * 1_000_000) / b through a 128-bit intermediate.
func DivE6(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrOverflow
	}

	num := getInt128()
	defer putInt128(num)

	num.Mul(big.NewInt(a), big.NewInt(Scale))
	num.Quo(num, big.NewInt(b))

	if !num.IsInt64() {
		return 0, ErrOverflow
	}
	return num.Int64(), nil
}

// RoundingMode selects the rounding behavior of DivideInt128.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
)

// MultiplyInt128 performs a * b in 128-bit space. Release the result with
// ReleaseInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// ReleaseInt128 returns a pooled intermediate.
func ReleaseInt128(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with the given rounding.
func DivideInt128(numerator *big.Int, denominator int64, mode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, ErrOverflow
	}

	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(numerator, denom, remainder)

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	result := quotient.Int64()

	if mode == RoundHalfEven {
		remainder.Abs(remainder)
		remainder.Lsh(remainder, 1) // 2 * |remainder|
		cmp := remainder.Cmp(big.NewInt(abs64(denominator)))

		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			if (numerator.Sign() < 0) != (denominator < 0) {
				result--
			} else {
				result++
			}
		}
	}

	return result, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// ComputeAvgEntryPrice returns the size-weighted average entry price when
// an existing position is increased by a fill.
func ComputeAvgEntryPrice(oldSize, oldEntry, addSize, addPrice int64) (int64, error) {
	if oldSize == 0 {
		return addPrice, nil
	}

	term1 := MultiplyInt128(oldSize, oldEntry)
	term2 := MultiplyInt128(addSize, addPrice)
	defer ReleaseInt128(term1)
	defer ReleaseInt128(term2)

	numerator := getInt128()
	defer putInt128(numerator)
	numerator.Add(term1, term2)

	denominator, err := Add(oldSize, addSize)
	if err != nil {
		return 0, err
	}

	return DivideInt128(numerator, denominator, RoundHalfEven)
}

// ComputePnL returns the signed profit for one side over a size:
// sideSign * (exitPrice - entryPrice) * size / 1e6.
// sideSign is +1 for long, -1 for short.
func ComputePnL(sideSign, exitPrice, entryPrice, size int64) (int64, error) {
	diff, err := Sub(exitPrice, entryPrice)
	if err != nil {
		return 0, err
	}
	signed, err := Mul(diff, sideSign)
	if err != nil {
		return 0, err
	}
	return MulE6(signed, size)
}

// ComputeNotional returns size * price / 1e6.
func ComputeNotional(size, price int64) (int64, error) {
	return MulE6(size, price)
}

// ComputeFee returns notional * feeRate / 1e6 for a fill of the given
// size and price. feeRate is an e6 fraction (1_000 = 0.1%).
func ComputeFee(size, price, feeRate int64) (int64, error) {
	notional, err := ComputeNotional(size, price)
	if err != nil {
		return 0, err
	}
	return MulE6(notional, feeRate)
}
