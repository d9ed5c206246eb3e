// Package safemath provides checked uint64 arithmetic for token amounts.
// Intermediate products are widened to 256 bits so percentage math never
// wraps silently.
package safemath

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	coreerrors "localmoney/core/errors"
)

// BpsDenominator is the number of basis points in 100%.
const BpsDenominator uint64 = 10_000

// Add returns a+b or ErrArithmeticOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", coreerrors.ErrArithmeticOverflow, a, b)
	}
	return sum, nil
}

// Sub returns a-b or ErrArithmeticUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d", coreerrors.ErrArithmeticUnderflow, a, b)
	}
	return diff, nil
}

// SaturatingSub returns a-b clamped at zero.
func SaturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Mul returns a*b or ErrArithmeticOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", coreerrors.ErrArithmeticOverflow, a, b)
	}
	return lo, nil
}

// Div returns a/b or ErrDivisionByZero.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: %d / 0", coreerrors.ErrDivisionByZero, a)
	}
	return a / b, nil
}

// MulDiv computes floor(a*b/c) with a 256-bit intermediate product. The result
// must fit in uint64.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, fmt.Errorf("%w: muldiv by zero", coreerrors.ErrDivisionByZero)
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient := product.Div(product, uint256.NewInt(c))
	if !quotient.IsUint64() {
		return 0, fmt.Errorf("%w: %d * %d / %d", coreerrors.ErrArithmeticOverflow, a, b, c)
	}
	return quotient.Uint64(), nil
}

// Bps returns floor(amount*bps/10000). Fractions are truncated toward zero so
// rounding dust stays with the payer.
func Bps(amount uint64, bps uint32) (uint64, error) {
	if uint64(bps) > BpsDenominator {
		return 0, fmt.Errorf("%w: %d bps exceeds 100%%", coreerrors.ErrArithmeticOverflow, bps)
	}
	return MulDiv(amount, uint64(bps), BpsDenominator)
}

// Sum adds every value, failing on the first overflow.
func Sum(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		next, err := Add(total, v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
