// Package modmath provides exact modular arithmetic over 64-bit operands.
//
// Every multiply-before-reduce step widens to 128 bits via math/bits, so
// results are exact for any uint64 inputs. The package never wraps
// silently; callers that need the "does it still fit in 64 bits" answer
// use Uint128 and check Hi.
package modmath

import "math/bits"

// ExtendedGCD returns gcd(a, b) along with Bézout coefficients x, y such
// that a*x + b*y == gcd(a, b). Iterative to keep stack depth flat even
// though the fixed prime set would make recursion shallow.
func ExtendedGCD(a, b int64) (gcd, x, y int64) {
	x0, x1 := int64(1), int64(0)
	y0, y1 := int64(0), int64(1)
	for b != 0 {
		q := a / b
		a, b = b, a-q*b
		x0, x1 = x1, x0-q*x1
		y0, y1 = y1, y0-q*y1
	}
	return a, x0, y0
}

// Inverse returns the multiplicative inverse of a modulo m, and whether it
// exists. The inverse exists iff gcd(a mod m, m) == 1.
func Inverse(a, m uint64) (uint64, bool) {
	if m == 0 {
		return 0, false
	}
	a %= m
	if a == 0 {
		return 0, false
	}
	gcd, x, _ := ExtendedGCD(int64(a), int64(m))
	if gcd != 1 {
		return 0, false
	}
	// Normalize the Bézout coefficient into [0, m).
	inv := x % int64(m)
	if inv < 0 {
		inv += int64(m)
	}
	return uint64(inv), true
}

// MulMod returns (a * b) mod m using a 128-bit intermediate.
func MulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	// (hi:lo) mod m == ((hi mod m):lo) mod m, and hi mod m < m satisfies
	// the Div64 precondition.
	_, rem := bits.Div64(hi%m, lo, m)
	return rem
}

// Uint128 is an unsigned 128-bit integer, used for running CRT products
// and partial solutions that legitimately exceed 64 bits.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// U128 returns v widened to 128 bits.
func U128(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// IsUint64 reports whether v fits in 64 bits.
func (v Uint128) IsUint64() bool {
	return v.Hi == 0
}

// Mod64 returns v mod m.
func (v Uint128) Mod64(m uint64) uint64 {
	_, rem := bits.Div64(v.Hi%m, v.Lo, m)
	return rem
}

// Mul64 returns v * by and whether the product overflowed 128 bits.
func (v Uint128) Mul64(by uint64) (Uint128, bool) {
	hi, lo := bits.Mul64(v.Lo, by)
	over, hiProd := bits.Mul64(v.Hi, by)
	if over != 0 {
		return Uint128{}, true
	}
	hi, carry := bits.Add64(hi, hiProd, 0)
	if carry != 0 {
		return Uint128{}, true
	}
	return Uint128{Hi: hi, Lo: lo}, false
}

// Add returns v + o and whether the sum overflowed 128 bits.
func (v Uint128) Add(o Uint128) (Uint128, bool) {
	lo, carry := bits.Add64(v.Lo, o.Lo, 0)
	hi, carry := bits.Add64(v.Hi, o.Hi, carry)
	return Uint128{Hi: hi, Lo: lo}, carry != 0
}
