package mathhelp

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Epsilon is the relative tolerance used to decide that a float lies on a whole number.
const Epsilon = 1e-9

func BetweenInc[T constraints.Ordered](f, p, q T) bool {
	if p <= q {
		return p <= f && f <= q
	}
	return q <= f && f <= p
}

func Pow2(n uint) uint {
	return 1 << n
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SnapWhole returns the nearest whole number when f is within Epsilon of it, otherwise f itself.
// Grid arithmetic (offset / tile size) is expected to land on tile boundaries,
// a result like 2.9999999999999996 must count as 3.
func SnapWhole(f float64) float64 {
	r := math.Round(f)
	if math.Abs(f-r) <= Epsilon*math.Max(1, math.Abs(r)) {
		return r
	}
	return f
}

func IsWhole(f float64) bool {
	return f == math.Trunc(f)
}

// RoundHalfDown rounds to the nearest integer, ties go to the lower one.
func RoundHalfDown(f float64) int {
	return int(math.Ceil(SnapWhole(f) - 0.5))
}
