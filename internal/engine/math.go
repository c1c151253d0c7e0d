package engine

import "github.com/holiman/uint256"

var bpsDenominator = uint256.NewInt(10_000)

func zero() *uint256.Int { return new(uint256.Int) }

// orZero returns a copy of v, or zero when v is nil.
func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zero()
	}
	return new(uint256.Int).Set(v)
}

func add(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Add(orZero(a), orZero(b))
}

// subSat returns max(a-b, 0).
func subSat(a, b *uint256.Int) *uint256.Int {
	x, y := orZero(a), orZero(b)
	if x.Lt(y) {
		return zero()
	}
	return x.Sub(x, y)
}

func maxOf(a, b *uint256.Int) *uint256.Int {
	x, y := orZero(a), orZero(b)
	if x.Lt(y) {
		return y
	}
	return x
}

func minOf(a, b *uint256.Int) *uint256.Int {
	x, y := orZero(a), orZero(b)
	if y.Lt(x) {
		return y
	}
	return x
}

// bps returns v * rate / 10000, saturating on overflow.
func bps(v *uint256.Int, rate uint16) *uint256.Int {
	out, overflow := new(uint256.Int).MulDivOverflow(orZero(v), uint256.NewInt(uint64(rate)), bpsDenominator)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
