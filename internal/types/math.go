package types

import "math/bits"

// CheckedAdd adds two running totals, failing with ErrMathOverflow instead of wrapping.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedIncrement adds one to a 32-bit counter.
func CheckedIncrement(n uint32) (uint32, error) {
	if n == ^uint32(0) {
		return 0, ErrMathOverflow
	}
	return n + 1, nil
}

// CheckedAddInt64 adds two signed values, typically a timestamp and a
// duration in seconds, failing with ErrMathOverflow instead of wrapping.
func CheckedAddInt64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrMathOverflow
	}
	return sum, nil
}
