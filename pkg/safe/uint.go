// Package safe provides overflow-checked integer arithmetic for ledger quantities.
package safe

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// ErrOverflow is returned when an operation leaves the target range.
var ErrOverflow = errors.New("integer overflow")

// ErrUnderflow is returned when a subtraction would go below zero.
var ErrUnderflow = errors.New("integer underflow")

type integer interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// Uint32 converts signed or unsigned integers to uint32 with range validation.
func Uint32[T integer](v T) (uint32, error) {
	u, err := Uint64(v)
	if err != nil {
		return 0, err
	}
	if u > math.MaxUint32 {
		return 0, fmt.Errorf("value %d out of uint32 range: %w", v, ErrOverflow)
	}
	return uint32(u), nil
}

// Uint64 converts signed or unsigned integers to uint64 while guarding against negatives.
func Uint64[T integer](v T) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("value %d out of uint64 range: %w", v, ErrUnderflow)
	}
	return uint64(v), nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrOverflow)
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%d - %d: %w", a, b, ErrUnderflow)
	}
	return diff, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%d * %d: %w", a, b, ErrOverflow)
	}
	return lo, nil
}

// Sum adds all values or returns ErrOverflow.
func Sum(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
