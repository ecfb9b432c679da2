package number

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// FixedWidth is implemented by kinds whose values have a fixed binary size.
// Only these kinds can back a flat random-access grid file.
type FixedWidth[T any] interface {
	Arith[T]
	// Width is the encoded size of one value in bytes.
	Width() int
	PutBinary(b []byte, v T)
	Binary(b []byte) T
	// Max is the largest representable value.
	Max() *big.Int
	ToBig(v T) *big.Int
}

// Fixed implements Arith for machine integers. Overflow wraps, so sums that
// temporarily leave the range come back exact as long as the final value fits.
type Fixed[T int32 | int64] struct{}

var (
	// Int32 is the arithmetic of 32-bit cell values.
	Int32 Fixed[int32]
	// Int64 is the arithmetic of 64-bit cell values.
	Int64 Fixed[int64]
)

func (Fixed[T]) bits() int {
	var z T
	if _, ok := any(z).(int32); ok {
		return 32
	}
	return 64
}

// Kind reports KindInt32 or KindInt64.
func (f Fixed[T]) Kind() Kind {
	if f.bits() == 32 {
		return KindInt32
	}
	return KindInt64
}

func (Fixed[T]) Add(a, b T) T { return a + b }
func (Fixed[T]) Sub(a, b T) T { return a - b }
func (Fixed[T]) MulInt(a T, k int) T { return a * T(k) }
func (Fixed[T]) IsZero(a T) bool { return a == 0 }
func (Fixed[T]) Format(a T) string { return strconv.FormatInt(int64(a), 10) }
func (Fixed[T]) ToBig(v T) *big.Int { return big.NewInt(int64(v)) }
func (f Fixed[T]) Width() int { return f.bits() / 8 }

func (Fixed[T]) QuoRem(a T, k int) (T, T) {
	d := T(k)
	return a / d, a % d
}

func (Fixed[T]) Cmp(a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Parse reads a base 10 integer, failing when it does not fit the width.
func (f Fixed[T]) Parse(s string) (T, error) {
	v, err := strconv.ParseInt(s, 10, f.bits())
	if err != nil {
		return 0, fmt.Errorf("number: %s: %w", f.Kind(), err)
	}
	return T(v), nil
}

// Max returns the largest value of the width.
func (f Fixed[T]) Max() *big.Int {
	if f.bits() == 32 {
		return big.NewInt(math.MaxInt32)
	}
	return big.NewInt(math.MaxInt64)
}

// PutBinary encodes v big-endian into b[:Width()].
func (f Fixed[T]) PutBinary(b []byte, v T) {
	if f.bits() == 32 {
		binary.BigEndian.PutUint32(b, uint32(v))
		return
	}
	binary.BigEndian.PutUint64(b, uint64(v))
}

// Binary decodes a value written by PutBinary.
func (f Fixed[T]) Binary(b []byte) T {
	if f.bits() == 32 {
		return T(int32(binary.BigEndian.Uint32(b)))
	}
	return T(int64(binary.BigEndian.Uint64(b)))
}
