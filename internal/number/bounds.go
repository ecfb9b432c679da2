package number

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrOutOfRange is returned when a seed would let cell values leave the range
// of a fixed-width kind during evolution.
var ErrOutOfRange = errors.New("number: seed out of range")

// MaxNeighborDifference returns the largest difference between neighbouring
// cells reached while evolving a single source of the given value.
func MaxNeighborDifference(dim int, seed *big.Int) (*big.Int, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("number: dimension must be greater than zero, got %d", dim)
	}
	if seed.Sign() >= 0 {
		return new(big.Int).Set(seed), nil
	}
	if dim == 1 {
		return new(big.Int).Neg(seed), nil
	}
	half := new(big.Int).Quo(new(big.Int).Neg(seed), big.NewInt(2))
	half.Mul(half, big.NewInt(int64(2*dim+1)))
	return half.Add(half, seed).Abs(half), nil
}

// MinSingleSource returns the most negative seed whose evolution keeps every
// neighbour difference within max.
func MinSingleSource(dim int, max *big.Int) (*big.Int, error) {
	switch max.Sign() {
	case -1:
		return nil, fmt.Errorf("number: max cannot be negative, got %s", max)
	case 0:
		return new(big.Int), nil
	}
	if dim <= 0 {
		return nil, fmt.Errorf("number: dimension must be greater than zero, got %d", dim)
	}
	if dim == 1 {
		return new(big.Int).Neg(max), nil
	}
	span := big.NewInt(int64(2*dim - 1))
	if max.Cmp(span) < 0 {
		return big.NewInt(-1), nil
	}
	// -1 needs 1, then each further step alternates between -1 and +2*dim.
	min1 := new(big.Int).Mul(max, big.NewInt(2))
	min1.Quo(min1, new(big.Int).Neg(span))
	min2 := new(big.Int).Sub(min1, big.NewInt(1))
	diff, err := MaxNeighborDifference(dim, min2)
	if err != nil {
		return nil, err
	}
	if diff.Cmp(max) > 0 {
		return min1, nil
	}
	return min2, nil
}

// CheckSingleSource validates a seed against the range of a. Unbounded kinds
// accept any seed.
func CheckSingleSource[T any](a Arith[T], dim int, seed T) error {
	fw, ok := a.(FixedWidth[T])
	if !ok {
		return nil
	}
	min, err := MinSingleSource(dim, fw.Max())
	if err != nil {
		return err
	}
	if fw.ToBig(seed).Cmp(min) < 0 {
		return fmt.Errorf("%w: %s seed cannot be smaller than %s in %dD", ErrOutOfRange, a.Kind(), min, dim)
	}
	return nil
}
