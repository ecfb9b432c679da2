package number

import (
	"fmt"
	"math/big"
)

var (
	zeroInt = new(big.Int)
	zeroRat = new(big.Rat)
)

// BigInt implements Arith for *big.Int. A nil pointer reads as zero.
type BigInt struct{}

func bi(a *big.Int) *big.Int {
	if a == nil {
		return zeroInt
	}
	return a
}

func (BigInt) Kind() Kind { return KindBigInt }
func (BigInt) Add(a, b *big.Int) *big.Int { return new(big.Int).Add(bi(a), bi(b)) }
func (BigInt) Sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(bi(a), bi(b)) }
func (BigInt) Cmp(a, b *big.Int) int { return bi(a).Cmp(bi(b)) }
func (BigInt) IsZero(a *big.Int) bool { return a == nil || a.Sign() == 0 }
func (BigInt) Format(a *big.Int) string { return bi(a).String() }

func (BigInt) MulInt(a *big.Int, k int) *big.Int {
	return new(big.Int).Mul(bi(a), big.NewInt(int64(k)))
}

// QuoRem uses truncated division, matching machine integers.
func (BigInt) QuoRem(a *big.Int, k int) (*big.Int, *big.Int) {
	return new(big.Int).QuoRem(bi(a), big.NewInt(int64(k)), new(big.Int))
}

func (BigInt) Parse(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("number: bigint: invalid value %q", s)
	}
	return v, nil
}

// Rational implements Arith for *big.Rat. Division is exact, so QuoRem never
// leaves a remainder and a toppling cell always shares evenly.
type Rational struct{}

func br(a *big.Rat) *big.Rat {
	if a == nil {
		return zeroRat
	}
	return a
}

func (Rational) Kind() Kind { return KindRational }
func (Rational) Add(a, b *big.Rat) *big.Rat { return new(big.Rat).Add(br(a), br(b)) }
func (Rational) Sub(a, b *big.Rat) *big.Rat { return new(big.Rat).Sub(br(a), br(b)) }
func (Rational) Cmp(a, b *big.Rat) int { return br(a).Cmp(br(b)) }
func (Rational) IsZero(a *big.Rat) bool { return a == nil || a.Sign() == 0 }
func (Rational) Format(a *big.Rat) string { return br(a).RatString() }

func (Rational) MulInt(a *big.Rat, k int) *big.Rat {
	return new(big.Rat).Mul(br(a), new(big.Rat).SetInt64(int64(k)))
}

func (Rational) QuoRem(a *big.Rat, k int) (*big.Rat, *big.Rat) {
	return new(big.Rat).Quo(br(a), new(big.Rat).SetInt64(int64(k))), new(big.Rat)
}

func (Rational) Parse(s string) (*big.Rat, error) {
	v, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("number: rational: invalid value %q", s)
	}
	return v, nil
}
