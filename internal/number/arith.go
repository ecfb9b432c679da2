package number

// Kind names a numeric implementation. It is recorded in backups so a grid
// written with one kind is never read back with another.
type Kind string

const (
	// KindInt32 stores cell values as int32.
	KindInt32 Kind = "int32"
	// KindInt64 stores cell values as int64.
	KindInt64 Kind = "int64"
	// KindBigInt stores cell values as arbitrary precision integers.
	KindBigInt Kind = "bigint"
	// KindRational stores cell values as exact fractions.
	KindRational Kind = "rational"
)

// Kinds lists every supported numeric kind.
func Kinds() []Kind {
	return []Kind{KindInt32, KindInt64, KindBigInt, KindRational}
}

// Arith is the arithmetic the toppling engine needs over cell values of type
// T. Implementations never mutate their arguments, and the zero value of T is
// the additive identity.
type Arith[T any] interface {
	Kind() Kind
	Add(a, b T) T
	Sub(a, b T) T
	// MulInt multiplies a by a small integer factor.
	MulInt(a T, k int) T
	// QuoRem divides a by k truncating toward zero. The remainder has the
	// sign of a, so q*k + r == a.
	QuoRem(a T, k int) (q, r T)
	Cmp(a, b T) int
	IsZero(a T) bool
	Parse(s string) (T, error)
	Format(a T) string
}

// Lookup reports whether k names a supported kind.
func Lookup(k string) (Kind, bool) {
	for _, kind := range Kinds() {
		if string(kind) == k {
			return kind, true
		}
	}
	return "", false
}
