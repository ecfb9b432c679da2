// Package lattice maps the integer lattice Z^d (1 <= d <= 4) onto its
// canonical domain, the cells with non-negative, non-increasing coordinates,
// and orders that domain into slabs by the first coordinate.
package lattice

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDim is the largest supported dimension.
const MaxDim = 4

// Coord is a lattice position. Components past the dimension in use are zero.
type Coord [MaxDim]int

// CheckDim returns an error unless 1 <= dim <= MaxDim.
func CheckDim(dim int) error {
	if dim < 1 || dim > MaxDim {
		return fmt.Errorf("lattice: dimension must be between 1 and %d, got %d", MaxDim, dim)
	}
	return nil
}

// Canonical folds c into the canonical domain by taking absolute values and
// sorting them in descending order.
func Canonical(dim int, c Coord) Coord {
	var out Coord
	for i := 0; i < dim; i++ {
		v := c[i]
		if v < 0 {
			v = -v
		}
		// insertion keeps out[:i+1] descending
		j := i
		for j > 0 && out[j-1] < v {
			out[j] = out[j-1]
			j--
		}
		out[j] = v
	}
	return out
}

// IsCanonical reports whether c is its own canonical representative.
func IsCanonical(dim int, c Coord) bool {
	for i := 0; i < dim; i++ {
		if c[i] < 0 || (i > 0 && c[i] > c[i-1]) {
			return false
		}
	}
	for i := dim; i < MaxDim; i++ {
		if c[i] != 0 {
			return false
		}
	}
	return true
}

// Binomial returns n choose k for small k, or 0 when k > n.
func Binomial(n, k int) int64 {
	if k < 0 || n < k {
		return 0
	}
	r := int64(1)
	for i := 0; i < k; i++ {
		r = r * int64(n-i) / int64(i+1)
	}
	return r
}

// Rank returns the position of canonical c in slab order. Cells are ordered
// lexicographically, so slab w occupies [SlabStart(w), SlabStart(w+1)).
func Rank(dim int, c Coord) int64 {
	var r int64
	for i := 0; i < dim; i++ {
		r += Binomial(c[i]+dim-1-i, dim-i)
	}
	return r
}

// SlabStart is the rank of the first cell with c[0] == w.
func SlabStart(dim, w int) int64 { return Binomial(w+dim-1, dim) }

// SlabSize is the number of canonical cells with c[0] == w.
func SlabSize(dim, w int) int64 { return Binomial(w+dim-1, dim-1) }

// Next returns the canonical cell that follows c in rank order.
func Next(dim int, c Coord) Coord {
	for i := dim - 1; i > 0; i-- {
		if c[i] < c[i-1] {
			c[i]++
			for j := i + 1; j < dim; j++ {
				c[j] = 0
			}
			return c
		}
	}
	c[0]++
	for j := 1; j < dim; j++ {
		c[j] = 0
	}
	return c
}

// OrbitSize returns how many lattice cells fold onto canonical c.
func OrbitSize(dim int, c Coord) int {
	size := factorial(dim)
	run := 1
	for i := 0; i < dim; i++ {
		if c[i] != 0 {
			size *= 2
		}
		if i > 0 && c[i] == c[i-1] {
			run++
		} else {
			size /= factorial(run)
			run = 1
		}
	}
	return size / factorial(run)
}

func factorial(n int) int {
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
	}
	return f
}

// Format renders the first dim components of c as "(x,y,...)".
func Format(dim int, c Coord) string {
	parts := make([]string, dim)
	for i := range parts {
		parts[i] = strconv.Itoa(c[i])
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Parse reads a comma separated coordinate with exactly dim components.
// Surrounding parentheses are optional.
func Parse(dim int, s string) (Coord, error) {
	var c Coord
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "("), ")")
	parts := strings.Split(s, ",")
	if len(parts) != dim {
		return c, fmt.Errorf("lattice: %q has %d components, want %d", s, len(parts), dim)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return c, fmt.Errorf("lattice: component %d of %q: %w", i, s, err)
		}
		c[i] = v
	}
	return c, nil
}
