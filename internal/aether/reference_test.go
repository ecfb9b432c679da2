package aether

import (
	"sort"

	"aether-ca/internal/lattice"
)

// fullLattice evolves the whole lattice without folding, one map entry per
// non-zero cell.
type fullLattice struct {
	dim   int
	cells map[lattice.Coord]int64
	// toppled holds the cells that toppled in the last step.
	toppled map[lattice.Coord]bool
}

func newFullLattice(dim int, seed int64) *fullLattice {
	return &fullLattice{dim: dim, cells: map[lattice.Coord]int64{{}: seed}}
}

func (f *fullLattice) neighbors(c lattice.Coord) []lattice.Coord {
	out := make([]lattice.Coord, 0, 2*f.dim)
	for i := 0; i < f.dim; i++ {
		for _, s := range [2]int{1, -1} {
			n := c
			n[i] += s
			out = append(out, n)
		}
	}
	return out
}

func (f *fullLattice) step() bool {
	visit := map[lattice.Coord]bool{}
	for c := range f.cells {
		visit[c] = true
		for _, n := range f.neighbors(c) {
			visit[n] = true
		}
	}
	type cell struct {
		c lattice.Coord
		v int64
	}
	next := map[lattice.Coord]int64{}
	toppled := map[lattice.Coord]bool{}
	changed := false
	for c := range visit {
		value := f.cells[c]
		var rel []cell
		for _, n := range f.neighbors(c) {
			if v := f.cells[n]; v < value {
				rel = append(rel, cell{n, v})
			}
		}
		sort.Slice(rel, func(i, j int) bool { return rel[i].v > rel[j].v })
		shareCount := int64(len(rel) + 1)
		for i := 0; i < len(rel); {
			j := i
			for j < len(rel) && rel[j].v == rel[i].v {
				j++
			}
			toShare := value - rel[i].v
			share, rem := toShare/shareCount, toShare%shareCount
			if share != 0 {
				changed = true
				toppled[c] = true
				value = value - toShare + share + rem
				for _, r := range rel[i:] {
					next[r.c] += share
				}
			}
			shareCount -= int64(j - i)
			i = j
		}
		next[c] += value
	}
	for c, v := range next {
		if v == 0 {
			delete(next, c)
		}
	}
	f.cells = next
	f.toppled = toppled
	return changed
}

// images returns every permutation and sign flip of c.
func images(dim int, c lattice.Coord) []lattice.Coord {
	var out []lattice.Coord
	var permute func(k int, cur lattice.Coord, used [lattice.MaxDim]bool)
	permute = func(k int, cur lattice.Coord, used [lattice.MaxDim]bool) {
		if k == dim {
			for mask := 0; mask < 1<<dim; mask++ {
				img := cur
				for i := 0; i < dim; i++ {
					if mask&(1<<i) != 0 {
						img[i] = -img[i]
					}
				}
				out = append(out, img)
			}
			return
		}
		for i := 0; i < dim; i++ {
			if !used[i] {
				used[i] = true
				cur[k] = c[i]
				permute(k+1, cur, used)
				used[i] = false
			}
		}
	}
	permute(0, lattice.Coord{}, [lattice.MaxDim]bool{})
	return out
}
