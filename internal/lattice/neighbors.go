package lattice

import "sync"

// Neighbor is one distinct canonical cell adjacent to a canonical cell c.
type Neighbor struct {
	Coord Coord
	// Count is how many of the 2*dim lattice neighbours of c fold onto Coord.
	Count int
	// Multiplier is what Coord receives per unit shared by c, accounting for
	// every cell of both orbits.
	Multiplier int
}

type offset struct {
	delta      Coord
	count      int
	multiplier int
}

// pattern captures everything the folded neighbourhood of a canonical cell
// depends on: consecutive gaps and the last component, clamped to 0, 1 or 2+.
type pattern struct {
	dim  int
	gaps [MaxDim]uint8
}

var (
	tablesMu sync.RWMutex
	tables   = map[pattern][]offset{}
)

func clamp(v int) uint8 {
	if v > 2 {
		return 2
	}
	return uint8(v)
}

func patternOf(dim int, c Coord) pattern {
	p := pattern{dim: dim}
	for i := 0; i < dim-1; i++ {
		p.gaps[i] = clamp(c[i] - c[i+1])
	}
	p.gaps[dim-1] = clamp(c[dim-1])
	return p
}

// AppendNeighbors appends the distinct canonical neighbours of canonical c to
// dst. The result is memoized per neighbourhood shape and safe for concurrent
// use.
func AppendNeighbors(dst []Neighbor, dim int, c Coord) []Neighbor {
	key := patternOf(dim, c)
	tablesMu.RLock()
	offs, ok := tables[key]
	tablesMu.RUnlock()
	if !ok {
		offs = buildOffsets(dim, c)
		tablesMu.Lock()
		tables[key] = offs
		tablesMu.Unlock()
	}
	for _, o := range offs {
		var n Coord
		for i := 0; i < dim; i++ {
			n[i] = c[i] + o.delta[i]
		}
		dst = append(dst, Neighbor{Coord: n, Count: o.count, Multiplier: o.multiplier})
	}
	return dst
}

// Neighbors returns the distinct canonical neighbours of canonical c.
func Neighbors(dim int, c Coord) []Neighbor {
	return AppendNeighbors(make([]Neighbor, 0, 2*dim), dim, c)
}

func buildOffsets(dim int, c Coord) []offset {
	var offs []offset
	index := map[Coord]int{}
	for i := 0; i < dim; i++ {
		for _, step := range [2]int{1, -1} {
			n := c
			n[i] += step
			p := Canonical(dim, n)
			var delta Coord
			for j := 0; j < dim; j++ {
				delta[j] = p[j] - c[j]
			}
			if k, seen := index[p]; seen {
				offs[k].count++
				continue
			}
			index[p] = len(offs)
			offs = append(offs, offset{delta: delta, count: 1})
		}
	}
	orbit := OrbitSize(dim, c)
	for k := range offs {
		var p Coord
		for j := 0; j < dim; j++ {
			p[j] = c[j] + offs[k].delta[j]
		}
		offs[k].multiplier = offs[k].count * orbit / OrbitSize(dim, p)
	}
	return offs
}
