package aether

import (
	"slices"

	"aether-ca/internal/lattice"
)

// stepContext collects what a step learns about the whole grid. It is merged
// into the model once the step completes.
type stepContext struct {
	changed bool
	// reached is the largest primary coordinate that received a non-zero
	// amount.
	reached int
}

// relevant is a neighbour whose value is strictly below the toppling cell.
type relevant[T any] struct {
	lattice.Neighbor
	value T
}

// evolve topples every canonical cell of the current generation into the
// next one, slab by slab, releasing each slab once nothing reads it again.
func (m *Model[T]) evolve() stepContext {
	var (
		ctx       stepContext
		neighbors []lattice.Neighbor
		rel       []relevant[T]
	)
	dim := m.cfg.Dimension
	c := lattice.Coord{}
	// cells past maxW are zero, but a zero cell next to a negative one topples
	for c[0] <= m.maxW+1 {
		w := c[0]
		for c[0] == w {
			neighbors, rel = m.topple(&ctx, c, neighbors[:0], rel[:0])
			c = lattice.Next(dim, c)
		}
		m.store.Release(w)
		if m.toppled != nil {
			m.toppled.Release(w)
		}
		if m.store.Err() != nil {
			return ctx
		}
	}
	return ctx
}

// topple redistributes the value of canonical cell c into the next
// generation. The buffers are returned for reuse.
func (m *Model[T]) topple(ctx *stepContext, c lattice.Coord, neighbors []lattice.Neighbor, rel []relevant[T]) ([]lattice.Neighbor, []relevant[T]) {
	a := m.a
	value := m.store.Get(c)
	neighbors = lattice.AppendNeighbors(neighbors, m.cfg.Dimension, c)
	shareCount := 1
	for _, n := range neighbors {
		if v := m.store.Get(n.Coord); a.Cmp(v, value) < 0 {
			rel = append(rel, relevant[T]{Neighbor: n, value: v})
			shareCount += n.Count
		}
	}
	slices.SortFunc(rel, func(x, y relevant[T]) int { return a.Cmp(y.value, x.value) })
	toppled := false
	for i := 0; i < len(rel); {
		group := rel[i].value
		groupCount := 0
		j := i
		for ; j < len(rel) && a.Cmp(rel[j].value, group) == 0; j++ {
			groupCount += rel[j].Count
		}
		toShare := a.Sub(value, group)
		share, rem := a.QuoRem(toShare, shareCount)
		if !a.IsZero(share) {
			toppled = true
			value = a.Add(a.Add(a.Sub(value, toShare), share), rem)
			for _, r := range rel[i:] {
				m.push(ctx, r.Coord, a.MulInt(share, r.Multiplier))
			}
		}
		shareCount -= groupCount
		i = j
	}
	if toppled {
		ctx.changed = true
		if m.toppled != nil {
			m.toppled.Add(c, 1)
		}
	}
	m.push(ctx, c, value)
	return neighbors, rel
}

// push accumulates v into the next generation at canonical p.
func (m *Model[T]) push(ctx *stepContext, p lattice.Coord, v T) {
	// next starts at zero, so adding zero is a no-op
	if m.a.IsZero(v) {
		return
	}
	m.store.Add(p, v)
	if p[0] > ctx.reached {
		ctx.reached = p[0]
	}
}
