package grid

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"aether-ca/internal/lattice"
	"aether-ca/internal/number"
)

const (
	slabsFile    = "slabs.gob"
	growthMargin = 8
)

// memoryStore keeps one slice per slab, indexed by primary coordinate.
type memoryStore[T any] struct {
	a        number.Arith[T]
	dim      int
	cur, nxt [][]T
}

// slabRecord is the gob form of one allocated slab.
type slabRecord[T any] struct {
	W      int
	Values []T
}

func newMemory[T any](a number.Arith[T], opts Options) *memoryStore[T] {
	return &memoryStore[T]{a: a, dim: opts.Dim}
}

func openMemory[T any](a number.Arith[T], opts Options, dir string) (*memoryStore[T], error) {
	f, err := os.Open(filepath.Join(dir, slabsFile))
	if err != nil {
		return nil, fmt.Errorf("grid: memory: %w", err)
	}
	defer f.Close()
	var recs []slabRecord[T]
	if err := gob.NewDecoder(f).Decode(&recs); err != nil {
		return nil, fmt.Errorf("grid: memory: decoding %s: %w", f.Name(), err)
	}
	m := newMemory(a, opts)
	for _, r := range recs {
		if want := lattice.SlabSize(m.dim, r.W); int64(len(r.Values)) != want {
			return nil, fmt.Errorf("grid: memory: slab %d has %d cells, want %d", r.W, len(r.Values), want)
		}
		m.cur = m.grow(m.cur, r.W)
		m.cur[r.W] = r.Values
	}
	return m, nil
}

func (m *memoryStore[T]) Strategy() Strategy { return Memory }
func (m *memoryStore[T]) Err() error { return nil }

func (m *memoryStore[T]) Close() error {
	m.cur, m.nxt = nil, nil
	return nil
}

func (m *memoryStore[T]) grow(slabs [][]T, w int) [][]T {
	if w < len(slabs) {
		return slabs
	}
	if w < cap(slabs) {
		return slabs[:w+1]
	}
	out := make([][]T, w+1, w+1+growthMargin)
	copy(out, slabs)
	return out
}

func (m *memoryStore[T]) slab(slabs [][]T, w int) [][]T {
	slabs = m.grow(slabs, w)
	if slabs[w] == nil {
		slabs[w] = make([]T, lattice.SlabSize(m.dim, w))
	}
	return slabs
}

func (m *memoryStore[T]) Get(c lattice.Coord) T {
	w := c[0]
	if w >= len(m.cur) || m.cur[w] == nil {
		var z T
		return z
	}
	return m.cur[w][offset(m.dim, c)]
}

func (m *memoryStore[T]) Add(c lattice.Coord, delta T) {
	w := c[0]
	m.nxt = m.slab(m.nxt, w)
	i := offset(m.dim, c)
	m.nxt[w][i] = m.a.Add(m.nxt[w][i], delta)
}

func (m *memoryStore[T]) Seed(c lattice.Coord, v T) {
	w := c[0]
	m.cur = m.slab(m.cur, w)
	m.cur[w][offset(m.dim, c)] = v
}

func (m *memoryStore[T]) Release(w int) {
	for i := 0; i < w && i < len(m.cur); i++ {
		m.cur[i] = nil
	}
}

func (m *memoryStore[T]) Swap() error {
	m.cur, m.nxt = m.nxt, nil
	return nil
}

func (m *memoryStore[T]) Abort() error {
	m.nxt = nil
	return nil
}

func (m *memoryStore[T]) Snapshot(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("grid: memory: %w", err)
	}
	zero := encodableZero(m.a)
	recs := []slabRecord[T]{}
	for w, s := range m.cur {
		if s == nil {
			continue
		}
		vals := make([]T, len(s))
		for i, v := range s {
			if m.a.IsZero(v) {
				v = zero
			}
			vals[i] = v
		}
		recs = append(recs, slabRecord[T]{W: w, Values: vals})
	}
	f, err := os.Create(filepath.Join(dir, slabsFile))
	if err != nil {
		return nil, fmt.Errorf("grid: memory: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(recs); err != nil {
		f.Close()
		return nil, fmt.Errorf("grid: memory: encoding %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("grid: memory: %w", err)
	}
	return []string{slabsFile}, nil
}
