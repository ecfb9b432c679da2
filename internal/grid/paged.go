package grid

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"

	"aether-ca/internal/lattice"
	"aether-ca/internal/number"
)

// residentBlocks is how many blocks of one generation stay in memory. The
// engine touches slabs w-1, w and w+1, which never span more than two blocks.
const residentBlocks = 2

// block is a run of consecutive slabs [lo, hi] stored together.
type block[T any] struct {
	lo, hi int
	// values is nil while every cell of the block is zero.
	values []T
	dirty  bool
}

func blockName(lo, hi int) string { return fmt.Sprintf("w=%d-%d.gob", lo, hi) }

type generation[T any] struct {
	step     int64
	dir      string
	owned    bool
	cache    *lru.Cache
	resident map[int]*block[T]
	// released counts the leading blocks dropped by Release.
	released int
	discard  bool
}

// pagedStore keeps each generation as a folder of block files with a small
// LRU of resident blocks per generation.
type pagedStore[T any] struct {
	a          number.Arith[T]
	dim        int
	blockCells int
	root       string
	// ends[i] is the last slab of block i; block i starts at ends[i-1]+1.
	ends     []int
	cur, nxt *generation[T]
	log      logrus.FieldLogger
	err      error
}

func newPaged[T any](a number.Arith[T], opts Options, restored string) (*pagedStore[T], error) {
	if opts.Dir == "" {
		return nil, errors.New("grid: paged: a working folder is required")
	}
	p := &pagedStore[T]{
		a:          a,
		dim:        opts.Dim,
		blockCells: opts.BlockCells,
		root:       opts.Dir,
		log:        opts.Log.WithField("store", Paged),
	}
	if restored != "" {
		if _, err := os.Stat(restored); err != nil {
			return nil, fmt.Errorf("grid: paged: %w", err)
		}
		p.cur = p.newGeneration(opts.Step, restored, false)
	} else {
		cur, err := p.ownedGeneration(opts.Step)
		if err != nil {
			return nil, err
		}
		p.cur = cur
	}
	nxt, err := p.ownedGeneration(opts.Step + 1)
	if err != nil {
		return nil, err
	}
	p.nxt = nxt
	return p, nil
}

func (p *pagedStore[T]) newGeneration(step int64, dir string, owned bool) *generation[T] {
	g := &generation[T]{
		step:     step,
		dir:      dir,
		owned:    owned,
		cache:    lru.New(residentBlocks),
		resident: map[int]*block[T]{},
	}
	g.cache.OnEvicted = func(_ lru.Key, v interface{}) {
		b := v.(*block[T])
		delete(g.resident, b.lo)
		if b.dirty && !g.discard {
			p.fail(p.write(g, b))
		}
	}
	return g
}

func (p *pagedStore[T]) ownedGeneration(step int64) (*generation[T], error) {
	dir := filepath.Join(p.root, fmt.Sprintf("gen=%d", step))
	// a previous run may have left the folder behind
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("grid: paged: %w", err)
	}
	return p.newGeneration(step, dir, true), nil
}

func (p *pagedStore[T]) fail(err error) {
	if err == nil || p.err != nil {
		return
	}
	p.err = err
	p.log.WithError(err).Error("paged store I/O failed")
}

func (p *pagedStore[T]) Strategy() Strategy { return Paged }
func (p *pagedStore[T]) Err() error { return p.err }

// bounds returns the block holding slab w. The partition only depends on the
// dimension and the block size, so it is the same for every generation.
func (p *pagedStore[T]) bounds(w int) (int, int) {
	for len(p.ends) == 0 || p.ends[len(p.ends)-1] < w {
		lo := 0
		if n := len(p.ends); n > 0 {
			lo = p.ends[n-1] + 1
		}
		hi := lo + 1
		cells := lattice.SlabSize(p.dim, lo) + lattice.SlabSize(p.dim, hi)
		for cells+lattice.SlabSize(p.dim, hi+1) <= int64(p.blockCells) {
			hi++
			cells += lattice.SlabSize(p.dim, hi)
		}
		p.ends = append(p.ends, hi)
	}
	i := sort.SearchInts(p.ends, w)
	if i == 0 {
		return 0, p.ends[0]
	}
	return p.ends[i-1] + 1, p.ends[i]
}

func (p *pagedStore[T]) load(g *generation[T], w int) *block[T] {
	lo, hi := p.bounds(w)
	if v, ok := g.cache.Get(lo); ok {
		return v.(*block[T])
	}
	b := &block[T]{lo: lo, hi: hi}
	p.fail(p.read(g, b))
	g.cache.Add(lo, b)
	g.resident[lo] = b
	return b
}

func (p *pagedStore[T]) cells(b *block[T]) int64 {
	return lattice.SlabStart(p.dim, b.hi+1) - lattice.SlabStart(p.dim, b.lo)
}

func (p *pagedStore[T]) index(b *block[T], c lattice.Coord) int {
	return int(lattice.Rank(p.dim, c) - lattice.SlabStart(p.dim, b.lo))
}

func (p *pagedStore[T]) read(g *generation[T], b *block[T]) error {
	f, err := os.Open(filepath.Join(g.dir, blockName(b.lo, b.hi)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("grid: paged: %w", err)
	}
	defer f.Close()
	var vals []T
	if err := gob.NewDecoder(f).Decode(&vals); err != nil {
		return fmt.Errorf("grid: paged: decoding %s: %w", f.Name(), err)
	}
	if int64(len(vals)) != p.cells(b) {
		return fmt.Errorf("grid: paged: %s has %d cells, want %d", f.Name(), len(vals), p.cells(b))
	}
	b.values = vals
	return nil
}

func (p *pagedStore[T]) write(g *generation[T], b *block[T]) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("grid: paged: %w", err)
	}
	zero := encodableZero(p.a)
	vals := make([]T, len(b.values))
	for i, v := range b.values {
		if p.a.IsZero(v) {
			v = zero
		}
		vals[i] = v
	}
	name := filepath.Join(g.dir, blockName(b.lo, b.hi))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("grid: paged: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(vals); err != nil {
		f.Close()
		return fmt.Errorf("grid: paged: encoding %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("grid: paged: %w", err)
	}
	b.dirty = false
	p.log.WithFields(logrus.Fields{"step": g.step, "block": blockName(b.lo, b.hi)}).Debug("wrote block")
	return nil
}

func (p *pagedStore[T]) Get(c lattice.Coord) T {
	b := p.load(p.cur, c[0])
	if b.values == nil {
		var z T
		return z
	}
	return b.values[p.index(b, c)]
}

func (p *pagedStore[T]) set(g *generation[T], c lattice.Coord, v T, add bool) {
	b := p.load(g, c[0])
	if b.values == nil {
		b.values = make([]T, p.cells(b))
	}
	i := p.index(b, c)
	if add {
		v = p.a.Add(b.values[i], v)
	}
	b.values[i] = v
	b.dirty = true
}

func (p *pagedStore[T]) Add(c lattice.Coord, delta T) { p.set(p.nxt, c, delta, true) }
func (p *pagedStore[T]) Seed(c lattice.Coord, v T) { p.set(p.cur, c, v, false) }

func (p *pagedStore[T]) Release(w int) {
	g := p.cur
	for {
		p.bounds(w)
		if g.released >= len(p.ends) || p.ends[g.released] >= w {
			return
		}
		lo, hi := p.bounds(p.ends[g.released])
		if b, ok := g.resident[lo]; ok {
			b.dirty = false
			g.cache.Remove(lo)
		}
		if g.owned {
			err := os.Remove(filepath.Join(g.dir, blockName(lo, hi)))
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				p.fail(fmt.Errorf("grid: paged: %w", err))
			}
		}
		g.released++
	}
}

func (p *pagedStore[T]) drop(g *generation[T]) error {
	g.discard = true
	g.cache.Clear()
	if !g.owned {
		return nil
	}
	if err := os.RemoveAll(g.dir); err != nil {
		return fmt.Errorf("grid: paged: %w", err)
	}
	return nil
}

func (p *pagedStore[T]) Swap() error {
	if p.err != nil {
		return p.err
	}
	if err := p.drop(p.cur); err != nil {
		return err
	}
	p.cur = p.nxt
	nxt, err := p.ownedGeneration(p.cur.step + 1)
	if err != nil {
		return err
	}
	p.nxt = nxt
	return nil
}

func (p *pagedStore[T]) Abort() error {
	step := p.nxt.step
	if err := p.drop(p.nxt); err != nil {
		return err
	}
	nxt, err := p.ownedGeneration(step)
	if err != nil {
		return err
	}
	p.nxt = nxt
	return nil
}

func (p *pagedStore[T]) flush(g *generation[T]) error {
	for _, b := range g.resident {
		if b.dirty {
			if err := p.write(g, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pagedStore[T]) Snapshot(dir string) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	if err := p.flush(p.cur); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.cur.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("grid: paged: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "w=") && strings.HasSuffix(e.Name(), ".gob") {
			names = append(names, e.Name())
		}
	}
	if err := copyFiles(dir, p.cur.dir, names); err != nil {
		return nil, fmt.Errorf("grid: paged: %w", err)
	}
	return names, nil
}

func (p *pagedStore[T]) Close() error {
	err := p.drop(p.nxt)
	if cerr := p.drop(p.cur); err == nil {
		err = cerr
	}
	return err
}
