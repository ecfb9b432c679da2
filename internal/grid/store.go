// Package grid stores the canonical domain of a lattice generation. Every
// store keeps two generations: the current one, read while a step runs, and
// the next one, accumulated by Add and promoted by Swap.
package grid

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"aether-ca/internal/lattice"
	"aether-ca/internal/number"
)

// Strategy names a storage implementation. It is recorded in backups.
type Strategy string

const (
	// Memory keeps every slab in memory.
	Memory Strategy = "memory"
	// Paged keeps a few blocks of slabs in memory and the rest on disk.
	Paged Strategy = "paged"
	// Flat keeps each generation in one random-access file.
	Flat Strategy = "flat"
)

// Strategies lists every storage strategy.
func Strategies() []Strategy { return []Strategy{Memory, Paged, Flat} }

// ErrNotFixedWidth is returned when the flat store is asked to hold values
// without a fixed binary size.
var ErrNotFixedWidth = errors.New("grid: numeric kind has no fixed width")

// DefaultBlockCells bounds the number of cells in one paged block.
const DefaultBlockCells = 1 << 16

// Store holds the current and next generation of the canonical domain.
// Coordinates passed to a store are always canonical.
type Store[T any] interface {
	// Get reads the current generation. Unwritten cells read as zero.
	Get(c lattice.Coord) T
	// Add accumulates delta into the next generation.
	Add(c lattice.Coord, delta T)
	// Seed writes v into the current generation.
	Seed(c lattice.Coord, v T)
	// Release promises that slabs of the current generation with primary
	// coordinate below w will not be read again before Swap.
	Release(w int)
	// Swap promotes the next generation and starts an empty one.
	Swap() error
	// Abort drops the next generation after a failed step.
	Abort() error
	// Err returns the first I/O error hit by Get, Add or Seed.
	Err() error
	// Snapshot writes the current generation into dir and returns the names
	// of the files it wrote.
	Snapshot(dir string) ([]string, error)
	Close() error
	Strategy() Strategy
}

// Options configures a store.
type Options struct {
	Dim int
	// Dir is the working folder of disk-backed stores.
	Dir string
	// Step is the step number of the current generation.
	Step int64
	// BlockCells bounds the cells of one paged block.
	BlockCells int
	Log        logrus.FieldLogger
}

func (o *Options) defaults() error {
	if err := lattice.CheckDim(o.Dim); err != nil {
		return err
	}
	if o.BlockCells <= 0 {
		o.BlockCells = DefaultBlockCells
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	return nil
}

// New returns an empty store of the given strategy.
func New[T any](s Strategy, a number.Arith[T], opts Options) (Store[T], error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	switch s {
	case Memory:
		return newMemory(a, opts), nil
	case Paged:
		return newPaged(a, opts, "")
	case Flat:
		return newFlat(a, opts, "")
	}
	return nil, fmt.Errorf("grid: unknown strategy %q", s)
}

// Open returns a store whose current generation is the snapshot in dir, as
// written by Snapshot. Disk-backed stores read dir in place and never modify
// it.
func Open[T any](s Strategy, a number.Arith[T], opts Options, dir string) (Store[T], error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	switch s {
	case Memory:
		return openMemory(a, opts, dir)
	case Paged:
		return newPaged(a, opts, dir)
	case Flat:
		return newFlat(a, opts, dir)
	}
	return nil, fmt.Errorf("grid: unknown strategy %q", s)
}

// offset returns the index of canonical c inside its slab.
func offset(dim int, c lattice.Coord) int {
	return int(lattice.Rank(dim, c) - lattice.SlabStart(dim, c[0]))
}

// encodableZero returns a zero value that survives gob encoding. The zero
// value of pointer kinds is nil, which gob rejects inside slices.
func encodableZero[T any](a number.Arith[T]) T {
	var z T
	return a.Add(z, z)
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFiles(dstDir, srcDir string, names []string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	for _, name := range names {
		if err := copyFile(filepath.Join(dstDir, name), filepath.Join(srcDir, name)); err != nil {
			return err
		}
	}
	return nil
}
