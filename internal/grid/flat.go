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

type flatFile struct {
	step  int64
	path  string
	f     *os.File
	owned bool
}

func flatName(step int64) string { return fmt.Sprintf("step=%d.data", step) }

// flatStore keeps each generation in one file where canonical c lives at
// byte offset Rank(c)*Width. Holes and reads past the end are zero.
type flatStore[T any] struct {
	a        number.FixedWidth[T]
	dim      int
	root     string
	cur, nxt *flatFile
	buf      []byte
	log      logrus.FieldLogger
	err      error
}

func newFlat[T any](a number.Arith[T], opts Options, restored string) (*flatStore[T], error) {
	fw, ok := a.(number.FixedWidth[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFixedWidth, a.Kind())
	}
	if opts.Dir == "" {
		return nil, errors.New("grid: flat: a working folder is required")
	}
	s := &flatStore[T]{
		a:    fw,
		dim:  opts.Dim,
		root: opts.Dir,
		buf:  make([]byte, fw.Width()),
		log:  opts.Log.WithField("store", Flat),
	}
	if restored != "" {
		path := filepath.Join(restored, flatName(opts.Step))
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("grid: flat: %w", err)
		}
		s.cur = &flatFile{step: opts.Step, path: path, f: f}
	} else {
		cur, err := s.create(opts.Step)
		if err != nil {
			return nil, err
		}
		s.cur = cur
	}
	nxt, err := s.create(opts.Step + 1)
	if err != nil {
		s.cur.f.Close()
		return nil, err
	}
	s.nxt = nxt
	return s, nil
}

func (s *flatStore[T]) create(step int64) (*flatFile, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("grid: flat: %w", err)
	}
	path := filepath.Join(s.root, flatName(step))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("grid: flat: %w", err)
	}
	return &flatFile{step: step, path: path, f: f, owned: true}, nil
}

func (s *flatStore[T]) discard(ff *flatFile) error {
	err := ff.f.Close()
	if ff.owned {
		if rerr := os.Remove(ff.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
		s.log.WithField("file", ff.path).Debug("removed generation file")
	}
	if err != nil {
		return fmt.Errorf("grid: flat: %w", err)
	}
	return nil
}

func (s *flatStore[T]) fail(err error) {
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("grid: flat: %w", err)
		s.log.WithError(err).Error("flat store I/O failed")
	}
}

func (s *flatStore[T]) Strategy() Strategy { return Flat }
func (s *flatStore[T]) Err() error { return s.err }

// Release is a no-op: a flat file costs no memory per slab.
func (s *flatStore[T]) Release(int) {}

func (s *flatStore[T]) read(ff *flatFile, c lattice.Coord) T {
	pos := lattice.Rank(s.dim, c) * int64(len(s.buf))
	n, err := ff.f.ReadAt(s.buf, pos)
	if n < len(s.buf) {
		if err != nil && !errors.Is(err, io.EOF) {
			s.fail(err)
		}
		var z T
		return z
	}
	return s.a.Binary(s.buf)
}

func (s *flatStore[T]) write(ff *flatFile, c lattice.Coord, v T) {
	s.a.PutBinary(s.buf, v)
	if _, err := ff.f.WriteAt(s.buf, lattice.Rank(s.dim, c)*int64(len(s.buf))); err != nil {
		s.fail(err)
	}
}

func (s *flatStore[T]) Get(c lattice.Coord) T { return s.read(s.cur, c) }
func (s *flatStore[T]) Seed(c lattice.Coord, v T) { s.write(s.cur, c, v) }

func (s *flatStore[T]) Add(c lattice.Coord, delta T) {
	s.write(s.nxt, c, s.a.Add(s.read(s.nxt, c), delta))
}

func (s *flatStore[T]) Swap() error {
	if s.err != nil {
		return s.err
	}
	if err := s.discard(s.cur); err != nil {
		return err
	}
	s.cur = s.nxt
	nxt, err := s.create(s.cur.step + 1)
	if err != nil {
		return err
	}
	s.nxt = nxt
	return nil
}

func (s *flatStore[T]) Abort() error {
	step := s.nxt.step
	if err := s.discard(s.nxt); err != nil {
		return err
	}
	nxt, err := s.create(step)
	if err != nil {
		return err
	}
	s.nxt = nxt
	return nil
}

func (s *flatStore[T]) Snapshot(dir string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	name := filepath.Base(s.cur.path)
	if err := copyFiles(dir, filepath.Dir(s.cur.path), []string{name}); err != nil {
		return nil, fmt.Errorf("grid: flat: %w", err)
	}
	return []string{name}, nil
}

func (s *flatStore[T]) Close() error {
	err := s.discard(s.nxt)
	if cerr := s.discard(s.cur); err == nil {
		err = cerr
	}
	return err
}
