// Package aether implements the Aether cellular automaton: an integer
// toppling process on Z^d (1 <= d <= 4) started from a single value at the
// origin. Only the canonical domain of the lattice is simulated; any other
// position is folded onto it.
package aether

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"aether-ca/internal/core"
	"aether-ca/internal/grid"
	"aether-ca/internal/lattice"
	"aether-ca/internal/number"
)

// Name identifies the model in output folders and backups.
const Name = "Aether"

// initialMaxW leaves room for the first steps before any growth is tracked.
const initialMaxW = 2

var (
	// ErrDimension is returned for a dimension outside 1 to 4.
	ErrDimension = errors.New("aether: unsupported dimension")
	// ErrSeedOutOfRange is returned for a seed whose evolution could overflow
	// the numeric kind.
	ErrSeedOutOfRange = number.ErrOutOfRange
)

// Model is an Aether automaton over cell values of type T.
type Model[T any] struct {
	a     number.Arith[T]
	cfg   Config
	seed  T
	store grid.Store[T]

	step int64
	maxW int
	// stepped is false while the result of the last step is unknown.
	stepped bool
	changed bool
	// failed is set when a step could not complete; the model is unusable.
	failed error

	// toppled holds 1 for every cell that toppled in the last step. It is
	// nil unless compliance is tracked.
	toppled grid.Store[int32]
	// evenFirst reports whether cells with an even coordinate sum were due
	// to topple in the first step.
	evenFirst bool

	// restoredFrom is the backup folder the current generation is read from.
	restoredFrom string
	log          logrus.FieldLogger
}

// New builds a model with cfg.Seed at the origin.
func New[T any](a number.Arith[T], cfg Config) (*Model[T], error) {
	m, err := prepare(a, cfg, cfg.Seed)
	if err != nil {
		return nil, err
	}
	store, err := grid.New(m.cfg.Storage, a, m.storeOptions(0))
	if err != nil {
		return nil, fmt.Errorf("aether: %w", err)
	}
	store.Seed(lattice.Coord{}, m.seed)
	if err := store.Err(); err != nil {
		store.Close()
		return nil, fmt.Errorf("aether: seeding: %w", err)
	}
	m.store = store
	if m.cfg.Compliance {
		if m.toppled, err = grid.New[int32](grid.Memory, number.Int32, m.toppledOptions()); err != nil {
			store.Close()
			return nil, fmt.Errorf("aether: %w", err)
		}
	}
	m.maxW = initialMaxW
	m.log.Info("created model")
	return m, nil
}

func prepare[T any](a number.Arith[T], cfg Config, seed string) (*Model[T], error) {
	if err := lattice.CheckDim(cfg.Dimension); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDimension, err)
	}
	v, err := a.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("aether: seed: %w", err)
	}
	if err := number.CheckSingleSource(a, cfg.Dimension, v); err != nil {
		return nil, err
	}
	if cfg.Storage == "" {
		cfg.Storage = grid.Memory
	}
	if cfg.BlockCells <= 0 {
		cfg.BlockCells = grid.DefaultBlockCells
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	var zero T
	m := &Model[T]{a: a, cfg: cfg, seed: v, evenFirst: a.Cmp(v, zero) >= 0}
	m.cfg.Seed = a.Format(v)
	m.log = cfg.Log.WithFields(logrus.Fields{
		"model":     Name,
		"dimension": cfg.Dimension,
		"seed":      m.cfg.Seed,
		"numeric":   a.Kind(),
		"storage":   cfg.Storage,
	})
	return m, nil
}

func (m *Model[T]) storeOptions(step int64) grid.Options {
	return grid.Options{
		Dim:        m.cfg.Dimension,
		Dir:        filepath.Join(m.cfg.Dir, filepath.FromSlash(m.SubfolderPath()), "grid"),
		Step:       step,
		BlockCells: m.cfg.BlockCells,
		Log:        m.log,
	}
}

func (m *Model[T]) toppledOptions() grid.Options {
	return grid.Options{Dim: m.cfg.Dimension, Log: m.log.WithField("grid", "toppled")}
}

// NextStep advances the model by one generation and reports whether any cell
// toppled. After an error the model must not be used again.
func (m *Model[T]) NextStep() (bool, error) {
	if m.failed != nil {
		return false, fmt.Errorf("aether: model unusable after failed step: %w", m.failed)
	}
	ctx := m.evolve()
	if err := m.store.Err(); err != nil {
		return false, m.fail(err)
	}
	if err := m.store.Swap(); err != nil {
		return false, m.fail(err)
	}
	if m.toppled != nil {
		m.toppled.Swap()
	}
	m.step++
	m.maxW = max(m.maxW, ctx.reached)
	m.changed, m.stepped = ctx.changed, true
	m.restoredFrom = ""
	m.log.WithFields(logrus.Fields{"step": m.step, "max_w": m.maxW, "changed": ctx.changed}).Debug("step complete")
	return ctx.changed, nil
}

func (m *Model[T]) fail(err error) error {
	m.failed = err
	if aerr := m.store.Abort(); aerr != nil {
		m.log.WithError(aerr).Warn("dropping partial generation")
	}
	if m.toppled != nil {
		m.toppled.Abort()
	}
	m.log.WithError(err).WithField("step", m.step+1).Error("step failed")
	return fmt.Errorf("aether: step %d: %w", m.step+1, err)
}

// IsChanged reports whether the last step changed any cell. ok is false
// before the first step of a fresh model.
func (m *Model[T]) IsChanged() (changed, ok bool) { return m.changed, m.stepped }

// Get returns the value at any lattice position.
func (m *Model[T]) Get(c lattice.Coord) (T, error) {
	for i := m.cfg.Dimension; i < lattice.MaxDim; i++ {
		if c[i] != 0 {
			var z T
			return z, fmt.Errorf("aether: %v has components past dimension %d", c, m.cfg.Dimension)
		}
	}
	v := m.store.Get(lattice.Canonical(m.cfg.Dimension, c))
	if err := m.store.Err(); err != nil {
		return v, fmt.Errorf("aether: %w", err)
	}
	return v, nil
}

// ValueString returns the value at c formatted by the numeric kind.
func (m *Model[T]) ValueString(c lattice.Coord) (string, error) {
	v, err := m.Get(c)
	if err != nil {
		return "", err
	}
	return m.a.Format(v), nil
}

// ErrNoCompliance is returned by Compliance when it cannot be answered.
var ErrNoCompliance = errors.New("aether: toppling alternation compliance unavailable")

// TracksCompliance reports whether the model records toppling alternation
// compliance.
func (m *Model[T]) TracksCompliance() bool { return m.toppled != nil }

// dueToTopple reports whether parity made c due to topple in the step that
// produced generation step. The parity due flips every step.
func (m *Model[T]) dueToTopple(step int64, c lattice.Coord) bool {
	sum := 0
	for _, x := range c {
		sum += x
	}
	even := sum%2 == 0
	if step%2 == 0 {
		even = !even
	}
	return even == m.evenFirst
}

// Compliance reports whether the cell at c toppled in the last step exactly
// when it was due to: cells with an even coordinate sum are due in the
// first step, odd ones in the second, and so on (swapped for a negative
// seed). It fails if compliance is not tracked or no step has run since the
// model was built.
func (m *Model[T]) Compliance(c lattice.Coord) (bool, error) {
	if m.toppled == nil {
		return false, fmt.Errorf("%w: not tracked", ErrNoCompliance)
	}
	if m.step == 0 {
		return false, fmt.Errorf("%w: no step has run", ErrNoCompliance)
	}
	for i := m.cfg.Dimension; i < lattice.MaxDim; i++ {
		if c[i] != 0 {
			return false, fmt.Errorf("aether: %v has components past dimension %d", c, m.cfg.Dimension)
		}
	}
	toppled := m.toppled.Get(lattice.Canonical(m.cfg.Dimension, c)) != 0
	return toppled == m.dueToTopple(m.step, c), nil
}

// Step returns the number of completed steps.
func (m *Model[T]) Step() int64 { return m.step }

// Dimension returns the lattice dimension.
func (m *Model[T]) Dimension() int { return m.cfg.Dimension }

// Seed returns the value the model started from.
func (m *Model[T]) Seed() T { return m.seed }

// Name returns "Aether".
func (m *Model[T]) Name() string { return Name }

// SubfolderPath names the output folder of this configuration.
func (m *Model[T]) SubfolderPath() string {
	return fmt.Sprintf("%s/%dD/%s", Name, m.cfg.Dimension, m.cfg.Seed)
}

// AsymmetricMax is the largest value coordinate axis may take among the
// non-zero cells of the canonical domain. Mass travels at most one cell per
// step, so a canonical cell with c[axis] = k needs at least (axis+1)*k steps
// to fill. Axes outside the dimension return 0.
func (m *Model[T]) AsymmetricMax(axis int) int {
	if axis < 0 || axis >= m.cfg.Dimension {
		return 0
	}
	if axis == 0 {
		return m.maxW
	}
	return int(min(int64(m.maxW), m.step/int64(axis+1)))
}

// Mass returns the sum of every cell of the lattice, weighting each canonical
// cell by the size of its orbit.
func (m *Model[T]) Mass() (T, error) {
	var total T
	dim := m.cfg.Dimension
	for c := (lattice.Coord{}); c[0] <= m.maxW+1; c = lattice.Next(dim, c) {
		v := m.store.Get(c)
		if !m.a.IsZero(v) {
			total = m.a.Add(total, m.a.MulInt(v, lattice.OrbitSize(dim, c)))
		}
	}
	if err := m.store.Err(); err != nil {
		return total, fmt.Errorf("aether: %w", err)
	}
	return total, nil
}

// MassString returns Mass formatted by the numeric kind.
func (m *Model[T]) MassString() (string, error) {
	v, err := m.Mass()
	if err != nil {
		return "", err
	}
	return m.a.Format(v), nil
}

// Parameters reports the configuration and progress of the model.
func (m *Model[T]) Parameters() core.ParameterSnapshot {
	changed := "unknown"
	if m.stepped {
		changed = strconv.FormatBool(m.changed)
	}
	storage := []core.Parameter{
		{Key: "storage", Label: "Storage", Type: core.ParamTypeString, Value: string(m.cfg.Storage)},
	}
	if m.cfg.Storage != grid.Memory {
		storage = append(storage, core.Parameter{Key: "dir", Label: "Working folder", Type: core.ParamTypeString, Value: m.storeOptions(m.step).Dir})
	}
	if m.cfg.Storage == grid.Paged {
		storage = append(storage, intParam("block_cells", "Cells per block", m.cfg.BlockCells))
	}
	return core.ParameterSnapshot{Groups: []core.ParameterGroup{
		{
			Name: "Model",
			Params: []core.Parameter{
				{Key: "model", Label: "Model", Type: core.ParamTypeString, Value: Name},
				intParam("dimension", "Dimension", m.cfg.Dimension),
				{Key: "numeric", Label: "Numeric kind", Type: core.ParamTypeString, Value: string(m.a.Kind())},
				{Key: "seed", Label: "Seed", Type: core.ParamTypeString, Value: m.cfg.Seed},
				{Key: "compliance", Label: "Tracks compliance", Type: core.ParamTypeBool, Value: strconv.FormatBool(m.toppled != nil)},
			},
		},
		{Name: "Storage", Params: storage},
		{
			Name: "Progress",
			Params: []core.Parameter{
				{Key: "step", Label: "Step", Type: core.ParamTypeInt, Value: strconv.FormatInt(m.step, 10)},
				intParam("max_w", "Max primary coordinate", m.maxW),
				{Key: "changed", Label: "Changed", Type: core.ParamTypeBool, Value: changed},
			},
		},
	}}
}

func intParam(key, label string, v int) core.Parameter {
	return core.Parameter{Key: key, Label: label, Type: core.ParamTypeInt, Value: strconv.Itoa(v)}
}

// Close releases the files owned by the model's store.
func (m *Model[T]) Close() error {
	if m.toppled != nil {
		m.toppled.Close()
	}
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
