package aether

import (
	"errors"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"

	"aether-ca/internal/core"
	"aether-ca/internal/grid"
	"aether-ca/internal/lattice"
	"aether-ca/internal/number"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(t *testing.T, dim int, seed string, storage grid.Strategy) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dimension = dim
	cfg.Seed = seed
	cfg.Storage = storage
	cfg.Dir = t.TempDir()
	cfg.BlockCells = 16
	cfg.Log = quietLog()
	return cfg
}

func newInt64(t *testing.T, dim int, seed string, storage grid.Strategy) *Model[int64] {
	t.Helper()
	m, err := New[int64](number.Int64, testConfig(t, dim, seed, storage))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func mustStep[T any](t *testing.T, m *Model[T]) bool {
	t.Helper()
	changed, err := m.NextStep()
	if err != nil {
		t.Fatalf("step %d: %v", m.Step()+1, err)
	}
	return changed
}

// canonicalValues reads every canonical cell up to the frontier.
func canonicalValues[T any](t *testing.T, m *Model[T]) map[lattice.Coord]string {
	t.Helper()
	out := map[lattice.Coord]string{}
	dim := m.Dimension()
	for c := (lattice.Coord{}); c[0] <= m.AsymmetricMax(0)+1; c = lattice.Next(dim, c) {
		v, err := m.ValueString(c)
		if err != nil {
			t.Fatal(err)
		}
		if v != "0" {
			out[c] = v
		}
	}
	return out
}

func TestOneDimensionalSeedFour(t *testing.T) {
	m := newInt64(t, 1, "4", grid.Memory)
	if _, ok := m.IsChanged(); ok {
		t.Fatalf("changed should be unknown before the first step")
	}
	if !mustStep(t, m) {
		t.Fatalf("first step should topple")
	}
	var got []int64
	for x := 0; x < 4; x++ {
		v, _ := m.Get(lattice.Coord{x})
		got = append(got, v)
	}
	if !slices.Equal(got, []int64{2, 1, 0, 0}) {
		t.Fatalf("step 1 = %v", got)
	}
	if v, _ := m.Get(lattice.Coord{-1}); v != 1 {
		t.Fatalf("x=-1 = %d", v)
	}
	if mustStep(t, m) {
		t.Fatalf("[2,1] should be stable")
	}
	if changed, ok := m.IsChanged(); !ok || changed {
		t.Fatalf("IsChanged = %v, %v", changed, ok)
	}
}

func TestTwoDimensionalSeedTen(t *testing.T) {
	m := newInt64(t, 2, "10", grid.Memory)
	mustStep(t, m)
	if v, _ := m.Get(lattice.Coord{0, 0}); v != 2 {
		t.Fatalf("origin = %d", v)
	}
	for _, c := range []lattice.Coord{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		if v, _ := m.Get(c); v != 2 {
			t.Fatalf("%v = %d", c, v)
		}
	}
	if mass, _ := m.Mass(); mass != 10 {
		t.Fatalf("mass = %d", mass)
	}
}

func TestMatchesFullLattice(t *testing.T) {
	cases := []struct {
		dim   int
		seed  int64
		steps int
	}{
		{1, 100, 40},
		{1, -37, 30},
		{2, 300, 25},
		{2, -20, 20},
		{3, 200, 15},
		{3, -15, 12},
		{4, 150, 10},
	}
	for _, c := range cases {
		seed := number.Int64.Format(c.seed)
		m := newInt64(t, c.dim, seed, grid.Memory)
		ref := newFullLattice(c.dim, c.seed)
		for s := 1; s <= c.steps; s++ {
			wantChanged := ref.step()
			if got := mustStep(t, m); got != wantChanged {
				t.Fatalf("%dD seed %d step %d: changed %v, want %v", c.dim, c.seed, s, got, wantChanged)
			}
			for pos, want := range ref.cells {
				if got, _ := m.Get(pos); got != want {
					t.Fatalf("%dD seed %d step %d: %v = %d, want %d", c.dim, c.seed, s, pos, got, want)
				}
			}
			for pos, v := range canonicalValues(t, m) {
				if want := number.Int64.Format(ref.cells[pos]); v != want {
					t.Fatalf("%dD seed %d step %d: canonical %v = %s, want %s", c.dim, c.seed, s, pos, v, want)
				}
			}
		}
	}
}

func TestMassConservedForEveryKind(t *testing.T) {
	for dim := 1; dim <= lattice.MaxDim; dim++ {
		cfg := testConfig(t, dim, "500", grid.Memory)
		models := []core.Model{}
		m32, err := New[int32](number.Int32, cfg)
		if err != nil {
			t.Fatal(err)
		}
		m64, _ := New[int64](number.Int64, cfg)
		mbig, _ := New[*big.Int](number.BigInt{}, cfg)
		cfg.Seed = "1/3"
		mrat, err := New[*big.Rat](number.Rational{}, cfg)
		if err != nil {
			t.Fatal(err)
		}
		models = append(models, m32, m64, mbig, mrat)
		for _, m := range models {
			want, _ := m.MassString()
			for s := 0; s < 8; s++ {
				if _, err := m.NextStep(); err != nil {
					t.Fatal(err)
				}
				got, err := m.MassString()
				if err != nil {
					t.Fatal(err)
				}
				if got != want {
					t.Fatalf("%dD %s step %d: mass %s, want %s", dim, m.Parameters().Values()["numeric"], s+1, got, want)
				}
			}
			m.Close()
		}
	}
}

func TestSymmetryInvariance(t *testing.T) {
	r := core.NewRNG(42)
	for dim := 1; dim <= lattice.MaxDim; dim++ {
		m := newInt64(t, dim, "-2000", grid.Memory)
		for s := 0; s < 12; s++ {
			mustStep(t, m)
		}
		for i := 0; i < 40; i++ {
			c := r.Coord(dim, 6)
			want, _ := m.Get(c)
			for _, img := range images(dim, c) {
				if got, _ := m.Get(img); got != want {
					t.Fatalf("%dD: %v = %d but %v = %d", dim, img, got, c, want)
				}
			}
		}
	}
}

func TestNonNegativeSeedStaysNonNegative(t *testing.T) {
	m := newInt64(t, 3, "777", grid.Memory)
	for s := 0; s < 20; s++ {
		mustStep(t, m)
		for pos, v := range canonicalValues(t, m) {
			if strings.HasPrefix(v, "-") {
				t.Fatalf("step %d: %v = %s", m.Step(), pos, v)
			}
		}
	}
}

func TestAsymmetricMaxMonotone(t *testing.T) {
	m := newInt64(t, 2, "5000", grid.Memory)
	prev := make([]int, 2)
	for s := 0; s < 30; s++ {
		mustStep(t, m)
		for axis := range prev {
			got := m.AsymmetricMax(axis)
			if got < prev[axis] {
				t.Fatalf("axis %d shrank from %d to %d", axis, prev[axis], got)
			}
			prev[axis] = got
		}
	}
	if prev[0] <= initialMaxW {
		t.Fatalf("max w never grew: %d", prev[0])
	}
	for pos := range canonicalValues(t, m) {
		if pos[1] > m.AsymmetricMax(1) {
			t.Fatalf("%v beyond secondary max %d", pos, m.AsymmetricMax(1))
		}
	}
}

func TestStoragesAgree(t *testing.T) {
	for dim := 1; dim <= 3; dim++ {
		var want map[lattice.Coord]string
		for _, s := range grid.Strategies() {
			m := newInt64(t, dim, "-900", s)
			for i := 0; i < 15; i++ {
				mustStep(t, m)
			}
			got := canonicalValues(t, m)
			if want == nil {
				want = got
				continue
			}
			if diff := pretty.Diff(got, want); len(diff) > 0 {
				t.Fatalf("%dD %s differs from memory: %v", dim, s, diff)
			}
		}
	}
}

func TestBackUpRestoreContinues(t *testing.T) {
	for _, s := range grid.Strategies() {
		live := newInt64(t, 3, "1200", s)
		for i := 0; i < 9; i++ {
			mustStep(t, live)
		}
		backups := t.TempDir()
		if err := live.BackUp(backups, "b"); err != nil {
			t.Fatalf("%s: BackUp: %v", s, err)
		}
		dir := filepath.Join(backups, "b")
		var results []map[lattice.Coord]string
		for i := 0; i < 2; i++ {
			cfg := testConfig(t, 3, "", s)
			restored, err := Restore[int64](number.Int64, dir, cfg)
			if err != nil {
				t.Fatalf("%s: Restore: %v", s, err)
			}
			if restored.Step() != 9 || restored.AsymmetricMax(0) != live.AsymmetricMax(0) {
				t.Fatalf("%s: restored step %d max %d", s, restored.Step(), restored.AsymmetricMax(0))
			}
			if diff := pretty.Diff(canonicalValues(t, restored), canonicalValues(t, live)); len(diff) > 0 {
				t.Fatalf("%s: restored grid differs: %v", s, diff)
			}
			mustStep(t, restored)
			results = append(results, canonicalValues(t, restored))
			restored.Close()
		}
		mustStep(t, live)
		want := canonicalValues(t, live)
		for i, got := range results {
			if diff := pretty.Diff(got, want); len(diff) > 0 {
				t.Fatalf("%s: restore %d diverged: %v", s, i, diff)
			}
		}
	}
}

func TestBackUpInPlaceIsNoop(t *testing.T) {
	live := newInt64(t, 2, "300", grid.Flat)
	mustStep(t, live)
	backups := t.TempDir()
	if err := live.BackUp(backups, "b"); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(backups, "b")
	m, err := Restore[int64](number.Int64, dir, testConfig(t, 2, "", grid.Flat))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if err := m.BackUp(backups, "b"); err != nil {
		t.Fatalf("BackUp over own source: %v", err)
	}
	mustStep(t, m)
	if err := m.BackUp(backups, "b"); err != nil {
		t.Fatalf("BackUp after step: %v", err)
	}
	mf, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if mf.Step != 2 {
		t.Fatalf("manifest step = %d", mf.Step)
	}
}

func rewriteManifest(t *testing.T, dir string, edit func(*Manifest)) {
	t.Helper()
	mf, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	edit(&mf)
	f, err := os.Create(filepath.Join(dir, manifestFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(mf); err != nil {
		t.Fatal(err)
	}
}

func copyTree(dst, src string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func TestRestoreRejectsIncompatibleBackups(t *testing.T) {
	live := newInt64(t, 2, "64", grid.Paged)
	mustStep(t, live)
	backups := t.TempDir()
	if err := live.BackUp(backups, "b"); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(backups, "b")

	if _, err := Restore[int64](number.Int64, dir, testConfig(t, 3, "", "")); !errors.Is(err, ErrIncompatibleBackup) {
		t.Fatalf("dimension mismatch: %v", err)
	}
	if _, err := Restore[int64](number.Int64, dir, testConfig(t, 0, "", grid.Flat)); !errors.Is(err, ErrIncompatibleBackup) {
		t.Fatalf("storage mismatch: %v", err)
	}
	if _, err := Restore[int32](number.Int32, dir, testConfig(t, 0, "", "")); !errors.Is(err, ErrIncompatibleBackup) {
		t.Fatalf("numeric mismatch: %v", err)
	}

	edits := map[string]func(*Manifest){
		"format":        func(mf *Manifest) { mf.Format = "other" },
		"version":       func(mf *Manifest) { mf.Version = backupVersion + 1 },
		"model":         func(mf *Manifest) { mf.Model = "Sandpile" },
		"configuration": func(mf *Manifest) { mf.Configuration = "random-region" },
		"storage":       func(mf *Manifest) { mf.Storage = "tape" },
		"changed":       func(mf *Manifest) { mf.Changed = "maybe" },
	}
	for name, edit := range edits {
		copyDir := filepath.Join(t.TempDir(), "b")
		if err := copyTree(copyDir, dir); err != nil {
			t.Fatal(err)
		}
		rewriteManifest(t, copyDir, edit)
		if _, err := Restore[int64](number.Int64, copyDir, testConfig(t, 0, "", "")); !errors.Is(err, ErrIncompatibleBackup) {
			t.Fatalf("%s: expected ErrIncompatibleBackup, got %v", name, err)
		}
	}

	mf, _ := ReadManifest(dir)
	if err := os.Remove(filepath.Join(dir, gridFolder, mf.GridFiles[0])); err != nil {
		t.Fatal(err)
	}
	if _, err := Restore[int64](number.Int64, dir, testConfig(t, 0, "", "")); err == nil {
		t.Fatalf("missing grid file should fail")
	}
}

func TestFailedStepOnPagedStore(t *testing.T) {
	cfg := testConfig(t, 2, "300", grid.Paged)
	m, err := New[int64](number.Int64, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	for i := 0; i < 6; i++ {
		mustStep(t, m)
	}
	work := filepath.Join(cfg.Dir, filepath.FromSlash(m.SubfolderPath()), "grid")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	// a regular file where the next generation's folder belongs
	if err := os.WriteFile(filepath.Join(work, "gen=7"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.NextStep(); err == nil {
		t.Fatalf("step into an unwritable generation succeeded")
	}
	if _, err := m.NextStep(); err == nil || !strings.Contains(err.Error(), "unusable") {
		t.Fatalf("second step: %v", err)
	}
	if err := m.BackUp(t.TempDir(), "b"); err == nil {
		t.Fatalf("backup of a failed model succeeded")
	}
	if m.Step() != 6 {
		t.Fatalf("step = %d after a failed step", m.Step())
	}
	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "gen=6" {
			t.Fatalf("%s left behind by the failed step", e.Name())
		}
	}
}

// failingStore fails every Add after the first n.
type failingStore[T any] struct {
	grid.Store[T]
	n   int
	err error
}

var errInjected = errors.New("injected write failure")

func (s *failingStore[T]) Add(c lattice.Coord, delta T) {
	if s.n == 0 {
		s.err = errInjected
		return
	}
	s.n--
	s.Store.Add(c, delta)
}

func (s *failingStore[T]) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.Store.Err()
}

func TestFailedStepOnFlatStore(t *testing.T) {
	cfg := testConfig(t, 3, "900", grid.Flat)
	m, err := New[int64](number.Int64, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	for i := 0; i < 4; i++ {
		mustStep(t, m)
	}
	before := canonicalValues(t, m)
	failing := &failingStore[int64]{Store: m.store, n: 10}
	m.store = failing
	_, err = m.NextStep()
	if !errors.Is(err, errInjected) {
		t.Fatalf("NextStep = %v, want the injected failure", err)
	}
	if _, err := m.NextStep(); !errors.Is(err, errInjected) || !strings.Contains(err.Error(), "unusable") {
		t.Fatalf("second step: %v", err)
	}
	work := filepath.Join(cfg.Dir, filepath.FromSlash(m.SubfolderPath()), "grid")
	info, err := os.Stat(filepath.Join(work, "step=5.data"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("partial generation kept %d bytes", info.Size())
	}
	m.store = failing.Store
	if diff := pretty.Diff(canonicalValues(t, m), before); len(diff) > 0 {
		t.Fatalf("current generation changed: %v", diff)
	}
}

func TestConstructionErrors(t *testing.T) {
	for _, dim := range []int{0, 5} {
		if _, err := New[int64](number.Int64, testConfig(t, dim, "1", grid.Memory)); !errors.Is(err, ErrDimension) {
			t.Fatalf("dimension %d: %v", dim, err)
		}
	}
	if _, err := New[int32](number.Int32, testConfig(t, 4, "-613566758", grid.Memory)); !errors.Is(err, ErrSeedOutOfRange) {
		t.Fatalf("expected ErrSeedOutOfRange, got %v", err)
	}
	if _, err := New[int32](number.Int32, testConfig(t, 1, "3000000000", grid.Memory)); err == nil {
		t.Fatalf("seed overflowing int32 should fail")
	}
	if _, err := New[*big.Int](number.BigInt{}, testConfig(t, 2, "5", grid.Flat)); !errors.Is(err, grid.ErrNotFixedWidth) {
		t.Fatalf("flat bigint: %v", err)
	}
}

func TestIdentification(t *testing.T) {
	m := newInt64(t, 3, "-42", grid.Memory)
	if m.Name() != "Aether" || m.SubfolderPath() != "Aether/3D/-42" {
		t.Fatalf("Name %q SubfolderPath %q", m.Name(), m.SubfolderPath())
	}
	p := m.Parameters()
	if v, ok := p.Lookup("changed"); !ok || v.Value != "unknown" {
		t.Fatalf("changed parameter = %+v", v)
	}
	if _, err := m.Get(lattice.Coord{1, 2, 3, 4}); err == nil {
		t.Fatalf("expected error for a 4D position in a 3D model")
	}
}

func TestFromMap(t *testing.T) {
	cfg := FromMap(map[string]string{"dimension": "4", "seed": "-9", "storage": "paged", "block_cells": "bad"})
	want := DefaultConfig()
	want.Dimension, want.Seed, want.Storage = 4, "-9", grid.Paged
	if diff := pretty.Diff(cfg, want); len(diff) > 0 {
		t.Fatalf("FromMap: %v", diff)
	}
	if FromMap(map[string]string{"storage": "tape"}).Storage != grid.Memory {
		t.Fatalf("unknown storage should keep the default")
	}
}

func TestRegistryBuildsModels(t *testing.T) {
	for _, kind := range number.Kinds() {
		f, ok := core.Models()[string(kind)]
		if !ok {
			t.Fatalf("no factory for %s", kind)
		}
		seed := "7"
		if kind == number.KindRational {
			seed = "7/2"
		}
		m, err := f(core.Options{Config: map[string]string{"dimension": "2", "seed": seed}, Log: quietLog()})
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if _, err := m.NextStep(); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if mass, _ := m.MassString(); mass != seed {
			t.Fatalf("%s: mass %s", kind, mass)
		}
		m.Close()
	}
}
