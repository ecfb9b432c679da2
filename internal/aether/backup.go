package aether

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"aether-ca/internal/grid"
	"aether-ca/internal/number"
)

const (
	backupFormat  = "aether-backup"
	backupVersion = 1
	// singleSource is the only initial configuration: one value at the origin.
	singleSource = "single-source"
	manifestFile = "backup.toml"
	gridFolder   = "grid"
	// toppledFolder holds the toppled flags of the last step when compliance
	// is tracked.
	toppledFolder = "toppled"
)

// ErrIncompatibleBackup is returned when a backup was written by a different
// model, configuration or format than the one restoring it.
var ErrIncompatibleBackup = errors.New("aether: incompatible backup")

// Manifest is the versioned description of a backup folder.
type Manifest struct {
	Format        string   `toml:"format"`
	Version       int      `toml:"version"`
	Model         string   `toml:"model"`
	Configuration string   `toml:"configuration"`
	Dimension     int      `toml:"dimension"`
	Numeric       string   `toml:"numeric"`
	Storage       string   `toml:"storage"`
	Seed          string   `toml:"seed"`
	Step          int64    `toml:"step"`
	MaxW          int      `toml:"max_w"`
	Changed       string   `toml:"changed"`
	BlockCells    int      `toml:"block_cells,omitempty"`
	Compliance    bool     `toml:"compliance,omitempty"`
	GridFiles     []string `toml:"grid_files"`
}

// ReadManifest decodes the manifest of the backup folder dir.
func ReadManifest(dir string) (Manifest, error) {
	var mf Manifest
	if _, err := toml.DecodeFile(filepath.Join(dir, manifestFile), &mf); err != nil {
		return mf, fmt.Errorf("aether: reading backup manifest: %w", err)
	}
	return mf, nil
}

func knownStorage(s string) bool {
	for _, st := range grid.Strategies() {
		if string(st) == s {
			return true
		}
	}
	return false
}

func incompatible(field string, got, want interface{}) error {
	return fmt.Errorf("%w: %s is %v, want %v", ErrIncompatibleBackup, field, got, want)
}

// check rejects a manifest that kind a with configuration cfg cannot read.
func (mf Manifest) check(kind number.Kind, cfg Config) error {
	switch {
	case mf.Format != backupFormat:
		return incompatible("format", mf.Format, backupFormat)
	case mf.Version < 1 || mf.Version > backupVersion:
		return incompatible("version", mf.Version, backupVersion)
	case mf.Model != Name:
		return incompatible("model", mf.Model, Name)
	case mf.Configuration != singleSource:
		return incompatible("configuration", mf.Configuration, singleSource)
	case cfg.Dimension != 0 && mf.Dimension != cfg.Dimension:
		return incompatible("dimension", mf.Dimension, cfg.Dimension)
	case mf.Numeric != string(kind):
		return incompatible("numeric", mf.Numeric, kind)
	case cfg.Storage != "" && mf.Storage != string(cfg.Storage):
		return incompatible("storage", mf.Storage, cfg.Storage)
	case !knownStorage(mf.Storage):
		return incompatible("storage", mf.Storage, grid.Strategies())
	case cfg.Compliance && !mf.Compliance:
		return incompatible("compliance", mf.Compliance, cfg.Compliance)
	case mf.Step < 0 || mf.MaxW < 0:
		return fmt.Errorf("%w: negative step or extent", ErrIncompatibleBackup)
	}
	switch mf.Changed {
	case "true", "false", "unknown":
	default:
		return incompatible("changed", mf.Changed, "true, false or unknown")
	}
	return nil
}

// BackUp writes the full state of the model into the folder path/name. The
// folder is replaced only once the new backup is complete.
func (m *Model[T]) BackUp(path, name string) error {
	if m.failed != nil {
		return fmt.Errorf("aether: backup: model unusable after failed step: %w", m.failed)
	}
	dir := filepath.Join(path, name)
	if m.restoredFrom != "" && sameDir(dir, m.restoredFrom) {
		m.log.WithField("backup", dir).Info("backup already holds the current generation")
		return nil
	}
	tmp := dir + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("aether: backup: %w", err)
	}
	files, err := m.store.Snapshot(filepath.Join(tmp, gridFolder))
	if err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("aether: backup: %w", err)
	}
	if m.toppled != nil {
		if _, err := m.toppled.Snapshot(filepath.Join(tmp, toppledFolder)); err != nil {
			os.RemoveAll(tmp)
			return fmt.Errorf("aether: backup: %w", err)
		}
	}
	changed := "unknown"
	if m.stepped {
		changed = strconv.FormatBool(m.changed)
	}
	mf := Manifest{
		Format:        backupFormat,
		Version:       backupVersion,
		Model:         Name,
		Configuration: singleSource,
		Dimension:     m.cfg.Dimension,
		Numeric:       string(m.a.Kind()),
		Storage:       string(m.cfg.Storage),
		Seed:          m.cfg.Seed,
		Step:          m.step,
		MaxW:          m.maxW,
		Changed:       changed,
		Compliance:    m.toppled != nil,
		GridFiles:     files,
	}
	if m.cfg.Storage == grid.Paged {
		mf.BlockCells = m.cfg.BlockCells
	}
	if err := writeManifest(filepath.Join(tmp, manifestFile), mf); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("aether: backup: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("aether: backup: %w", err)
	}
	m.log.WithFields(logrus.Fields{"backup": dir, "step": m.step}).Info("backed up model")
	return nil
}

func writeManifest(path string, mf Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("aether: backup: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(mf); err != nil {
		f.Close()
		return fmt.Errorf("aether: backup: encoding manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("aether: backup: %w", err)
	}
	return nil
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

// Restore resumes the model backed up in folder dir. Zero Dimension and
// empty Storage in cfg accept the recorded values; anything else must match.
// Paged and flat generations are read from dir in place and never modified.
func Restore[T any](a number.Arith[T], dir string, cfg Config) (*Model[T], error) {
	mf, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if err := mf.check(a.Kind(), cfg); err != nil {
		return nil, err
	}
	gridDir := filepath.Join(dir, gridFolder)
	if _, err := os.Stat(gridDir); err != nil {
		return nil, fmt.Errorf("aether: restore: missing grid folder: %w", err)
	}
	for _, name := range mf.GridFiles {
		if _, err := os.Stat(filepath.Join(gridDir, name)); err != nil {
			return nil, fmt.Errorf("aether: restore: missing grid file: %w", err)
		}
	}
	cfg.Dimension = mf.Dimension
	cfg.Storage = grid.Strategy(mf.Storage)
	cfg.Compliance = mf.Compliance
	if mf.BlockCells > 0 {
		cfg.BlockCells = mf.BlockCells
	}
	m, err := prepare(a, cfg, mf.Seed)
	if err != nil {
		return nil, fmt.Errorf("aether: restore: %w", err)
	}
	store, err := grid.Open(m.cfg.Storage, a, m.storeOptions(mf.Step), gridDir)
	if err != nil {
		return nil, fmt.Errorf("aether: restore: %w", err)
	}
	m.store = store
	if mf.Compliance {
		m.toppled, err = grid.Open[int32](grid.Memory, number.Int32, m.toppledOptions(), filepath.Join(dir, toppledFolder))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("aether: restore: %w", err)
		}
	}
	m.step = mf.Step
	m.maxW = mf.MaxW
	if mf.Changed != "unknown" {
		m.stepped, m.changed = true, mf.Changed == "true"
	}
	m.restoredFrom = dir
	m.log.WithFields(logrus.Fields{"backup": dir, "step": m.step}).Info("restored model")
	return m, nil
}
