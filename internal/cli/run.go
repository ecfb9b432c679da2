package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"aether-ca/internal/aether"
	"aether-ca/internal/core"
	"aether-ca/internal/number"
)

// backupRetries bounds how often a failed backup is retried before the run
// is aborted.
const backupRetries = 5

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a new model.",
	Long: `run creates a model with the configured seed at the origin and steps it
until --steps steps have run, or until a step changes nothing when --steps is
zero. A backup is written every --backup-every and at the end of the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := number.Lookup(Cfg.GetString("numeric"))
		if !ok {
			return fmt.Errorf("aether: unknown numeric type %q, want one of %v", Cfg.GetString("numeric"), core.Names())
		}
		factory := core.Models()[string(kind)]
		m, err := factory(core.Options{
			Config: map[string]string{
				"dimension":   Cfg.GetString("dimension"),
				"seed":        Cfg.GetString("seed"),
				"storage":     Cfg.GetString("storage"),
				"dir":         Cfg.GetString("dir"),
				"block_cells": Cfg.GetString("block-cells"),
				"compliance":  Cfg.GetString("compliance"),
			},
			Log: Log,
		})
		if err != nil {
			return err
		}
		defer m.Close()
		return drive(cmd, m)
	},
	DisableAutoGenTag: true,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a model from a backup.",
	Long: `resume restores the model backed up in --restore and keeps stepping it
like run does. The dimension, numeric type and storage are the ones recorded
in the backup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := restore(Cfg.GetString("restore"), map[string]string{"dir": Cfg.GetString("dir")})
		if err != nil {
			return err
		}
		defer m.Close()
		return drive(cmd, m)
	},
	DisableAutoGenTag: true,
}

// restore opens the backup in dir with the factory of its recorded numeric
// type.
func restore(dir string, cfg map[string]string) (core.Model, error) {
	if dir == "" {
		return nil, fmt.Errorf("aether: --restore is required")
	}
	mf, err := aether.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	factory, ok := core.Models()[mf.Numeric]
	if !ok {
		return nil, fmt.Errorf("%w: unknown numeric type %q", aether.ErrIncompatibleBackup, mf.Numeric)
	}
	return factory(core.Options{Config: cfg, Restore: dir, Log: Log})
}

// drive steps m as configured, backing it up on schedule and at the end.
func drive(cmd *cobra.Command, m core.Model) error {
	steps, err := cast.ToInt64E(Cfg.Get("steps"))
	if err != nil {
		return fmt.Errorf("aether: steps: %v", err)
	}
	every, err := cast.ToDurationE(Cfg.Get("backup-every"))
	if err != nil {
		return fmt.Errorf("aether: backup-every: %v", err)
	}
	backupDir := Cfg.GetString("backup-dir")

	var l *ledger
	if path := Cfg.GetString("ledger"); path != "" {
		if l, err = openLedger(path, m); err != nil {
			return err
		}
		defer l.Close()
	}

	log := Log.WithFields(logrus.Fields{"model": m.SubfolderPath()})
	interval := core.NewInterval(every)
	target := m.Step() + steps
	for steps == 0 || m.Step() < target {
		start := time.Now()
		changed, err := m.NextStep()
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		log.WithFields(logrus.Fields{
			"step":    m.Step(),
			"changed": changed,
			"max_w":   m.AsymmetricMax(0),
			"elapsed": elapsed,
		}).Info("step")
		if l != nil {
			if err := l.step(m, changed, elapsed); err != nil {
				return err
			}
		}
		if steps == 0 && !changed {
			break
		}
		if interval.Due() {
			if err := backUp(m, backupDir, l, log); err != nil {
				return err
			}
			// the period runs between backups, not between their starts
			interval.Reset()
		}
	}
	if err := backUp(m, backupDir, l, log); err != nil {
		return err
	}
	changed, _ := m.IsChanged()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: step %d, changed %v, max w %d\n", m.SubfolderPath(), m.Step(), changed, m.AsymmetricMax(0))
	return nil
}

// backUp writes a backup named after the current step, retrying transient
// failures with exponential backoff.
func backUp(m core.Model, root string, l *ledger, log logrus.FieldLogger) error {
	path := filepath.Join(root, filepath.FromSlash(m.SubfolderPath()))
	name := "step=" + strconv.FormatInt(m.Step(), 10)
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), backupRetries)
	err := backoff.RetryNotify(func() error {
		return m.BackUp(path, name)
	}, b, func(err error, d time.Duration) {
		log.WithError(err).Warnf("backup failed; retrying in %v", d)
	})
	if err != nil {
		return fmt.Errorf("aether: backup of step %d: %w", m.Step(), err)
	}
	if l != nil {
		return l.backup(m.Step(), filepath.Join(path, name))
	}
	return nil
}
