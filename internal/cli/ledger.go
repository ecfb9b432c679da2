package cli

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"aether-ca/internal/core"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	started   TEXT NOT NULL,
	model     TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	numeric   TEXT NOT NULL,
	storage   TEXT NOT NULL,
	seed      TEXT NOT NULL,
	from_step INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS steps (
	run        INTEGER NOT NULL REFERENCES runs(id),
	step       INTEGER NOT NULL,
	changed    INTEGER NOT NULL,
	max_w      INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	PRIMARY KEY (run, step)
);
CREATE TABLE IF NOT EXISTS backups (
	run     INTEGER NOT NULL REFERENCES runs(id),
	step    INTEGER NOT NULL,
	path    TEXT NOT NULL,
	created TEXT NOT NULL
);`

// ledger records the progress of a run in an SQLite database.
type ledger struct {
	db  *sql.DB
	run int64
}

// openLedger opens or creates the database at path and starts a run for m.
func openLedger(path string, m core.Model) (*ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("aether: ledger: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("aether: ledger: creating schema: %w", err)
	}
	p := m.Parameters().Values()
	res, err := db.Exec(
		`INSERT INTO runs (started, model, dimension, numeric, storage, seed, from_step) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), m.Name(), m.Dimension(), p["numeric"], p["storage"], p["seed"], m.Step(),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("aether: ledger: %w", err)
	}
	run, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("aether: ledger: %w", err)
	}
	return &ledger{db: db, run: run}, nil
}

func (l *ledger) step(m core.Model, changed bool, elapsed time.Duration) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO steps (run, step, changed, max_w, elapsed_ms) VALUES (?, ?, ?, ?, ?)`,
		l.run, m.Step(), changed, m.AsymmetricMax(0), elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("aether: ledger: %w", err)
	}
	return nil
}

func (l *ledger) backup(step int64, path string) error {
	_, err := l.db.Exec(
		`INSERT INTO backups (run, step, path, created) VALUES (?, ?, ?, ?)`,
		l.run, step, path, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("aether: ledger: %w", err)
	}
	return nil
}

func (l *ledger) Close() error { return l.db.Close() }
