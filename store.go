package main

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Database functions
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	createTables := `
	CREATE TABLE IF NOT EXISTS simulation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		run_id TEXT NOT NULL,

		-- Parameters
		param_slots INTEGER,
		param_batch_size INTEGER,
		param_max_rounds INTEGER,
		param_trials INTEGER,
		param_fraction REAL,
		param_corrupted INTEGER,
		param_threshold REAL,
		param_seed INTEGER,

		-- Outcome
		success_round INTEGER,
		degenerate_rounds INTEGER
	);

	CREATE TABLE IF NOT EXISTS success_curve (
		run_id TEXT NOT NULL,
		param_fraction REAL NOT NULL,
		round INTEGER NOT NULL,
		success_fraction REAL NOT NULL,
		PRIMARY KEY (run_id, param_fraction, round)
	);
	`

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func SaveResult(db *sql.DB, runID uuid.UUID, result SimResult) error {
	insert := `
	INSERT INTO simulation_results (
		run_id,
		param_slots, param_batch_size, param_max_rounds, param_trials,
		param_fraction, param_corrupted, param_threshold, param_seed,
		success_round, degenerate_rounds
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	cfg := result.Config
	_, err := db.Exec(insert,
		runID.String(),
		cfg.Slots, cfg.BatchSize, cfg.MaxRounds, cfg.Trials,
		cfg.Fraction, cfg.Corrupted, cfg.Threshold, cfg.Seed,
		result.SuccessRound, result.DegenerateRounds,
	)
	return err
}

// SaveSuccessCurve stores the points of the per-round success curve that
// the verbose report prints.
func SaveSuccessCurve(db *sql.DB, runID uuid.UUID, result SimResult) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO success_curve (run_id, param_fraction, round, success_fraction) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range successCurve(result.Tally, result.Config.Trials) {
		if _, err := stmt.Exec(runID.String(), result.Config.Fraction, p.Round, p.Fraction); err != nil {
			return fmt.Errorf("round %d: %w", p.Round, err)
		}
	}
	return tx.Commit()
}
