// Command shufflesim estimates by Monte Carlo simulation how many rounds of
// a randomized batched-averaging shuffle are needed before a tracked value
// is hidden among N slots, for a sweep of corrupted-slot fractions.
//
// Each round samples a batch of slots, drops the corrupted ones, and sets
// every remaining slot to the batch's average "water". A trial starts with
// all water in slot 0 and counts as hidden after a round once no slot holds
// 4/(N*(1-fraction)) or more. For each fraction one line is printed:
//
//	Simulation parameters: [N BATCH] [FRACTION THRESHOLD]: ROUND
//
// where ROUND is the first round (1-based) after which every trial was
// hidden, or 0 if that never happened within the round budget.
//
// Usage:
//
//	go run . -trials=1000
//	go run . -fraction=0.25 -verbose -workers=8
//	go run . -config=sweep.yaml -db=results.db
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	flush, err := initLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer flush()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	workers := cfg.EffectiveWorkers()
	configs := deriveConfigs(cfg, seed, workers)
	runID := uuid.New()

	logger.Infow("starting simulation",
		"run_id", runID,
		"slots", cfg.Slots,
		"batch_size", cfg.BatchSize,
		"max_rounds", cfg.MaxRounds,
		"trials", cfg.Trials,
		"configurations", len(configs),
		"workers", workers,
		"seed", seed)

	var db *sql.DB
	if cfg.DBPath != "" {
		db, err = InitDB(cfg.DBPath)
		if err != nil {
			logger.Errorw("initializing database", "path", cfg.DBPath, "err", err)
			return 1
		}
		defer db.Close()
	}

	rep := newReporter(stdout, cfg.Verbose)
	var saveErr error
	emit := func(res SimResult) {
		rep.Report(res)
		if db == nil || saveErr != nil {
			return
		}
		if err := SaveResult(db, runID, res); err != nil {
			saveErr = fmt.Errorf("saving result: %w", err)
			return
		}
		if err := SaveSuccessCurve(db, runID, res); err != nil {
			saveErr = fmt.Errorf("saving success curve: %w", err)
		}
	}

	start := time.Now()
	err = runSweep(context.Background(), configs, workers, rep.out, emit)
	if err != nil {
		var violation *InvariantViolation
		if errors.As(err, &violation) {
			logger.Errorw("corrupted slot received water",
				"fraction", violation.Fraction,
				"trial", violation.Trial,
				"round", violation.Round,
				"slot", violation.Slot,
				"mass", violation.Mass)
		} else {
			logger.Errorw("simulation failed", "err", err)
		}
		return 1
	}
	if saveErr != nil {
		logger.Errorw("storing results", "path", cfg.DBPath, "err", saveErr)
		return 1
	}

	logger.Infow("all simulations complete", "elapsed", time.Since(start), "run_id", runID)
	if db != nil {
		logger.Infow("results saved", "path", cfg.DBPath)
	}
	return 0
}
