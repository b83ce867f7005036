package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const degenerateMessage = "no honest commitment selected!"

// SimConfig is one point of the corruption sweep.
type SimConfig struct {
	SeqID     int
	Slots     int // Size of the slot universe (N)
	BatchSize int // Cups levelled per round
	MaxRounds int
	Trials    int

	Fraction  float64 // Fraction of corrupted slots
	Corrupted int     // floor(Slots * Fraction)
	Threshold float64 // Water level below which the tracked cup counts as hidden

	Seed        int64
	Workers     int  // Goroutines sharing the trials of this configuration
	BatchChecks bool // Per round, check only the corrupted cups of the batch
	FullChecks  bool // Also recompute the max water every round
}

// targetThreshold is 4 / (N * (1 - fraction)): four times the water every
// honest cup would hold if the tracked cup were perfectly spread out.
func targetThreshold(slots int, fraction float64) float64 {
	return 4.0 / (float64(slots) * (1.0 - fraction))
}

func corruptedCount(slots int, fraction float64) int {
	return int(float64(slots) * fraction)
}

// Tally counts, per round, the trials whose tracked cup was hidden after
// that round.
type Tally []int

func (t Tally) merge(o Tally) {
	for i, n := range o {
		t[i] += n
	}
}

// SimResult is the outcome of all trials of one configuration.
type SimResult struct {
	Config           SimConfig
	Tally            Tally
	SuccessRound     int   // 1-based, 0 if never reached
	DegenerateRounds int64 // Rounds whose batch held no honest cup
}

// InvariantViolation is returned when a corrupted cup is found holding
// water. It can only come from a bug in the redistribution.
type InvariantViolation struct {
	Fraction float64
	Trial    int
	Round    int
	Slot     int
	Mass     float64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("corrupted slot %d holds water %v (fraction=%v trial=%d round=%d)",
		e.Slot, e.Mass, e.Fraction, e.Trial, e.Round)
}

// FirstUniversalSuccessRound returns the first round (1-based) after which
// every trial had hidden the tracked cup, or 0 if no round in the tally
// reaches that.
func FirstUniversalSuccessRound(tally Tally, trials int) int {
	if trials <= 0 {
		return 0
	}
	for t, n := range tally {
		if n == trials {
			return t + 1
		}
	}
	return 0
}

// redistribute is the round operator used by trials.
var redistribute = (*Shuffler).Redistribute

// trialRunner owns the buffers reused across the trials run by one goroutine.
type trialRunner struct {
	cfg        SimConfig
	cups       *Cups
	shuffler   *Shuffler
	out        io.Writer
	degenerate *atomic.Int64
}

func newTrialRunner(cfg SimConfig, out io.Writer, degenerate *atomic.Int64) *trialRunner {
	return &trialRunner{
		cfg:        cfg,
		cups:       NewCups(cfg.Slots, cfg.Threshold),
		shuffler:   NewShuffler(cfg.Slots, cfg.BatchSize, nil),
		out:        out,
		degenerate: degenerate,
	}
}

// run plays one trial and adds its per-round successes to tally.
func (tr *trialRunner) run(trial int, tally Tally) error {
	cfg := tr.cfg
	rng := NewFastRNG(trialSeed(cfg.Seed, cfg.SeqID, trial))

	excluded := sampleExcluded(cfg.Slots, cfg.Corrupted, rng)
	tr.cups.Reset()
	tr.cups.Pour(trackedSlot, 1.0)
	tr.shuffler.Reset(rng)

	violation := func(round, slot int) error {
		return &InvariantViolation{
			Fraction: cfg.Fraction,
			Trial:    trial,
			Round:    round,
			Slot:     slot,
			Mass:     tr.cups.Mass(slot),
		}
	}

	hiddenAt := 0
	for t := 0; t < cfg.MaxRounds; t++ {
		round := redistribute(tr.shuffler, tr.cups, excluded)
		if round.Degenerate() {
			tr.degenerate.Inc()
			fmt.Fprintln(tr.out, degenerateMessage)
			logger.Debugw("degenerate round", "fraction", cfg.Fraction, "trial", trial, "round", t)
		}

		// Success is judged on this round alone, not on earlier rounds.
		if tr.cups.Hidden() {
			tally[t]++
			if hiddenAt == 0 {
				hiddenAt = t + 1
			}
		}

		checked := excluded.Slots()
		if cfg.BatchChecks && !cfg.FullChecks {
			// Only cups in the batch can have changed.
			checked = round.Batch
		}
		if cfg.FullChecks {
			if hidden := tr.cups.MaxMass() < cfg.Threshold; hidden != tr.cups.Hidden() {
				return fmt.Errorf("trial %d round %d: hot cup count disagrees with max water %v",
					trial, t, tr.cups.MaxMass())
			}
		}
		if slot := checkExcluded(tr.cups, excluded, checked); slot >= 0 {
			return violation(t, slot)
		}
	}

	if slot := checkExcluded(tr.cups, excluded, excluded.Slots()); slot >= 0 {
		return violation(cfg.MaxRounds-1, slot)
	}

	logger.Debugw("trial done",
		"fraction", cfg.Fraction,
		"trial", fmt.Sprintf("%d/%d", trial+1, cfg.Trials),
		"first_hidden_round", hiddenAt)
	return nil
}

// runSimulation plays cfg.Trials independent trials, sharded round-robin
// over cfg.Workers goroutines. Each worker fills its own tally; the tallies
// are summed once all workers are done. out receives the degenerate round
// diagnostics.
func runSimulation(ctx context.Context, cfg SimConfig, out io.Writer) (SimResult, error) {
	out = lockWriter(out)
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > cfg.Trials {
		workers = max(cfg.Trials, 1)
	}

	degenerate := atomic.NewInt64(0)
	tallies := make([]Tally, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		local := make(Tally, cfg.MaxRounds)
		tallies[w] = local
		g.Go(func() error {
			tr := newTrialRunner(cfg, out, degenerate)
			for trial := w; trial < cfg.Trials; trial += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := tr.run(trial, local); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SimResult{Config: cfg}, err
	}

	tally := make(Tally, cfg.MaxRounds)
	for _, local := range tallies {
		tally.merge(local)
	}

	return SimResult{
		Config:           cfg,
		Tally:            tally,
		SuccessRound:     FirstUniversalSuccessRound(tally, cfg.Trials),
		DegenerateRounds: degenerate.Load(),
	}, nil
}
