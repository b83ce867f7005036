package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// syncWriter serializes writes from the workers and the result printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func lockWriter(w io.Writer) io.Writer {
	if sw, ok := w.(*syncWriter); ok {
		return sw
	}
	return &syncWriter{w: w}
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// deriveConfigs expands cfg into the configurations to simulate: one per
// corruption percentage of the sweep, or the single fraction if set.
// workers is split between configurations running side by side and the
// trials inside each one.
func deriveConfigs(cfg *Config, seed int64, workers int) []SimConfig {
	var fractions []float64
	if cfg.Fraction != nil {
		fractions = []float64{*cfg.Fraction}
	} else {
		for p := cfg.Sweep.FromPercent; p <= cfg.Sweep.ToPercent; p += cfg.Sweep.StepPercent {
			fractions = append(fractions, float64(p)/100.0)
		}
	}

	trialWorkers := max(workers/max(len(fractions), 1), 1)

	configs := make([]SimConfig, len(fractions))
	for i, f := range fractions {
		configs[i] = SimConfig{
			SeqID:       i,
			Slots:       cfg.Slots,
			BatchSize:   cfg.BatchSize,
			MaxRounds:   cfg.MaxRounds,
			Trials:      cfg.Trials,
			Fraction:    f,
			Corrupted:   corruptedCount(cfg.Slots, f),
			Threshold:   targetThreshold(cfg.Slots, f),
			Seed:        seed,
			Workers:     trialWorkers,
			BatchChecks: cfg.BatchChecks,
			FullChecks:  cfg.FullChecks,
		}
	}
	return configs
}

// runSweep simulates configs with at most workers configurations in flight
// and hands results to emit in SeqID order. SeqIDs must be 0..len(configs)-1.
// The first error cancels the remaining configurations.
func runSweep(ctx context.Context, configs []SimConfig, workers int, out io.Writer, emit func(SimResult)) error {
	resultsCh := make(chan SimResult, len(configs))

	// 1. Start the ordered printer goroutine
	printDone := make(chan struct{})
	go func() {
		defer close(printDone)
		buffer := make(map[int]SimResult)
		nextExpectedID := 0

		for res := range resultsCh {
			buffer[res.Config.SeqID] = res
			for {
				next, ok := buffer[nextExpectedID]
				if !ok {
					break
				}
				emit(next)
				delete(buffer, nextExpectedID)
				nextExpectedID++
			}
		}
	}()

	// 2. Spawn all simulations
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, cfg := range configs {
		cfg := cfg
		g.Go(func() error {
			res, err := runSimulation(gctx, cfg, out)
			if err != nil {
				return fmt.Errorf("fraction %v: %w", cfg.Fraction, err)
			}
			logger.Infow("configuration done",
				"fraction", cfg.Fraction,
				"success_round", res.SuccessRound,
				"degenerate_rounds", res.DegenerateRounds)
			resultsCh <- res
			return nil
		})
	}

	// 3. Wait for simulations to finish, then close channels
	err := g.Wait()
	close(resultsCh)
	<-printDone
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatResultLine(res SimResult) string {
	cfg := res.Config
	return fmt.Sprintf("Simulation parameters: [%d %d] [%s %s]: %d",
		cfg.Slots, cfg.BatchSize, formatFloat(cfg.Fraction), formatFloat(cfg.Threshold), res.SuccessRound)
}

// CurvePoint is the fraction of trials hidden after a given round.
type CurvePoint struct {
	Round    int // 1-based
	Fraction float64
}

// successCurve keeps the first round, the last round and every round whose
// success count differs from the round before it. It stops at the first
// round where every trial was hidden.
func successCurve(tally Tally, trials int) []CurvePoint {
	if trials <= 0 {
		return nil
	}
	var points []CurvePoint
	for t, n := range tally {
		if t == 0 || t == len(tally)-1 || n != tally[t-1] {
			points = append(points, CurvePoint{Round: t + 1, Fraction: float64(n) / float64(trials)})
		}
		if n == trials {
			break
		}
	}
	return points
}

// reporter prints results in the line format downstream scripts parse.
type reporter struct {
	out     io.Writer
	verbose bool
}

func newReporter(out io.Writer, verbose bool) *reporter {
	return &reporter{out: lockWriter(out), verbose: verbose}
}

// Report writes the result in a single write so diagnostics from running
// configurations cannot land inside it.
func (r *reporter) Report(res SimResult) {
	var b strings.Builder
	if r.verbose {
		writeCurve(&b, res)
	}
	b.WriteString(formatResultLine(res))
	b.WriteByte('\n')
	io.WriteString(r.out, b.String())
}

func writeCurve(b *strings.Builder, res SimResult) {
	b.WriteString("\n\tSuccess probability after rounds\n")
	b.WriteString("\t----------\n")
	for _, p := range successCurve(res.Tally, res.Config.Trials) {
		fmt.Fprintf(b, "\t%d \t %s\n", p.Round, formatFloat(p.Fraction))
	}
}
