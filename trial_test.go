package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create a configuration for testing
func createTestConfig(slots, batch, rounds, trials int, fraction float64) SimConfig {
	return SimConfig{
		Slots:     slots,
		BatchSize: batch,
		MaxRounds: rounds,
		Trials:    trials,
		Fraction:  fraction,
		Corrupted: corruptedCount(slots, fraction),
		Threshold: targetThreshold(slots, fraction),
		Seed:      12345,
		Workers:   1,
	}
}

func TestFirstUniversalSuccessRound(t *testing.T) {
	tests := []struct {
		name   string
		tally  Tally
		trials int
		want   int
	}{
		{"first full round wins", Tally{3, 5, 5}, 5, 2},
		{"never reached", Tally{0, 1, 2, 4}, 5, 0},
		{"first round", Tally{5}, 5, 1},
		{"flicker keeps the first", Tally{0, 5, 4, 5}, 5, 2},
		{"empty tally", nil, 5, 0},
		{"no trials", Tally{0, 0}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstUniversalSuccessRound(tt.tally, tt.trials))
		})
	}
}

func TestTargetThreshold(t *testing.T) {
	assert.InDelta(t, 4.0/768.0, targetThreshold(1024, 0.25), 1e-15)
	assert.Equal(t, 0.00048828125, targetThreshold(16384, 0.5))

	prev := 0.0
	for p := 0; p < 100; p++ {
		th := targetThreshold(16384, float64(p)/100.0)
		require.Greater(t, th, prev, "threshold must grow with corruption (p=%d)", p)
		prev = th
	}
}

func TestCorruptedCount(t *testing.T) {
	assert.Equal(t, 163, corruptedCount(16384, 0.01))
	assert.Equal(t, 8028, corruptedCount(16384, 0.49))
	assert.Equal(t, 256, corruptedCount(1024, 0.25))
	assert.Equal(t, 0, corruptedCount(1024, 0))
}

func TestRunSimulation_EndToEnd(t *testing.T) {
	cfg := createTestConfig(1024, 16, 500, 50, 0.25)
	cfg.FullChecks = true
	cfg.Workers = 4

	res, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	require.Len(t, res.Tally, 500)
	for round, n := range res.Tally {
		require.GreaterOrEqual(t, n, 0)
		require.LessOrEqual(t, n, 50, "round %d", round)
	}
	require.GreaterOrEqual(t, res.SuccessRound, 0)
	require.LessOrEqual(t, res.SuccessRound, 500)

	if res.SuccessRound > 0 {
		assert.Equal(t, 50, res.Tally[res.SuccessRound-1])
		for _, n := range res.Tally[:res.SuccessRound-1] {
			assert.Less(t, n, 50)
		}
	}
	// The tracked cup starts with all the water.
	assert.Equal(t, 0, res.Tally[0])
}

func TestRunSimulation_IndependentOfWorkers(t *testing.T) {
	cfg := createTestConfig(256, 8, 300, 12, 0.2)

	cfg.Workers = 1
	one, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	cfg.Workers = 5
	five, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, one.Tally, five.Tally)
	assert.Equal(t, one.SuccessRound, five.SuccessRound)
}

func TestRunSimulation_SeedChangesOutcome(t *testing.T) {
	cfg := createTestConfig(256, 8, 300, 12, 0.2)
	a, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	cfg.Seed = 999
	b, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	assert.NotEqual(t, a.Tally, b.Tally)
}

func TestRunSimulation_DegenerateRounds(t *testing.T) {
	// Two of three slots corrupted and a batch of one: most rounds pick a
	// corrupted slot and must be reported, not fail.
	cfg := createTestConfig(3, 1, 50, 2, 0.67)
	cfg.FullChecks = true
	require.Equal(t, 2, cfg.Corrupted)

	var out bytes.Buffer
	res, err := runSimulation(context.Background(), cfg, &out)
	require.NoError(t, err)

	require.Positive(t, res.DegenerateRounds)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, int(res.DegenerateRounds))
	for _, line := range lines {
		assert.Equal(t, degenerateMessage, line)
	}

	// The threshold is above 1, so every round hides the tracked cup.
	assert.Equal(t, 1, res.SuccessRound)
}

func TestRunSimulation_NoCorruption(t *testing.T) {
	cfg := createTestConfig(128, 32, 200, 10, 0)
	res, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Corrupted)
	assert.Zero(t, res.DegenerateRounds)
}

func TestRunSimulation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runSimulation(ctx, createTestConfig(64, 8, 10, 4, 0.1), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSimulation_MoreCorruptionHidesSooner(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical comparison")
	}

	// SuccessRound is a maximum over trials and too noisy to order at this
	// size, so compare the rounds each trial spends hidden instead.
	hiddenRounds := func(fraction float64) (float64, int) {
		cfg := createTestConfig(1024, 16, 2500, 400, fraction)
		cfg.Workers = 4
		cfg.BatchChecks = true
		res, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
		require.NoError(t, err)

		sum := 0
		for _, n := range res.Tally {
			sum += n
		}
		return float64(sum) / float64(cfg.Trials), res.SuccessRound
	}

	low, lowRound := hiddenRounds(0.05)
	high, highRound := hiddenRounds(0.45)
	assert.Positive(t, lowRound)
	assert.Positive(t, highRound)
	assert.Greater(t, high, low)
}

// leakAt wraps the round operator so that after the given round of the
// given trial it pours water into a corrupted slot outside the batch. It
// returns that slot once the leak happened. Trials must run on one worker.
func leakAt(t *testing.T, rounds, trial, round int) *int {
	t.Helper()
	orig := redistribute
	t.Cleanup(func() { redistribute = orig })

	leaked := -1
	calls := 0
	redistribute = func(s *Shuffler, cups *Cups, excluded *ExcludedSet) RoundOutcome {
		out := orig(s, cups, excluded)
		if calls/rounds == trial && calls%rounds == round {
			for _, slot := range excluded.Slots() {
				if !slices.Contains(out.Batch, slot) {
					cups.Pour(slot, 0.5)
					leaked = slot
					break
				}
			}
		}
		calls++
		return out
	}
	return &leaked
}

func TestRunSimulation_LeakIsReported(t *testing.T) {
	tests := []struct {
		name        string
		batchChecks bool
		fullChecks  bool
		exactRound  bool
	}{
		{"scan every round", false, false, true},
		{"full checks override batch checks", true, true, true},
		// The leaked slot is caught when a later batch draws it, or by the
		// scan at the end of the trial.
		{"batch checks", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestConfig(64, 8, 20, 4, 0.25)
			cfg.BatchChecks = tt.batchChecks
			cfg.FullChecks = tt.fullChecks
			leaked := leakAt(t, cfg.MaxRounds, 2, 5)

			_, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})
			require.NotEqual(t, -1, *leaked)

			var violation *InvariantViolation
			require.True(t, errors.As(err, &violation), "got %v", err)
			assert.Equal(t, 0.25, violation.Fraction)
			assert.Equal(t, 2, violation.Trial)
			assert.Equal(t, *leaked, violation.Slot)
			assert.Equal(t, 0.5, violation.Mass)
			if tt.exactRound {
				assert.Equal(t, 5, violation.Round)
			} else {
				assert.GreaterOrEqual(t, violation.Round, 5)
				assert.Less(t, violation.Round, cfg.MaxRounds)
			}
		})
	}
}

func TestInvariantViolation(t *testing.T) {
	var err error = &InvariantViolation{Fraction: 0.3, Trial: 7, Round: 12, Slot: 99, Mass: 0.125}
	wrapped := fmt.Errorf("fraction 0.3: %w", err)

	var violation *InvariantViolation
	require.True(t, errors.As(wrapped, &violation))
	assert.Equal(t, 99, violation.Slot)
	assert.Contains(t, wrapped.Error(), "slot 99")
	assert.Contains(t, wrapped.Error(), "trial=7 round=12")
}

func TestTally_Merge(t *testing.T) {
	total := make(Tally, 3)
	total.merge(Tally{1, 0, 2})
	total.merge(Tally{0, 3, 1})
	assert.Equal(t, Tally{1, 3, 3}, total)
}
