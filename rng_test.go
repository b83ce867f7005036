package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastRNG_Deterministic(t *testing.T) {
	a, b := NewFastRNG(12345), NewFastRNG(12345)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Uint64(), b.Uint64())
	}
	assert.NotEqual(t, NewFastRNG(1).Uint64(), NewFastRNG(2).Uint64())
}

func TestFastRNG_Ranges(t *testing.T) {
	rng := NewFastRNG(7)
	seen := make([]int, 10)
	for i := 0; i < 10000; i++ {
		f := rng.Float64()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)

		n := rng.Intn(10)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 10)
		seen[n]++
	}
	for v, count := range seen {
		assert.Positive(t, count, "value %d never drawn", v)
	}
	assert.Equal(t, 0, rng.Intn(1))
	assert.Panics(t, func() { rng.Intn(0) })
}

func TestTrialSeed(t *testing.T) {
	assert.Equal(t, trialSeed(99, 3, 17), trialSeed(99, 3, 17))

	seeds := make(map[int64]bool)
	for seq := 0; seq < 10; seq++ {
		for trial := 0; trial < 100; trial++ {
			seeds[trialSeed(99, seq, trial)] = true
		}
	}
	assert.Len(t, seeds, 1000)
}

func TestBatchSampler_Distinct(t *testing.T) {
	const n = 256
	s := NewBatchSampler(n, NewFastRNG(1))
	for round := 0; round < 50; round++ {
		batch := s.Sample(32)
		require.Len(t, batch, 32)
		seen := make(map[int]bool, len(batch))
		for _, slot := range batch {
			require.GreaterOrEqual(t, slot, 0)
			require.Less(t, slot, n)
			require.False(t, seen[slot], "slot %d drawn twice", slot)
			seen[slot] = true
		}
	}

	assert.Len(t, s.Sample(n+10), n)
}

func TestBatchSampler_ResetReplays(t *testing.T) {
	s := NewBatchSampler(100, NewFastRNG(5))
	first := append([]int(nil), s.Sample(10)...)
	s.Sample(10)

	s.reset(NewFastRNG(5))
	assert.Equal(t, first, s.Sample(10))
}

func TestSampleExcluded(t *testing.T) {
	tests := []struct {
		name string
		n, k int
	}{
		{"none", 64, 0},
		{"some", 64, 20},
		{"all but tracked", 64, 63},
		{"more than possible", 8, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleExcluded(tt.n, tt.k, NewFastRNG(42))
			want := min(tt.k, tt.n-1)
			require.Equal(t, want, e.Len())
			assert.False(t, e.Contains(trackedSlot))
			for _, slot := range e.Slots() {
				assert.GreaterOrEqual(t, slot, 1)
				assert.Less(t, slot, tt.n)
				assert.True(t, e.Contains(slot))
			}
		})
	}
}

func TestSampleExcluded_NeverTracked(t *testing.T) {
	rng := NewFastRNG(3)
	for i := 0; i < 500; i++ {
		e := sampleExcluded(4, 2, rng)
		require.False(t, e.Contains(trackedSlot))
		require.Equal(t, 2, e.Len())
	}
}
