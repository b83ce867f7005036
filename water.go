package main

import (
	"github.com/bits-and-blooms/bitset"
)

// trackedSlot is the cup whose water we follow. It is never corrupted.
const trackedSlot = 0

// Cups holds the water (residual identifiability mass) of every slot in the
// universe as a dense array; a slot nobody has poured into holds 0.
//
// Cups also keeps count of the slots holding at least threshold water, so
// "max mass < threshold" is answered without scanning the whole array.
// threshold must be positive for the count to cover untouched slots.
type Cups struct {
	mass      []float64
	threshold float64
	hot       int
}

func NewCups(slots int, threshold float64) *Cups {
	return &Cups{
		mass:      make([]float64, slots),
		threshold: threshold,
	}
}

func (c *Cups) Len() int { return len(c.mass) }

func (c *Cups) Mass(slot int) float64 { return c.mass[slot] }

// Pour overwrites the water held by slot.
func (c *Cups) Pour(slot int, water float64) {
	if c.mass[slot] >= c.threshold {
		c.hot--
	}
	c.mass[slot] = water
	if water >= c.threshold {
		c.hot++
	}
}

// Reset empties every cup.
func (c *Cups) Reset() {
	clear(c.mass)
	c.hot = 0
}

// Hidden reports whether every cup holds less than the threshold.
func (c *Cups) Hidden() bool { return c.hot == 0 }

// MaxMass scans all cups. It is the reference for Hidden.
func (c *Cups) MaxMass() float64 {
	top := 0.0
	for _, w := range c.mass {
		if w > top {
			top = w
		}
	}
	return top
}

// ExcludedSet is the fixed set of corrupted slots for one trial.
type ExcludedSet struct {
	bits  *bitset.BitSet
	slots []int
}

func NewExcludedSet(universe int, slots ...int) *ExcludedSet {
	e := &ExcludedSet{
		bits:  bitset.New(uint(universe)),
		slots: make([]int, 0, len(slots)),
	}
	for _, s := range slots {
		e.add(s)
	}
	return e
}

func (e *ExcludedSet) add(slot int) {
	if e.bits.Test(uint(slot)) {
		return
	}
	e.bits.Set(uint(slot))
	e.slots = append(e.slots, slot)
}

func (e *ExcludedSet) Contains(slot int) bool { return e.bits.Test(uint(slot)) }

func (e *ExcludedSet) Len() int { return len(e.slots) }

// Slots returns the members in the order they were drawn.
func (e *ExcludedSet) Slots() []int { return e.slots }

// sampleExcluded draws k distinct slots uniformly from [1, n) with Floyd's
// algorithm, so the tracked slot 0 can never be corrupted.
func sampleExcluded(n, k int, rng *FastRNG) *ExcludedSet {
	e := NewExcludedSet(n)
	m := n - 1 // candidates 1..n-1, drawn as 0..m-1 and shifted by one
	if k > m {
		k = m
	}
	for j := m - k; j < m; j++ {
		t := rng.Intn(j+1) + 1
		if e.Contains(t) {
			t = j + 1
		}
		e.add(t)
	}
	return e
}

// RoundOutcome describes one redistribution. Batch and Honest alias the
// shuffler's scratch space and are only valid until the next round.
type RoundOutcome struct {
	Batch   []int
	Honest  []int
	Average float64
}

// Degenerate is true when every sampled cup was corrupted and no water moved.
func (r RoundOutcome) Degenerate() bool { return len(r.Honest) == 0 }

// Shuffler performs the per-round redistribution for a trial.
type Shuffler struct {
	sampler   *BatchSampler
	batchSize int
	honest    []int
}

func NewShuffler(slots, batchSize int, rng *FastRNG) *Shuffler {
	return &Shuffler{
		sampler:   NewBatchSampler(slots, rng),
		batchSize: batchSize,
		honest:    make([]int, 0, batchSize),
	}
}

// Reset restores the sampler to a fresh state drawing from rng, so a trial
// does not depend on the trials run before it on the same shuffler.
func (s *Shuffler) Reset(rng *FastRNG) {
	s.sampler.reset(rng)
}

// Redistribute samples a batch of cups and levels the water of its honest
// members. Corrupted cups are never written.
func (s *Shuffler) Redistribute(cups *Cups, excluded *ExcludedSet) RoundOutcome {
	batch := s.sampler.Sample(s.batchSize)
	out := redistributeBatch(cups, excluded, batch, s.honest[:0])
	s.honest = out.Honest[:0]
	return out
}

// redistributeBatch sets every honest cup of batch to the batch's average
// honest water. batch must hold distinct slots. honest is scratch space.
func redistributeBatch(cups *Cups, excluded *ExcludedSet, batch, honest []int) RoundOutcome {
	for _, slot := range batch {
		if !excluded.Contains(slot) {
			honest = append(honest, slot)
		}
	}
	if len(honest) == 0 {
		return RoundOutcome{Batch: batch, Honest: honest}
	}

	total := 0.0
	for _, slot := range honest {
		total += cups.mass[slot]
	}
	avg := total / float64(len(honest))
	for _, slot := range honest {
		cups.Pour(slot, avg)
	}
	return RoundOutcome{Batch: batch, Honest: honest, Average: avg}
}

// checkExcluded returns the first of slots that is corrupted yet holds
// water, or -1.
func checkExcluded(cups *Cups, excluded *ExcludedSet, slots []int) int {
	for _, slot := range slots {
		if excluded.Contains(slot) && cups.mass[slot] != 0.0 {
			return slot
		}
	}
	return -1
}
