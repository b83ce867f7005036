package main

// FastRNG is a per-goroutine RNG state to avoid locking.
type FastRNG struct {
	state uint64
}

func NewFastRNG(seed int64) *FastRNG {
	return &FastRNG{state: uint64(seed)}
}

// Uint64 advances the splitmix64 state and returns the mixed output.
func (r *FastRNG) Uint64() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (r *FastRNG) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Intn returns a uniform value in [0, n). It panics if n <= 0.
// Rejection sampling removes the modulo bias.
func (r *FastRNG) Intn(n int) int {
	if n <= 0 {
		panic("FastRNG.Intn: n must be positive")
	}
	bound := uint64(n)
	limit := -bound % bound // (2^64 - bound) mod bound
	for {
		v := r.Uint64()
		if v >= limit {
			return int(v % bound)
		}
	}
}

// trialSeed mixes the run seed, the configuration sequence number and the
// trial index into an independent stream seed, so a trial draws the same
// numbers regardless of which worker runs it.
func trialSeed(base int64, seqID, trial int) int64 {
	x := uint64(base) ^ (uint64(seqID)*0x9e3779b97f4a7c15 + uint64(trial)*997)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// BatchSampler draws fixed-size subsets of [0, n) without replacement.
// It keeps a permutation of the universe between draws and runs a partial
// Fisher-Yates shuffle over its prefix, which is O(k) per draw. Any
// arrangement of the permutation is a valid starting point, so the prefix
// is never restored.
type BatchSampler struct {
	perm []int
	rng  *FastRNG
}

func NewBatchSampler(n int, rng *FastRNG) *BatchSampler {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return &BatchSampler{perm: perm, rng: rng}
}

// Sample returns k distinct slot indices. The returned slice aliases the
// sampler's internal state and is only valid until the next call.
func (s *BatchSampler) Sample(k int) []int {
	n := len(s.perm)
	if k > n {
		k = n
	}
	for i := 0; i < k; i++ {
		j := i + s.rng.Intn(n-i)
		s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
	}
	return s.perm[:k]
}

func (s *BatchSampler) reset(rng *FastRNG) {
	for i := range s.perm {
		s.perm[i] = i
	}
	s.rng = rng
}
