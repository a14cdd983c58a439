// Package sampler implements random-without-replacement sampling over an
// index range. SyncManager uses it to pick a bounded, non-repeating subset
// of known peer addresses for a NODE_RESPONSE — the source this repo is
// ported from instead did `availablePeers.slice(rnd, 1)`, which reads like a
// removal but leaves the backing slice untouched and biases the draw
// towards the front of the list. This implementation performs a genuine
// Fisher-Yates partial shuffle instead.
package sampler

import "math/rand"

// Uniform draws distinct indices in [0, count) without replacement.
type Uniform interface {
	// Initialize resets the population size.
	Initialize(count int)
	// Sample returns size distinct indices, or ok=false if size > count.
	Sample(size int) (indices []int, ok bool)
}

type uniform struct {
	count int
	rng   *rand.Rand
}

// NewUniform returns a sampler seeded from the process-global random source.
func NewUniform() Uniform {
	return &uniform{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewDeterministicUniform returns a sampler seeded for reproducible tests.
func NewDeterministicUniform(seed int64) Uniform {
	return &uniform{rng: rand.New(rand.NewSource(seed))}
}

func (u *uniform) Initialize(count int) {
	u.count = count
}

// Sample performs a partial Fisher-Yates shuffle over a 0..count-1 index
// pool and returns the first size entries. Every permutation of size
// indices is equally likely, and the pool is never mutated across calls.
func (u *uniform) Sample(size int) ([]int, bool) {
	if size > u.count || size < 0 {
		return nil, false
	}
	pool := make([]int, u.count)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < size; i++ {
		j := i + u.rng.Intn(u.count-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:size], true
}
