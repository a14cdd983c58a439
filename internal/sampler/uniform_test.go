package sampler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EliasOenal/verity-sub000/internal/sampler"
)

func TestSampleReturnsDistinctIndices(t *testing.T) {
	u := sampler.NewDeterministicUniform(42)
	u.Initialize(10)
	indices, ok := u.Sample(5)
	require.True(t, ok)
	require.Len(t, indices, 5)
	seen := map[int]bool{}
	for _, idx := range indices {
		require.False(t, seen[idx], "index %d drawn twice", idx)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 10)
		seen[idx] = true
	}
}

func TestSampleRejectsOversizedRequest(t *testing.T) {
	u := sampler.NewDeterministicUniform(1)
	u.Initialize(3)
	_, ok := u.Sample(4)
	require.False(t, ok)
}

func TestSampleDistributionCoversWholePopulation(t *testing.T) {
	// Regression test for the "slice(rnd, 1)" bug this sampler replaces:
	// that code biased draws toward low indices. Over many draws every
	// index should appear roughly as often as any other.
	u := sampler.NewDeterministicUniform(7)
	u.Initialize(5)
	counts := make([]int, 5)
	const trials = 20000
	for i := 0; i < trials; i++ {
		indices, ok := u.Sample(1)
		require.True(t, ok)
		counts[indices[0]]++
	}
	expected := float64(trials) / 5
	for _, c := range counts {
		ratio := float64(c) / expected
		require.InDelta(t, 1.0, ratio, 0.15)
	}
}
