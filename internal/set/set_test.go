package set_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EliasOenal/verity-sub000/internal/set"
)

func TestAddContainsRemove(t *testing.T) {
	s := set.Of[string]("a", "b")
	require.True(t, s.Contains("a"))
	require.False(t, s.Contains("c"))
	s.Add("c")
	require.True(t, s.Contains("c"))
	s.Remove("a")
	require.False(t, s.Contains("a"))
	require.Equal(t, 2, s.Len())
}

func TestPopDrainsEverything(t *testing.T) {
	s := set.Of[int](1, 2, 3)
	seen := set.Of[int]()
	for s.Len() > 0 {
		v, ok := s.Pop()
		require.True(t, ok)
		seen.Add(v)
	}
	require.Equal(t, 3, seen.Len())
	_, ok := s.Pop()
	require.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	s := set.Of[int](1, 2)
	c := s.Clone()
	c.Add(3)
	require.Equal(t, 2, s.Len())
	require.Equal(t, 3, c.Len())
}
