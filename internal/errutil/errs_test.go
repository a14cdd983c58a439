package errutil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EliasOenal/verity-sub000/internal/errutil"
)

func TestErrsAccumulatesAndIgnoresNil(t *testing.T) {
	var e errutil.Errs
	require.False(t, e.Errored())
	e.Add(nil)
	require.False(t, e.Errored())
	e.Add(errors.New("first"))
	e.Add(errors.New("second"))
	require.True(t, e.Errored())
	require.Equal(t, 2, e.Count())
	require.ErrorContains(t, e.Err(), "first")
	require.ErrorContains(t, e.Err(), "second")
}

func TestErrsSingleErrorIsReturnedUnwrapped(t *testing.T) {
	var e errutil.Errs
	want := errors.New("only")
	e.Add(want)
	require.Same(t, want, e.Err())
}
