package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EliasOenal/verity-sub000/cube"
	"github.com/EliasOenal/verity-sub000/cubecrypto"
	"github.com/EliasOenal/verity-sub000/store"
)

func drainEvent(t *testing.T, events <-chan store.Event) store.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for store event")
		return store.Event{}
	}
}

func requireNoEvent(t *testing.T, events <-chan store.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

// TestDuplicateAddIsIgnored verifies adding the same cube twice
// fires cubeAdded once and leaves count at 1.
func TestDuplicateAddIsIgnored(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	c, err := cube.NewBuilder().SetPayload([]byte("hello")).Freeze(context.Background(), 0)
	require.NoError(t, err)

	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)
	ev := drainEvent(t, s.Events())
	require.Equal(t, store.EventCubeAdded, ev.Kind)
	require.Equal(t, c.Key, ev.Key)

	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)
	requireNoEvent(t, s.Events())

	require.Equal(t, 1, s.Count())
}

// TestMUCContestLaterDateWins verifies a later-dated MUC replaces
// the stored one, firing a second cubeAdded.
func TestMUCContestLaterDateWins(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	pk, sk, err := cubecrypto.GenerateKey()
	require.NoError(t, err)

	m1, err := cube.NewBuilder().
		SetKind(cube.KindMUC).SetKeys(pk, sk).SetDate(1000).
		Freeze(context.Background(), 0)
	require.NoError(t, err)
	key, err := s.AddCube(context.Background(), m1)
	require.NoError(t, err)
	drainEvent(t, s.Events())

	m2, err := cube.NewBuilder().
		SetKind(cube.KindMUC).SetKeys(pk, sk).SetDate(1001).
		Freeze(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, key, m2.Key)

	_, err = s.AddCube(context.Background(), m2)
	require.NoError(t, err)
	ev := drainEvent(t, s.Events())
	require.Equal(t, store.EventCubeAdded, ev.Kind)
	require.Equal(t, key, ev.Key)

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(1001), got.Date)
	require.Equal(t, 1, s.Count())
}

// TestMUCContestEarlierDateLoses ensures a stale MUC update is silently
// dropped and the stored cube is left untouched.
func TestMUCContestEarlierDateLoses(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	pk, sk, err := cubecrypto.GenerateKey()
	require.NoError(t, err)

	m1, err := cube.NewBuilder().
		SetKind(cube.KindMUC).SetKeys(pk, sk).SetDate(2000).
		Freeze(context.Background(), 0)
	require.NoError(t, err)
	key, err := s.AddCube(context.Background(), m1)
	require.NoError(t, err)
	drainEvent(t, s.Events())

	m0, err := cube.NewBuilder().
		SetKind(cube.KindMUC).SetKeys(pk, sk).SetDate(1999).
		Freeze(context.Background(), 0)
	require.NoError(t, err)

	_, err = s.AddCube(context.Background(), m0)
	require.NoError(t, err)
	requireNoEvent(t, s.Events())

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(2000), got.Date)
}

func TestHasGetRawAndGetInfo(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	c, err := cube.NewBuilder().SetPayload([]byte("payload data")).Freeze(context.Background(), 0)
	require.NoError(t, err)

	require.False(t, s.Has(c.Key))
	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)

	require.True(t, s.Has(c.Key))
	raw, ok := s.GetRaw(c.Key)
	require.True(t, ok)
	require.Equal(t, c.Binary[:], raw)

	info, ok := s.GetInfo(c.Key)
	require.True(t, ok)
	require.True(t, info.Complete())
	require.Equal(t, cube.KindFrozen, info.Kind)
}

func TestEnsureInfoCreatesIncompletePlaceholder(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	var key store.Key
	key[0] = 0x42

	info := s.EnsureInfo(key)
	require.False(t, info.Complete())
	require.True(t, s.Has(key))

	_, ok := s.GetRaw(key)
	require.False(t, ok)

	// A second EnsureInfo call for the same key returns the same record.
	again := s.EnsureInfo(key)
	require.Same(t, info, again)
}

func TestAddPopulatesExistingPlaceholder(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	c, err := cube.NewBuilder().SetPayload([]byte("hi")).Freeze(context.Background(), 0)
	require.NoError(t, err)

	placeholder := s.EnsureInfo(c.Key)
	require.False(t, placeholder.Complete())

	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)

	info, ok := s.GetInfo(c.Key)
	require.True(t, ok)
	require.True(t, info.Complete())
}

func TestAllCompleteKeysExcludesPlaceholders(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	c, err := cube.NewBuilder().SetPayload([]byte("complete")).Freeze(context.Background(), 0)
	require.NoError(t, err)
	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)

	var placeholderKey store.Key
	placeholderKey[0] = 0x99
	s.EnsureInfo(placeholderKey)

	keys := s.AllCompleteKeys()
	require.Len(t, keys, 1)
	require.Equal(t, c.Key, keys[0])
	require.Equal(t, 2, s.Count())
}

// fakeIndexer records every IndexCube invocation for verification that
// CubeStore drives the annotation hook on every successful add.
type fakeIndexer struct {
	calls []store.Key
}

func (f *fakeIndexer) IndexCube(key store.Key, relationships []cube.Relationship) error {
	f.calls = append(f.calls, key)
	return nil
}

func TestAddDrivesRegisteredIndexer(t *testing.T) {
	s := store.New(0, nil, nil, nil)
	idx := &fakeIndexer{}
	s.SetIndexer(idx)

	c, err := cube.NewBuilder().SetPayload([]byte("x")).Freeze(context.Background(), 0)
	require.NoError(t, err)
	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)

	require.Equal(t, []store.Key{c.Key}, idx.calls)

	// A duplicate add must not re-trigger indexing.
	_, err = s.AddCube(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, idx.calls, 1)
}
