package hashcash_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EliasOenal/verity-sub000/cubecrypto"
	"github.com/EliasOenal/verity-sub000/hashcash"
)

func TestMineFindsDifficultyTarget(t *testing.T) {
	buf := make([]byte, 64)
	digest, err := hashcash.Mine(context.Background(), hashcash.Params{
		Buffer:      buf,
		NonceOffset: 0,
		Difficulty:  8,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, cubecrypto.TrailingZeroBits(digest[:]), uint32(8))

	// The buffer must be left in the exact state that produced the digest.
	require.Equal(t, cubecrypto.Hash(buf), digest)
}

func TestMineZeroDifficultyAlwaysSucceeds(t *testing.T) {
	buf := make([]byte, 16)
	_, err := hashcash.Mine(context.Background(), hashcash.Params{Buffer: buf, NonceOffset: 0, Difficulty: 0})
	require.NoError(t, err)
}

func TestMineRespectsCancellation(t *testing.T) {
	buf := make([]byte, 32)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// An unreachable difficulty over the full nonce range keeps the search
	// running until its first yield point, where the cancelled context must
	// stop it.
	_, err := hashcash.Mine(ctx, hashcash.Params{
		Buffer:      buf,
		NonceOffset: 0,
		Difficulty:  40,
	})
	require.ErrorIs(t, err, hashcash.ErrCancelled)
}

func TestMineParallelAgreesWithSoloOnDifficulty(t *testing.T) {
	buf := make([]byte, 64)
	digest, err := hashcash.MineParallel(context.Background(), hashcash.Params{
		Buffer:      buf,
		NonceOffset: 0,
		Difficulty:  10,
	}, 4)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cubecrypto.TrailingZeroBits(digest[:]), uint32(10))
	require.Equal(t, cubecrypto.Hash(buf), digest)
}

func TestMineWithResignRerunsCallback(t *testing.T) {
	buf := make([]byte, 32)
	var resignCalls int
	_, err := hashcash.Mine(context.Background(), hashcash.Params{
		Buffer:      buf,
		NonceOffset: 0,
		Difficulty:  8,
		Resign: func([]byte) {
			resignCalls++
		},
	})
	require.NoError(t, err)
	require.Greater(t, resignCalls, 0)
}

func TestMineCompletesQuickly(t *testing.T) {
	buf := make([]byte, 32)
	start := time.Now()
	_, err := hashcash.Mine(context.Background(), hashcash.Params{Buffer: buf, Difficulty: 12})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}
