// Package hashcash implements the cooperative proof-of-work search cubes use
// to satisfy their difficulty target: brute-force a nonce until
// SHA3-256(buffer) has enough trailing zero bits. Mining yields to the host
// scheduler on a wall-clock cadence rather than a fixed iteration count, and
// an optional worker pool stripes the 32-bit nonce space across goroutines.
package hashcash

import (
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"time"

	"github.com/EliasOenal/verity-sub000/cubecrypto"
)

// ErrCancelled is returned when the search is cancelled via ctx before a
// solution is found.
var ErrCancelled = errors.New("hashcash: mining cancelled")

// ErrExhausted is returned when the assigned nonce range is exhausted
// without finding a solution — practically unreachable at realistic
// difficulties but always checked so a stripe never spins forever.
var ErrExhausted = errors.New("hashcash: nonce range exhausted")

// yieldInterval is how often the hot loop checks for cancellation and
// yields to the scheduler, replacing the source's fixed "every 1000
// iterations" budget with a wall-clock one so slower hash functions or
// busier hosts still cooperate promptly.
const yieldInterval = 5 * time.Millisecond

// Params describes one mining attempt over a fixed-size buffer.
type Params struct {
	// Buffer is mutated in place: the nonce field is overwritten on every
	// attempt, and Resign (if set) is invoked after each nonce write.
	Buffer []byte
	// NonceOffset is the byte offset within Buffer of a 4-byte big-endian
	// counter slot.
	NonceOffset int
	// Difficulty is the minimum required trailing-zero-bit count.
	Difficulty uint32
	// Resign re-derives any signature-dependent bytes in Buffer after the
	// nonce has been updated. Required for MUC/IPC mining, nil for frozen
	// cubes.
	Resign func(buf []byte)
	// RangeStart/RangeEnd bound the nonce values this call may try,
	// inclusive/exclusive respectively. A parallel pool assigns each
	// worker a disjoint stripe; a solo miner uses [0, 1<<32).
	RangeStart, RangeEnd uint64
}

// Mine searches Params.Buffer in place for a nonce producing a digest that
// meets Difficulty, returning that digest. The buffer is left exactly as it
// was when the winning digest was computed.
func Mine(ctx context.Context, p Params) ([32]byte, error) {
	if p.RangeEnd == 0 {
		p.RangeEnd = 1 << 32
	}
	nonce := p.RangeStart
	const checkEvery = 2000
	deadline := time.Now().Add(yieldInterval)
	for nonce < p.RangeEnd {
		binary.BigEndian.PutUint32(p.Buffer[p.NonceOffset:p.NonceOffset+4], uint32(nonce))
		if p.Resign != nil {
			p.Resign(p.Buffer)
		}
		digest := cubecrypto.Hash(p.Buffer)
		if cubecrypto.TrailingZeroBits(digest[:]) >= p.Difficulty {
			return digest, nil
		}
		nonce++
		if nonce%checkEvery == 0 && time.Now().After(deadline) {
			select {
			case <-ctx.Done():
				return [32]byte{}, ErrCancelled
			default:
				runtime.Gosched()
			}
			deadline = time.Now().Add(yieldInterval)
		}
	}
	return [32]byte{}, ErrExhausted
}

// MineParallel splits the 32-bit nonce space into workers disjoint stripes
// and races them, cancelling the rest as soon as one finds a solution. Each
// worker needs its own buffer copy since Mine mutates in place; the caller's
// original Params.Buffer is overwritten with the winning worker's buffer
// contents on success.
func MineParallel(ctx context.Context, p Params, workers int) ([32]byte, error) {
	if workers <= 1 {
		return Mine(ctx, p)
	}
	if p.RangeEnd == 0 {
		p.RangeEnd = 1 << 32
	}
	total := p.RangeEnd - p.RangeStart
	stripe := total / uint64(workers)
	if stripe == 0 {
		return Mine(ctx, p)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		digest [32]byte
		buf    []byte
		err    error
	}
	results := make(chan result, workers)

	for w := 0; w < workers; w++ {
		start := p.RangeStart + uint64(w)*stripe
		end := start + stripe
		if w == workers-1 {
			end = p.RangeEnd
		}
		buf := make([]byte, len(p.Buffer))
		copy(buf, p.Buffer)
		wp := Params{
			Buffer:      buf,
			NonceOffset: p.NonceOffset,
			Difficulty:  p.Difficulty,
			Resign:      p.Resign,
			RangeStart:  start,
			RangeEnd:    end,
		}
		go func() {
			digest, err := Mine(runCtx, wp)
			results <- result{digest: digest, buf: buf, err: err}
		}()
	}

	var firstErr error
	for i := 0; i < workers; i++ {
		r := <-results
		if r.err == nil {
			cancel()
			copy(p.Buffer, r.buf)
			// Drain remaining workers so their goroutines exit promptly;
			// their results are discarded.
			for j := i + 1; j < workers; j++ {
				<-results
			}
			return r.digest, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return [32]byte{}, firstErr
}
