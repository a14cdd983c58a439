package store

import "math"

// mucContestWinnerIsIncoming implements the MUC contest: later date wins;
// ties keep the stored cube (owners causing collisions penalize
// themselves).
func mucContestWinnerIsIncoming(stored, incoming *Info) bool {
	return incoming.Date > stored.Date
}

// IPC lifetime interpolation points: 7 days at 12 bits of challenge, 28
// days at 20 bits, interpolated linearly in log-challenge space.
const (
	ipcLifetimeC1Bits = 12
	ipcLifetimeC2Bits = 20
	ipcLifetimeD1Secs = 7 * 24 * 60 * 60
	ipcLifetimeD2Secs = 28 * 24 * 60 * 60
)

// cubeLifetime returns the lifetime, in seconds, an IPC with the given
// challenge level (trailing-zero-bit count) is granted, linearly
// interpolating between (c1,d1) and (c2,d2) in log-challenge space. Below
// c1 the lifetime clamps to d1; above c2 it clamps to d2.
func cubeLifetime(challengeBits uint32) uint64 {
	c := float64(challengeBits)
	switch {
	case c <= ipcLifetimeC1Bits:
		return ipcLifetimeD1Secs
	case c >= ipcLifetimeC2Bits:
		return ipcLifetimeD2Secs
	}
	// log-challenge space: treat challenge bits themselves as already
	// logarithmic (each extra bit halves the expected mining cost), so
	// interpolation is linear in c directly.
	t := (c - ipcLifetimeC1Bits) / (ipcLifetimeC2Bits - ipcLifetimeC1Bits)
	lifetime := ipcLifetimeD1Secs + t*(ipcLifetimeD2Secs-ipcLifetimeD1Secs)
	return uint64(math.Round(lifetime))
}

// expiration returns the absolute expiration time (seconds since epoch) of
// an IPC with the given mint date and challenge level.
func expiration(date uint64, challengeBits uint32) uint64 {
	return date + cubeLifetime(challengeBits)
}

// ipcContestWinnerIsIncoming implements the IPC contest: the cube with the
// later expiration wins; ties keep the stored cube.
func ipcContestWinnerIsIncoming(stored, incoming *Info) bool {
	storedExp := expiration(stored.Date, stored.ChallengeLevel)
	incomingExp := expiration(incoming.Date, incoming.ChallengeLevel)
	return incomingExp > storedExp
}
