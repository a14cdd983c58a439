package sync

import "sync"

// PeerDirectory is the minimal address book SyncManager samples from when
// answering NODE_REQUEST and may consult when deciding which newly learned
// addresses are worth dialing. Peer discovery itself stays out of scope for
// the core protocol; this is the narrow seam a concrete implementation
// (on-disk, DNS-seeded, tracker-backed, …) plugs into without SyncManager
// needing to know which.
type PeerDirectory interface {
	Addresses() []string
	Remember(addr string)
}

// memoryPeerDirectory is the default PeerDirectory: a deduplicating,
// unordered in-memory set. It never forgets an address and never validates
// reachability — both are left to whatever connects (or fails to).
type memoryPeerDirectory struct {
	mu    sync.Mutex
	addrs map[string]struct{}
}

// NewMemoryPeerDirectory returns a PeerDirectory backed by a plain in-memory
// set, the default when no persistent directory is configured.
func NewMemoryPeerDirectory() PeerDirectory {
	return &memoryPeerDirectory{addrs: make(map[string]struct{})}
}

func (d *memoryPeerDirectory) Addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.addrs))
	for a := range d.addrs {
		out = append(out, a)
	}
	return out
}

func (d *memoryPeerDirectory) Remember(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs[addr] = struct{}{}
}
