package sync

import (
	"context"
	"crypto/rand"
	"net"
	"sync"

	"github.com/luxfi/log"

	"github.com/EliasOenal/verity-sub000/config"
	"github.com/EliasOenal/verity-sub000/internal/metrics"
	"github.com/EliasOenal/verity-sub000/internal/sampler"
	"github.com/EliasOenal/verity-sub000/internal/set"
	"github.com/EliasOenal/verity-sub000/store"
)

// ManagerEventKind distinguishes SyncManager's public events.
type ManagerEventKind int

const (
	EventOnline ManagerEventKind = iota
	EventShutdown
	EventNewPeer
	EventUpdatePeer
	EventPeerClosed
	EventBlacklist
)

// ManagerEvent is a single SyncManager lifecycle notification.
type ManagerEvent struct {
	Kind ManagerEventKind
	Addr string
}

// netConn adapts a net.Conn to the sync.Conn interface.
type netConn struct {
	net.Conn
}

func (c netConn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}

// Manager owns the set of incoming and outgoing SyncPeer connections for a
// node, including self-loop detection via a locally
// generated 16-byte identity and blacklist enforcement.
type Manager struct {
	store     *store.CubeStore
	cfg       config.Config
	localID   [PeerIDSize]byte
	logger    log.Logger
	metrics   *metrics.Registry
	sampler   sampler.Uniform
	directory PeerDirectory

	mu         sync.Mutex
	incoming   map[string]*SyncPeer
	outgoing   map[string]*SyncPeer
	blacklist  set.Set[string]
	wentOnline bool
	dialCtx    context.Context

	events chan ManagerEvent

	listener net.Listener
}

// NewManager constructs a Manager. It subscribes to st's cubeAdded events so
// every connected peer's unsent set stays current.
func NewManager(st *store.CubeStore, cfg config.Config, logger log.Logger, reg *metrics.Registry) *Manager {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if reg == nil {
		reg = metrics.NewNoOpRegistry()
	}
	m := &Manager{
		store:     st,
		cfg:       cfg,
		localID:   randomPeerID(),
		logger:    logger,
		metrics:   reg,
		sampler:   sampler.NewUniform(),
		directory: NewMemoryPeerDirectory(),
		incoming:  make(map[string]*SyncPeer),
		outgoing:  make(map[string]*SyncPeer),
		blacklist: set.Of[string](),
		events:    make(chan ManagerEvent, 64),
	}
	go m.forwardCubeAdded()
	return m
}

// SetPeerDirectory swaps in a persistent PeerDirectory (on-disk, seeded from
// a tracker, …) in place of the default in-memory one. Call before Serve or
// Connect; not safe to call concurrently with either.
func (m *Manager) SetPeerDirectory(d PeerDirectory) {
	m.directory = d
}

func randomPeerID() [PeerIDSize]byte {
	var id [PeerIDSize]byte
	_, _ = rand.Read(id[:])
	return id
}

// Events returns the channel Manager publishes online/shutdown/newpeer/
// updatepeer/peerclosed/blacklist on.
func (m *Manager) Events() <-chan ManagerEvent {
	return m.events
}

func (m *Manager) publish(ev ManagerEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("manager event channel full, dropping", "kind", ev.Kind)
	}
}

func (m *Manager) forwardCubeAdded() {
	for ev := range m.store.Events() {
		if ev.Kind != store.EventCubeAdded {
			continue
		}
		m.mu.Lock()
		peers := make([]*SyncPeer, 0, len(m.incoming)+len(m.outgoing))
		for _, p := range m.incoming {
			peers = append(peers, p)
		}
		for _, p := range m.outgoing {
			peers = append(peers, p)
		}
		m.mu.Unlock()
		for _, p := range peers {
			p.OnCubeAdded(ev.Key)
		}
	}
}

// Serve accepts incoming connections on l until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context, l net.Listener) error {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		addr := conn.RemoteAddr().String()
		if m.isBlacklisted(addr) {
			conn.Close()
			continue
		}
		m.adopt(ctx, conn, m.incoming)
	}
}

// Connect dials address, deduping against any existing connection, and
// adopts the result as an outgoing peer.
func (m *Manager) Connect(ctx context.Context, address string) (*SyncPeer, error) {
	if m.isBlacklisted(address) {
		return nil, ErrSelfConnection
	}
	m.mu.Lock()
	if existing, ok := m.outgoing[address]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return m.adopt(ctx, conn, m.outgoing), nil
}

func (m *Manager) adopt(ctx context.Context, conn net.Conn, registry map[string]*SyncPeer) *SyncPeer {
	addr := conn.RemoteAddr().String()
	peer := NewSyncPeer(netConn{conn}, m.localID, m.store, m.cfg, m.cfg.LightMode, m.logger, m.metrics)

	peer.SetAddressProvider(m.sampleKnownAddresses)
	m.directory.Remember(addr)

	m.mu.Lock()
	registry[addr] = peer
	m.dialCtx = ctx
	m.mu.Unlock()

	go m.watch(peer)
	go func() {
		if err := peer.Start(ctx); err != nil {
			m.logger.Warn("peer session ended", "peer", addr, "err", err)
		}
	}()
	return peer
}

// watch relays a peer's lifecycle events into the manager's own event
// stream and maintains the peer registries, blacklist, and peer directory.
func (m *Manager) watch(peer *SyncPeer) {
	addr := peer.RemoteAddr()
	for ev := range peer.Events() {
		switch ev.Kind {
		case PeerEventNodesLearned:
			m.learn(ev.Addrs)
		case PeerEventReady:
			m.mu.Lock()
			firstOnline := !m.wentOnline
			m.wentOnline = true
			m.mu.Unlock()
			m.publish(ManagerEvent{Kind: EventNewPeer, Addr: addr})
			if firstOnline {
				m.publish(ManagerEvent{Kind: EventOnline, Addr: addr})
			} else {
				m.publish(ManagerEvent{Kind: EventUpdatePeer, Addr: addr})
			}
		case PeerEventClosed:
			m.remove(addr)
			m.publish(ManagerEvent{Kind: EventPeerClosed, Addr: addr})
			m.maybeShutdown()
		case PeerEventBlacklist:
			m.remove(addr)
			m.mu.Lock()
			m.blacklist.Add(addr)
			m.mu.Unlock()
			m.publish(ManagerEvent{Kind: EventBlacklist, Addr: addr})
			m.maybeShutdown()
		}
	}
}

// learn records addrs in the peer directory and, while the connection count
// is below MaxConnections, dials any that are neither already connected nor
// blacklisted. Dial failures are logged, not propagated: a stale or
// unreachable learned address must not take down the learning peer's
// connection.
func (m *Manager) learn(addrs []string) {
	for _, addr := range addrs {
		m.directory.Remember(addr)
	}

	m.mu.Lock()
	ctx := m.dialCtx
	room := m.cfg.MaxConnections - (len(m.incoming) + len(m.outgoing))
	m.mu.Unlock()
	if ctx == nil || room <= 0 {
		return
	}

	for _, addr := range addrs {
		if room <= 0 {
			return
		}
		m.mu.Lock()
		_, connected := m.outgoing[addr]
		blacklisted := m.blacklist.Contains(addr)
		m.mu.Unlock()
		if connected || blacklisted {
			continue
		}
		if _, err := m.Connect(ctx, addr); err != nil {
			m.logger.Warn("dialing learned peer failed", "addr", addr, "err", err)
			continue
		}
		room--
	}
}

func (m *Manager) remove(addr string) {
	m.mu.Lock()
	delete(m.incoming, addr)
	delete(m.outgoing, addr)
	m.mu.Unlock()
}

func (m *Manager) maybeShutdown() {
	m.mu.Lock()
	empty := len(m.incoming) == 0 && len(m.outgoing) == 0
	wasOnline := m.wentOnline
	m.mu.Unlock()
	if empty && wasOnline {
		m.publish(ManagerEvent{Kind: EventShutdown})
	}
}

func (m *Manager) isBlacklisted(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklist.Contains(addr)
}

// KnownAddresses returns every currently connected peer's address.
func (m *Manager) KnownAddresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, 0, len(m.incoming)+len(m.outgoing))
	for addr := range m.incoming {
		addrs = append(addrs, addr)
	}
	for addr := range m.outgoing {
		addrs = append(addrs, addr)
	}
	return addrs
}

// directoryAddresses merges the live connection set with the peer
// directory's remembered addresses, deduplicated, as the pool a
// NODE_RESPONSE samples from — wider than just currently connected peers,
// since the directory also holds addresses learned but not yet dialed.
func (m *Manager) directoryAddresses() []string {
	seen := set.Of(m.KnownAddresses()...)
	seen.Add(m.directory.Addresses()...)
	return seen.List()
}

// sampleKnownAddresses draws a bounded, non-repeating random sample of known
// peer addresses for a NODE exchange, using internal/sampler's
// Fisher-Yates draw rather than repeated slicing from a fixed offset. It is
// installed as every adopted SyncPeer's AddressProvider, so NODE_REQUEST is
// answered from the manager's address book rather than left empty.
func (m *Manager) sampleKnownAddresses(fanout int) []string {
	addrs := m.directoryAddresses()
	m.mu.Lock()
	m.sampler.Initialize(len(addrs))
	if fanout > len(addrs) {
		fanout = len(addrs)
	}
	indices, ok := m.sampler.Sample(fanout)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	sampled := make([]string, len(indices))
	for i, idx := range indices {
		sampled[i] = addrs[idx]
	}
	return sampled
}

// AnswerNodeRequest replies to peer's NODE_REQUEST with a sample drawn from
// the manager's known addresses. Kept as an explicit entry point alongside
// the automatic AddressProvider wiring installed in adopt, for callers that
// want to trigger a NODE_RESPONSE outside of the regular timer cadence.
func (m *Manager) AnswerNodeRequest(ctx context.Context, peer *SyncPeer) error {
	return peer.SendNodeResponse(ctx, m.sampleKnownAddresses(nodeExchangeFanout))
}

// Shutdown closes every connection and the accept listener, if any.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	peers := make([]*SyncPeer, 0, len(m.incoming)+len(m.outgoing))
	for _, p := range m.incoming {
		peers = append(peers, p)
	}
	for _, p := range m.outgoing {
		peers = append(peers, p)
	}
	l := m.listener
	m.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	if l != nil {
		l.Close()
	}
}
