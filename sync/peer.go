package sync

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/EliasOenal/verity-sub000/config"
	"github.com/EliasOenal/verity-sub000/cube"
	"github.com/EliasOenal/verity-sub000/internal/metrics"
	"github.com/EliasOenal/verity-sub000/internal/set"
	"github.com/EliasOenal/verity-sub000/store"
)

// Conn is the transport surface SyncPeer needs: a duplex byte stream with a
// remote address for logging. net.Conn satisfies this directly.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	RemoteAddr() string
}

// State is a SyncPeer's position in the handshake state machine.
type State int

const (
	StateNew State = iota
	StateHelloSent
	StateReady
	StateClosed
)

var (
	ErrSelfConnection = errors.New("sync: self connection detected")
)

// PeerEventKind distinguishes the lifecycle events a SyncPeer reports to
// its SyncManager.
type PeerEventKind int

const (
	PeerEventReady PeerEventKind = iota
	PeerEventClosed
	PeerEventBlacklist
	PeerEventNodesLearned
)

// PeerEvent is a single lifecycle notification from a SyncPeer. Addrs is
// only populated for PeerEventNodesLearned, carrying a NODE_RESPONSE's
// addresses up to SyncManager, whose PeerDirectory they get remembered in.
type PeerEvent struct {
	Kind  PeerEventKind
	Peer  *SyncPeer
	Addrs []string
}

const outboxSize = 256

// nodeExchangeFanout bounds how many addresses a bare NODE_RESPONSE carries
// when answered automatically via an AddressProvider.
const nodeExchangeFanout = 8

// AddressProvider supplies a bounded, already-sampled set of known peer
// addresses for an automatic NODE_RESPONSE. SyncManager installs one via
// SetAddressProvider; a bare SyncPeer with none set answers NODE_REQUEST
// with an empty list, staying protocol-correct standalone.
type AddressProvider func(max int) []string

// outboundFrame is a pre-encoded message queued for the writer goroutine.
type outboundFrame struct {
	bytes  []byte
	drop   bool // advertisement traffic: may be dropped under backpressure
}

// SyncPeer is a per-connection gossip state machine.
type SyncPeer struct {
	conn    Conn
	localID [PeerIDSize]byte
	store   *store.CubeStore
	cfg     config.Config
	light   bool
	logger  log.Logger
	metrics *metrics.Registry

	mu               sync.Mutex
	state            State
	remoteID         [PeerIDSize]byte
	unsent           set.Set[store.Key]
	pendingRequested set.Set[store.Key] // light mode: keys explicitly awaited
	addrProvider     AddressProvider

	outbox chan outboundFrame
	events chan PeerEvent

	cancel context.CancelFunc
}

// NewSyncPeer constructs a SyncPeer wrapping conn. Call Start to begin the
// handshake and message loop.
func NewSyncPeer(conn Conn, localID [PeerIDSize]byte, st *store.CubeStore, cfg config.Config, light bool, logger log.Logger, reg *metrics.Registry) *SyncPeer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if reg == nil {
		reg = metrics.NewNoOpRegistry()
	}
	unsent := set.Of(st.AllCompleteKeys()...)
	return &SyncPeer{
		conn:             conn,
		localID:          localID,
		store:            st,
		cfg:              cfg,
		light:            light,
		logger:           logger,
		metrics:          reg,
		state:            StateNew,
		unsent:           unsent,
		pendingRequested: set.Of[store.Key](),
		outbox:           make(chan outboundFrame, outboxSize),
		events:           make(chan PeerEvent, 8),
	}
}

// Events returns the channel SyncPeer publishes lifecycle transitions on.
func (p *SyncPeer) Events() <-chan PeerEvent {
	return p.events
}

// RemoteAddr returns the underlying connection's remote address.
func (p *SyncPeer) RemoteAddr() string {
	return p.conn.RemoteAddr()
}

// State returns the peer's current handshake state.
func (p *SyncPeer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnCubeAdded records that key is now available to advertise to this peer.
func (p *SyncPeer) OnCubeAdded(key store.Key) {
	p.mu.Lock()
	p.unsent.Add(key)
	p.mu.Unlock()
}

// SetAddressProvider installs the callback used to answer NODE_REQUEST
// automatically.
func (p *SyncPeer) SetAddressProvider(provider AddressProvider) {
	p.mu.Lock()
	p.addrProvider = provider
	p.mu.Unlock()
}

// RequestCube marks key as explicitly awaited, so a light-mode peer will
// accept an unsolicited HASH_RESPONSE advertising it.
func (p *SyncPeer) RequestCube(key store.Key) {
	p.mu.Lock()
	p.pendingRequested.Add(key)
	p.mu.Unlock()
}

// Start sends the initial HELLO, launches the writer and timer goroutines,
// and runs the read loop until ctx is cancelled or the connection closes.
func (p *SyncPeer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer cancel()

	go p.writeLoop(ctx)

	if err := p.send(ctx, encodeHello(p.localID), false); err != nil {
		p.closeWith(PeerEventClosed)
		return err
	}
	p.mu.Lock()
	p.state = StateHelloSent
	p.mu.Unlock()

	go p.timerLoop(ctx)

	return p.readLoop(ctx)
}

// Close tears down the connection and timers, reporting closed rather than
// blacklisted.
func (p *SyncPeer) Close() error {
	return p.closeWith(PeerEventClosed)
}

func (p *SyncPeer) closeWith(kind PeerEventKind) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	err := p.conn.Close()
	p.publish(PeerEvent{Kind: kind, Peer: p})
	return err
}

func (p *SyncPeer) publish(ev PeerEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("peer event channel full, dropping", "kind", ev.Kind)
	}
}

func (p *SyncPeer) readLoop(ctx context.Context) error {
	for {
		class, payload, err := ReadMessage(p.conn)
		if err != nil {
			if errors.Is(err, ErrUnknownMessageClass) {
				p.logger.Warn("ignoring unknown message class")
				continue
			}
			p.closeWith(PeerEventBlacklist)
			return err
		}
		if err := p.handle(ctx, class, payload); err != nil {
			p.closeWith(PeerEventBlacklist)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (p *SyncPeer) handle(ctx context.Context, class MessageClass, payload interface{}) error {
	switch class {
	case ClassHello:
		return p.handleHello(payload.(Hello))
	case ClassHashRequest:
		return p.handleHashRequest(ctx)
	case ClassHashResponse:
		return p.handleHashResponse(ctx, payload.(HashResponse))
	case ClassCubeRequest:
		return p.handleCubeRequest(ctx, payload.(CubeRequest))
	case ClassCubeResponse:
		return p.handleCubeResponse(ctx, payload.(CubeResponse))
	case ClassNodeRequest:
		return p.handleNodeRequest(ctx)
	case ClassNodeResponse:
		return p.handleNodeResponse(payload.(NodeResponse))
	default:
		return nil
	}
}

func (p *SyncPeer) handleHello(h Hello) error {
	p.mu.Lock()
	if p.state != StateHelloSent {
		// A HELLO received after READY is tolerated as a no-op rather than
		// an error: the handshake only defines this transition from
		// HELLO_SENT.
		p.mu.Unlock()
		return nil
	}
	if h.PeerID == p.localID {
		p.mu.Unlock()
		return ErrSelfConnection
	}
	p.remoteID = h.PeerID
	p.state = StateReady
	p.mu.Unlock()

	p.publish(PeerEvent{Kind: PeerEventReady, Peer: p})
	return nil
}

func (p *SyncPeer) handleHashRequest(ctx context.Context) error {
	p.mu.Lock()
	entries := make([]HashEntry, 0, minInt(p.unsent.Len(), MaxCubeHashCount))
	for i := 0; i < MaxCubeHashCount; i++ {
		key, ok := p.unsent.Pop()
		if !ok {
			break
		}
		info, ok := p.store.GetInfo(key)
		if !ok || !info.Complete() {
			continue
		}
		entries = append(entries, HashEntry{
			Kind:      info.Kind,
			Challenge: uint8(info.ChallengeLevel),
			Date:      info.Date,
			Key:       key,
		})
	}
	p.mu.Unlock()

	return p.send(ctx, encodeHashResponse(entries), true)
}

func (p *SyncPeer) handleHashResponse(ctx context.Context, hr HashResponse) error {
	missing := make([]store.Key, 0, len(hr.Entries))
	for _, e := range hr.Entries {
		if p.light {
			p.mu.Lock()
			wanted := p.pendingRequested.Contains(e.Key)
			p.mu.Unlock()
			if !wanted {
				continue
			}
		}

		info, exists := p.store.GetInfo(e.Key)
		switch {
		case !exists || !info.Complete():
			missing = append(missing, e.Key)
		case e.Kind == cube.KindMUC:
			incoming := &store.Info{Date: e.Date, ChallengeLevel: uint32(e.Challenge)}
			if mucAdvertisementWins(info, incoming) {
				missing = append(missing, e.Key)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return p.send(ctx, encodeCubeRequest(missing), false)
}

// mucAdvertisementWins reports whether an advertised MUC update (known only
// by date/challenge, not yet fetched) would beat the stored one, using the
// same later-date rule as the stored contest.
func mucAdvertisementWins(stored, advertised *store.Info) bool {
	return advertised.Date > stored.Date
}

func (p *SyncPeer) handleCubeRequest(ctx context.Context, cr CubeRequest) error {
	bodies := make([][cube.CubeSize]byte, 0, len(cr.Keys))
	for _, key := range cr.Keys {
		raw, ok := p.store.GetRaw(key)
		if !ok {
			continue // unknown keys are dropped silently
		}
		var body [cube.CubeSize]byte
		copy(body[:], raw)
		bodies = append(bodies, body)
	}
	if len(bodies) == 0 {
		return nil
	}
	return p.send(ctx, encodeCubeResponse(bodies), false)
}

func (p *SyncPeer) handleCubeResponse(ctx context.Context, cr CubeResponse) error {
	for _, body := range cr.Bodies {
		key, err := p.store.Add(ctx, body[:])
		if err != nil {
			p.logger.Warn("rejected cube from peer", "peer", p.RemoteAddr(), "err", err)
			continue // errors are per-cube; keep processing the rest
		}
		p.mu.Lock()
		p.pendingRequested.Remove(key)
		p.mu.Unlock()
	}
	return nil
}

func (p *SyncPeer) handleNodeRequest(ctx context.Context) error {
	p.mu.Lock()
	provider := p.addrProvider
	p.mu.Unlock()

	var addrs []string
	if provider != nil {
		addrs = provider(nodeExchangeFanout)
	}
	return p.send(ctx, encodeNodeResponse(addrs), false)
}

func (p *SyncPeer) handleNodeResponse(nr NodeResponse) error {
	// Learning and dialing new peers is a SyncManager responsibility;
	// SyncPeer only forwards the addresses, unchecked, via its events
	// channel rather than acting on them itself.
	if len(nr.Addrs) == 0 {
		return nil
	}
	p.publish(PeerEvent{Kind: PeerEventNodesLearned, Peer: p, Addrs: nr.Addrs})
	return nil
}

// RequestHashes sends an outgoing HASH_REQUEST; called by the peer's own
// periodic timer for full nodes only.
func (p *SyncPeer) RequestHashes(ctx context.Context) error {
	return p.send(ctx, encodeHashRequest(), false)
}

// RequestNodes sends an outgoing NODE_REQUEST.
func (p *SyncPeer) RequestNodes(ctx context.Context) error {
	return p.send(ctx, encodeNodeRequest(), false)
}

// SendNodeResponse lets a SyncManager answer a NODE_REQUEST with its own
// sampled address book.
func (p *SyncPeer) SendNodeResponse(ctx context.Context, addrs []string) error {
	return p.send(ctx, encodeNodeResponse(addrs), false)
}

func (p *SyncPeer) timerLoop(ctx context.Context) {
	var hashTicker *time.Ticker
	if !p.light {
		hashTicker = time.NewTicker(p.cfg.HashRequestPeriod)
		defer hashTicker.Stop()
	}
	nodeTicker := time.NewTicker(p.cfg.NodeRequestPeriod)
	defer nodeTicker.Stop()

	var hashC <-chan time.Time
	if hashTicker != nil {
		hashC = hashTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hashC:
			_ = p.RequestHashes(ctx)
		case <-nodeTicker.C:
			_ = p.RequestNodes(ctx)
		}
	}
}

func (p *SyncPeer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.outbox:
			if _, err := p.conn.Write(frame.bytes); err != nil {
				p.logger.Warn("write failed, closing peer", "peer", p.RemoteAddr(), "err", err)
				p.closeWith(PeerEventClosed)
				return
			}
		}
	}
}

// send queues bytes for the writer goroutine. Advertisement traffic
// (drop=true) is dropped under backpressure rather than blocking; cube
// responses and protocol control messages always block until there is
// room.
func (p *SyncPeer) send(ctx context.Context, bytes []byte, drop bool) error {
	frame := outboundFrame{bytes: bytes, drop: drop}
	if drop {
		select {
		case p.outbox <- frame:
		default:
			p.logger.Warn("outbound queue full, dropping advertisement", "peer", p.RemoteAddr())
		}
		return nil
	}
	select {
	case p.outbox <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
