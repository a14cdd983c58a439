package store

import (
	"context"
	"sync"

	"github.com/luxfi/log"

	"github.com/EliasOenal/verity-sub000/cube"
	"github.com/EliasOenal/verity-sub000/internal/errutil"
	"github.com/EliasOenal/verity-sub000/internal/metrics"
)

// Persistence is the durable key-value log CubeStore replays on open and
// fire-and-forgets writes to. Implemented by package persistence; declared
// here, consumer-side, to avoid an import cycle.
type Persistence interface {
	Open(ctx context.Context) error
	Put(ctx context.Context, hexKey string, data []byte) error
	Iter(ctx context.Context) (<-chan []byte, error)
}

// RelationshipIndexer is the subset of AnnotationEngine that CubeStore
// drives on every successful add. Implemented by package annotation;
// declared here to avoid an import cycle (annotation depends on store, not
// the reverse).
type RelationshipIndexer interface {
	IndexCube(key Key, relationships []cube.Relationship) error
}

// EventKind distinguishes CubeStore's public events.
type EventKind int

const (
	EventCubeAdded EventKind = iota
)

// Event is a single lifecycle notification.
type Event struct {
	Kind EventKind
	Key  Key
}

// eventBufferSize bounds the internal event channel. Add never blocks on
// it: when the buffer is full the cubeAdded event is dropped with a
// warning, while the cube itself stays stored.
const eventBufferSize = 256

// CubeStore is the in-memory content-addressed registry. Its map is the
// single writer domain: all mutation happens under mu, and readers see a
// consistent snapshot at each public call but must not assume stability
// across awaits.
type CubeStore struct {
	mu         sync.RWMutex
	infos      map[Key]*Info
	difficulty uint32

	persistence Persistence
	indexer     RelationshipIndexer
	logger      log.Logger
	metrics     *metrics.Registry

	events chan Event
}

// New constructs a CubeStore. persistence may be nil to run purely
// in-memory.
func New(difficulty uint32, persistence Persistence, logger log.Logger, reg *metrics.Registry) *CubeStore {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if reg == nil {
		reg = metrics.NewNoOpRegistry()
	}
	return &CubeStore{
		infos:       make(map[Key]*Info),
		difficulty:  difficulty,
		persistence: persistence,
		logger:      logger,
		metrics:     reg,
		events:      make(chan Event, eventBufferSize),
	}
}

// SetIndexer wires the AnnotationEngine that receives reverse-relationship
// updates. Must be called before Add is used if relationship tracking is
// wanted; a nil indexer means Add skips step 6 entirely.
func (s *CubeStore) SetIndexer(indexer RelationshipIndexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexer = indexer
}

// Events returns the channel CubeStore publishes cubeAdded on.
func (s *CubeStore) Events() <-chan Event {
	return s.events
}

// Open replays the persistence layer into the store, then re-writes the
// union of in-memory cubes back out — idempotent, since every replayed
// cube has already been through Add's conflict-resolution rules and only
// the winners are written.
func (s *CubeStore) Open(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	if err := s.persistence.Open(ctx); err != nil {
		return err
	}
	stream, err := s.persistence.Iter(ctx)
	if err != nil {
		return err
	}
	var replayErrs errutil.Errs
	for raw := range stream {
		if _, err := s.Add(ctx, raw); err != nil {
			replayErrs.Add(err)
		}
	}
	for _, info := range s.AllCompleteInfos() {
		if err := s.persistence.Put(ctx, HexKey(info.Key), info.Binary); err != nil {
			replayErrs.Add(err)
		}
	}
	if replayErrs.Errored() {
		s.logger.Warn("open encountered errors replaying persisted cubes",
			"count", replayErrs.Count(), "err", replayErrs.Err())
	}
	return nil
}

// Add parses raw cube bytes and stores them, implementing the full add-path.
// It never returns an error for a cube that is simply a duplicate or loses
// a contest — only for a structurally invalid cube.
func (s *CubeStore) Add(ctx context.Context, raw []byte) (Key, error) {
	c, err := cube.Parse(raw, s.difficulty)
	if err != nil {
		s.metrics.CubesRejected.WithLabelValues(err.Error()).Inc()
		return Key{}, err
	}
	return s.AddCube(ctx, c)
}

// AddCube stores an already-parsed cube, skipping re-validation. Useful
// when a caller (e.g. the builder, or a test) minted the cube itself.
func (s *CubeStore) AddCube(ctx context.Context, c *cube.Cube) (Key, error) {
	key := c.Key

	s.mu.Lock()
	existing, exists := s.infos[key]
	var stored bool
	if exists && existing.Complete() {
		switch c.Kind {
		case cube.KindMUC:
			incoming := infoFromCube(key, c)
			if !mucContestWinnerIsIncoming(existing, incoming) {
				s.mu.Unlock()
				return key, nil // stored wins; duplicate/loser silently ignored
			}
			incoming.ReverseRelationships = existing.ReverseRelationships
			s.infos[key] = incoming
			stored = true
		case cube.KindIPC:
			incoming := infoFromCube(key, c)
			if !ipcContestWinnerIsIncoming(existing, incoming) {
				s.mu.Unlock()
				return key, nil
			}
			incoming.ReverseRelationships = existing.ReverseRelationships
			s.infos[key] = incoming
			stored = true
		default: // frozen
			s.mu.Unlock()
			return key, nil
		}
	} else {
		info := infoFromCube(key, c)
		if exists {
			// A placeholder created by the annotation engine from an
			// incoming relationship: the new Info replaces it and carries
			// over its already-recorded reverse edges.
			info.ReverseRelationships = existing.ReverseRelationships
		}
		s.infos[key] = info
		stored = true
	}
	indexer := s.indexer
	s.mu.Unlock()

	if !stored {
		return key, nil
	}

	if indexer != nil {
		if err := indexer.IndexCube(key, c.Relationships); err != nil {
			s.logger.Warn("annotation indexing failed", "err", err)
		}
	}

	if s.persistence != nil {
		go func() {
			if err := s.persistence.Put(ctx, HexKey(key), c.Binary[:]); err != nil {
				s.logger.Error("persistence write failed", "err", err)
			}
		}()
	}

	s.metrics.CubesAdded.Inc()
	s.publish(Event{Kind: EventCubeAdded, Key: key})
	return key, nil
}

func infoFromCube(key Key, c *cube.Cube) *Info {
	return &Info{
		Key:                  key,
		Binary:               append([]byte(nil), c.Binary[:]...),
		Kind:                 c.Kind,
		Date:                 c.Date,
		ChallengeLevel:       c.ChallengeLevel,
		Relationships:        c.Relationships,
		ReverseRelationships: nil,
	}
}

func (s *CubeStore) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("cube store event channel full, dropping event delivery", "key", HexKey(ev.Key))
	}
}

// Has reports whether key is known at all, complete or not.
func (s *CubeStore) Has(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.infos[key]
	return ok
}

// Get re-parses and returns the typed Cube for key. Prefer GetRaw for
// read-only access to the bytes: rebuilding a typed object on every get is
// wasteful, so this method exists only for callers that actually need the
// parsed view (e.g. re-validating a signature).
func (s *CubeStore) Get(key Key) (*cube.Cube, bool) {
	raw, ok := s.GetRaw(key)
	if !ok {
		return nil, false
	}
	c, err := cube.Parse(raw, 0) // already validated at add-time
	if err != nil {
		return nil, false
	}
	return c, true
}

// GetRaw returns the stored cube's binary, or ok=false if unknown or
// incomplete.
func (s *CubeStore) GetRaw(key Key) (raw []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, exists := s.infos[key]
	if !exists || !info.Complete() {
		return nil, false
	}
	return info.Binary, true
}

// GetInfo returns the CubeInfo for key, complete or not.
func (s *CubeStore) GetInfo(key Key) (*Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.infos[key]
	return info, ok
}

// AllCompleteKeys returns the keys of every complete cube currently held.
func (s *CubeStore) AllCompleteKeys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.infos))
	for k, info := range s.infos {
		if info.Complete() {
			keys = append(keys, k)
		}
	}
	return keys
}

// AllCompleteInfos returns every complete Info currently held.
func (s *CubeStore) AllCompleteInfos() []*Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]*Info, 0, len(s.infos))
	for _, info := range s.infos {
		if info.Complete() {
			infos = append(infos, info)
		}
	}
	return infos
}

// Count returns the number of keys known, complete or not.
func (s *CubeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.infos)
}

// EnsureInfo implements annotation.InfoStore: it returns the existing Info
// for key, or creates and stores an incomplete placeholder.
func (s *CubeStore) EnsureInfo(key Key) *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.infos[key]; ok {
		return info
	}
	info := &Info{Key: key}
	s.infos[key] = info
	return info
}

// AddReverseRelationship implements annotation.InfoStore: it records that
// sourceKey points at key via relType, creating a placeholder Info for key
// if this is the first time it has been referenced.
func (s *CubeStore) AddReverseRelationship(key Key, relType cube.RelationshipType, sourceKey Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[key]
	if !ok {
		info = &Info{Key: key}
		s.infos[key] = info
	}
	info.addReverseRelationship(relType, sourceKey)
}
