// Package annotation implements a reverse-relationship index over the
// CubeStore and the recursive displayability predicate built on top of it.
package annotation

import (
	"github.com/luxfi/log"

	"github.com/EliasOenal/verity-sub000/cube"
	"github.com/EliasOenal/verity-sub000/internal/metrics"
	"github.com/EliasOenal/verity-sub000/internal/set"
	"github.com/EliasOenal/verity-sub000/store"
)

// InfoStore is the subset of *store.CubeStore the engine needs. It is
// declared here, consumer-side, so annotation depends on store but not the
// reverse.
type InfoStore interface {
	EnsureInfo(key store.Key) *store.Info
	GetInfo(key store.Key) (*store.Info, bool)
	AddReverseRelationship(key store.Key, relType cube.RelationshipType, sourceKey store.Key)
}

// EventKind distinguishes the engine's public events.
type EventKind int

const (
	EventCubeDisplayable EventKind = iota
)

// Event is a single displayability notification.
type Event struct {
	Kind EventKind
	Key  store.Key
}

const eventBufferSize = 256

// Engine maintains the reverse-relationship graph and computes
// displayability, parameterized by the RELATES_TO types that gate it —
// the engine does not hard-code which types gate displayability.
type Engine struct {
	infos       InfoStore
	policyTypes set.Set[cube.RelationshipType]
	logger      log.Logger
	metrics     *metrics.Registry
	events      chan Event
}

// defaultPolicyType is the relationship type that gates displayability when
// the caller requests none explicitly: REPLY_TO, the most common gating
// relationship in practice.
const defaultPolicyType = cube.RelationshipReplyTo

// NewEngine constructs an Engine over infos, gated by policyTypes. With no
// policyTypes given, REPLY_TO is used.
func NewEngine(infos InfoStore, logger log.Logger, reg *metrics.Registry, policyTypes ...cube.RelationshipType) *Engine {
	if len(policyTypes) == 0 {
		policyTypes = []cube.RelationshipType{defaultPolicyType}
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if reg == nil {
		reg = metrics.NewNoOpRegistry()
	}
	return &Engine{
		infos:       infos,
		policyTypes: set.Of(policyTypes...),
		logger:      logger,
		metrics:     reg,
		events:      make(chan Event, eventBufferSize),
	}
}

// Events returns the channel the engine publishes cubeDisplayable on.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// IndexCube implements store.RelationshipIndexer. It is the entry point
// CubeStore drives on every successful add: index the reverse edges, then
// propagate displayability from the newly added cube outward.
func (e *Engine) IndexCube(key store.Key, relationships []cube.Relationship) error {
	for _, r := range relationships {
		e.infos.AddReverseRelationship(r.RemoteKey, r.Type, key)
	}

	visited := set.Of[store.Key]()
	e.propagate(key, visited)
	return nil
}

// propagate re-evaluates key's displayability and, if it newly became
// displayable, recurses into every reverse policy-type edge pointing at it.
// visited bounds recursion across cycles.
func (e *Engine) propagate(key store.Key, visited set.Set[store.Key]) {
	if visited.Contains(key) {
		return
	}
	visited.Add(key)

	if !e.Displayable(key) {
		return
	}

	e.metrics.CubesDisplayable.Inc()
	e.publish(Event{Kind: EventCubeDisplayable, Key: key})

	info, ok := e.infos.GetInfo(key)
	if !ok {
		return
	}
	for _, rr := range info.ReverseRelationships {
		if !e.policyTypes.Contains(rr.Type) {
			continue
		}
		e.propagate(rr.SourceKey, visited)
	}
}

// Displayable is a pure predicate, cached nowhere, that recurses through
// policy-type RELATES_TO edges using its own cycle-safe visited set.
func (e *Engine) Displayable(key store.Key) bool {
	return e.displayable(key, set.Of[store.Key]())
}

func (e *Engine) displayable(key store.Key, visited set.Set[store.Key]) bool {
	if visited.Contains(key) {
		// A cycle through policy-type edges can never independently ground
		// out; treat it as not (yet) displayable rather than looping.
		return false
	}
	visited.Add(key)

	info, ok := e.infos.GetInfo(key)
	if !ok || !info.Complete() {
		return false
	}

	for _, r := range info.Relationships {
		if !e.policyTypes.Contains(r.Type) {
			continue
		}
		if !e.displayable(r.RemoteKey, visited) {
			return false
		}
	}
	return true
}

func (e *Engine) publish(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("annotation event channel full, dropping event delivery", "key", store.HexKey(ev.Key))
	}
}
