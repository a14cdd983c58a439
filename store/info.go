// Package store implements the CubeStore: a content-addressed, in-memory
// registry of cubes backed by a durable key-value log, with mutable-cube
// contest resolution and lifecycle events.
package store

import (
	"encoding/hex"

	"github.com/EliasOenal/verity-sub000/cube"
)

// Key is a 32-byte cube identifier.
type Key = [cube.KeySize]byte

// HexKey returns the 64-character lowercase hex encoding the persistence
// layer uses as its key: raw-byte identity comparison is idiomatic in Go,
// but content-addressed keys are stored as hex strings on disk.
func HexKey(k Key) string {
	return hex.EncodeToString(k[:])
}

// Info is the per-key metadata record the store and the annotation engine
// share: one merged structure rather than separate legacy/evolving variants.
//
// Info is append-only with respect to ReverseRelationships; once Binary is
// set it is immutable — a MUC replacement constructs a fresh Info rather
// than mutating Binary in place.
type Info struct {
	Key Key
	// Binary is the cube body, or nil if this key is only known from a
	// RELATES_TO edge pointing to it ("heard of but do not have").
	Binary []byte
	Kind   cube.Kind
	Date   uint64
	// ChallengeLevel is the trailing-zero-bit count of the cube's hash,
	// used by the IPC expiration function.
	ChallengeLevel uint32

	// Relationships holds this cube's own forward RELATES_TO edges, cached
	// off the parsed Cube so the annotation engine can walk them without
	// re-parsing Binary.
	Relationships []cube.Relationship

	// ReverseRelationships holds (type, key-of-cube-pointing-here) pairs
	// learned from other cubes' RELATES_TO fields.
	ReverseRelationships []ReverseRelationship

	// Dynamic property attachment on decoded cubes is deliberately not
	// supported here — it is a layering violation. Collaborators keyed by
	// cube key should maintain their own side tables rather than attaching
	// opaque state to Info.
}

// ReverseRelationship records that SourceKey points to this Info's cube via
// a RELATES_TO field of the given Type.
type ReverseRelationship struct {
	Type      cube.RelationshipType
	SourceKey Key
}

// Complete reports whether this Info's binary is present, i.e. whether the
// cube itself (not just a reference to it) has been received.
func (i *Info) Complete() bool {
	return i != nil && i.Binary != nil
}

// hasReverseRelationship reports whether (relType, sourceKey) is already
// recorded, making AnnotationEngine's reverse-indexing idempotent. This is
// a strict conjunction on both fields: type and source key must both
// match, not just one.
func (i *Info) hasReverseRelationship(relType cube.RelationshipType, sourceKey Key) bool {
	for _, rr := range i.ReverseRelationships {
		if rr.Type == relType && rr.SourceKey == sourceKey {
			return true
		}
	}
	return false
}

// addReverseRelationship inserts (relType, sourceKey) if not already
// present, preserving the append-only invariant.
func (i *Info) addReverseRelationship(relType cube.RelationshipType, sourceKey Key) {
	if i.hasReverseRelationship(relType, sourceKey) {
		return
	}
	i.ReverseRelationships = append(i.ReverseRelationships, ReverseRelationship{Type: relType, SourceKey: sourceKey})
}
