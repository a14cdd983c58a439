package cube

// RelationshipType is the single byte preceding a RELATES_TO field's remote
// key. The core attaches no policy to a type beyond storing forward and
// reverse edges; AnnotationEngine is the only consumer that
// treats one type (REPLY_TO) specially, and only because it is configured
// to.
type RelationshipType byte

const (
	RelationshipContinuedIn RelationshipType = iota
	RelationshipMention
	RelationshipReplyTo
	RelationshipQuotation
	RelationshipOwns
)

// KeySize is the length in bytes of a cube key.
const KeySize = 32

// Relationship is a forward edge extracted from a RELATES_TO field: this
// cube relates, via Type, to the cube identified by RemoteKey.
type Relationship struct {
	Type      RelationshipType
	RemoteKey [KeySize]byte
}

func encodeRelatesTo(r Relationship) []byte {
	v := make([]byte, 33)
	v[0] = byte(r.Type)
	copy(v[1:], r.RemoteKey[:])
	return v
}

func decodeRelatesTo(value []byte) Relationship {
	var r Relationship
	r.Type = RelationshipType(value[0])
	copy(r.RemoteKey[:], value[1:33])
	return r
}
