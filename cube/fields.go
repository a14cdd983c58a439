package cube

// FieldType is a 6-bit TLV tag. Valid tags occupy bits [0,63]; this repo
// defines 0..8.
type FieldType byte

const (
	// FieldPaddingNonce holds mining scratch space: the hashcash nonce plus
	// whatever filler is needed to tile the cube exactly. Length is
	// explicit (2-byte header) because it varies per cube.
	FieldPaddingNonce FieldType = 0
	// FieldPayload holds opaque application bytes. Length is explicit.
	FieldPayload FieldType = 1
	// FieldRelatesTo holds a (type byte, 32-byte remote key) relationship
	// edge. Its length is always 33 and implicit (1-byte header).
	FieldRelatesTo FieldType = 2
	// FieldReservedCrypto3, FieldReservedCrypto4, FieldReservedCrypto5 are
	// reserved for future crypto fields. They are not implemented: decode
	// fails on sight.
	FieldReservedCrypto3 FieldType = 3
	FieldReservedCrypto4 FieldType = 4
	FieldReservedCrypto5 FieldType = 5
	// FieldSignature holds an 8-byte fingerprint plus a 64-byte Ed25519
	// signature. Must be the final field of a signed cube, implicit length
	// 72, 1-byte header.
	FieldSignature FieldType = 6
	// FieldCubeKind has no value bytes: its 1-byte header packs the kind
	// selector into the two bits the tag does not use. Must be first field
	// when present.
	FieldCubeKind FieldType = 7
	// FieldPublicKey holds a 32-byte Ed25519 public key. Implicit length
	// 32, 1-byte header. Required whenever SIGNATURE is present.
	FieldPublicKey FieldType = 8
)

// implicitLengths maps a tag to its fixed value length when the TLV grammar
// defines one. Tags absent from this map (PADDING_NONCE, PAYLOAD) carry
// their length explicitly in a 2-byte header instead.
var implicitLengths = map[FieldType]int{
	FieldRelatesTo:   33,
	FieldSignature:   72,
	FieldCubeKind:    0,
	FieldPublicKey:   32,
}

// reservedUnimplemented marks tags that are structurally defined but not
// implemented: any sighting during decode is fatal for that cube.
var reservedUnimplemented = map[FieldType]bool{
	FieldReservedCrypto3: true,
	FieldReservedCrypto4: true,
	FieldReservedCrypto5: true,
}

// maxFieldType is the highest tag value the 6-bit field admits.
const maxFieldType = 63

// hasImplicitLength reports whether tag carries a table-defined fixed
// length, meaning its header is a single byte.
func hasImplicitLength(tag FieldType) (length int, ok bool) {
	length, ok = implicitLengths[tag]
	return
}

// fieldHeaderLen is the single source of truth for TLV header size: 1 byte
// for tags with an implicit length, 2 bytes for tags whose length must be
// declared explicitly.
func fieldHeaderLen(tag FieldType) int {
	if _, ok := hasImplicitLength(tag); ok {
		return 1
	}
	return 2
}

// minPaddingHeaderLen is the header size of the smallest possible padding
// field — used by the encoder's edge-case checks in codec.go.
const minPaddingHeaderLen = 2

// minPaddingScratchBytes is the minimum value size a PADDING_NONCE field
// must reserve to hold a 32-bit hashcash counter.
const minPaddingScratchBytes = 4

// field is a decoded or pending-to-encode TLV field together with the byte
// offset (within the 1024-byte cube) at which its header begins. Decoders
// record StartOffset so signature validation can slice the correct prefix.
type field struct {
	Type        FieldType
	Kind        byte // only meaningful for FieldCubeKind: the packed 2-bit selector
	Value       []byte
	StartOffset int
}

// totalLen returns the number of bytes this field occupies on the wire,
// header included.
func (f field) totalLen() int {
	if f.Type == FieldCubeKind {
		return 1
	}
	return fieldHeaderLen(f.Type) + len(f.Value)
}
