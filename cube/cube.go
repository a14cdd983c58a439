// Package cube implements the 1024-byte TLV binary format, its integrity
// rules, and the typed builder/parser that layers cube-kind semantics on
// top of it.
package cube

import (
	"context"
	"crypto/ed25519"

	"github.com/EliasOenal/verity-sub000/cubecrypto"
	"github.com/EliasOenal/verity-sub000/hashcash"
)

// Cube is a fully parsed, validated, self-authenticating 1024-byte record.
// Once constructed (by Freeze or Parse) it is immutable. Rebuilding a typed
// Cube from its binary on every read is wasted work: callers that only
// need bytes should keep Binary around instead of re-parsing.
type Cube struct {
	Kind   Kind
	Binary [CubeSize]byte
	Hash   [32]byte
	Key    [KeySize]byte
	Date   uint64
	// ChallengeLevel is the trailing-zero-bit count the cube's hash
	// actually achieves, used by the IPC lifetime function.
	ChallengeLevel uint32

	PublicKey     ed25519.PublicKey
	Relationships []Relationship

	fields []field
}

// Payload returns the cube's PAYLOAD field value, or nil if absent.
func (c *Cube) Payload() []byte {
	for _, f := range c.fields {
		if f.Type == FieldPayload {
			return f.Value
		}
	}
	return nil
}

// Builder assembles a Cube's fields prior to finalization (freezing).
type Builder struct {
	kind          Kind
	payload       []byte
	relationships []Relationship
	publicKey     ed25519.PublicKey
	privateKey    ed25519.PrivateKey
	date          uint64
	explicitPad   int // >0 overrides auto-padding with a fixed-size PADDING_NONCE
	workers       int
}

// NewBuilder returns an empty builder for a frozen cube. Call SetKind to
// build a MUC or IPC instead.
func NewBuilder() *Builder {
	return &Builder{kind: KindFrozen}
}

// SetKind selects the cube variant to build.
func (b *Builder) SetKind(k Kind) *Builder {
	b.kind = k
	return b
}

// SetDate sets the minting timestamp, in whole seconds.
func (b *Builder) SetDate(seconds uint64) *Builder {
	b.date = seconds
	return b
}

// SetPayload sets the opaque PAYLOAD field.
func (b *Builder) SetPayload(p []byte) *Builder {
	b.payload = p
	return b
}

// AddRelationship appends a RELATES_TO field.
func (b *Builder) AddRelationship(r Relationship) *Builder {
	b.relationships = append(b.relationships, r)
	return b
}

// SetKeys sets the Ed25519 key pair for MUC/IPC signing.
func (b *Builder) SetKeys(pk ed25519.PublicKey, sk ed25519.PrivateKey) *Builder {
	b.publicKey = pk
	b.privateKey = sk
	return b
}

// SetExplicitPaddingSize overrides auto-padding with a fixed-size
// PADDING_NONCE field.
func (b *Builder) SetExplicitPaddingSize(n int) *Builder {
	b.explicitPad = n
	return b
}

// SetWorkers enables a parallel hashcash worker pool of the given size
// during Freeze. 0 or 1 mines single-threaded.
func (b *Builder) SetWorkers(n int) *Builder {
	b.workers = n
	return b
}

func (b *Builder) fieldList() ([]field, error) {
	var fields []field

	if b.kind.IsSigned() {
		selector := selectorMUC
		if b.kind == KindIPC {
			selector = selectorIPC
		}
		fields = append(fields, field{Type: FieldCubeKind, Kind: selector})
		if len(b.publicKey) != cubecrypto.PublicKeySize {
			return nil, ErrMissingRequiredField
		}
		fields = append(fields, field{Type: FieldPublicKey, Value: []byte(b.publicKey)})
	}

	if b.payload != nil {
		fields = append(fields, field{Type: FieldPayload, Value: b.payload})
	}
	for _, r := range b.relationships {
		fields = append(fields, field{Type: FieldRelatesTo, Value: encodeRelatesTo(r)})
	}
	if b.explicitPad > 0 {
		fields = append(fields, field{Type: FieldPaddingNonce, Value: make([]byte, b.explicitPad)})
	}
	if b.kind.IsSigned() {
		fields = append(fields, field{Type: FieldSignature, Value: make([]byte, 72)})
	}
	return fields, nil
}

// Freeze finalizes the cube: it normalizes and serializes the field list,
// then runs the hashcash search until the buffer's hash meets difficulty,
// re-signing on every nonce iteration for MUC/IPC kinds.
func (b *Builder) Freeze(ctx context.Context, difficulty uint32) (*Cube, error) {
	fields, err := b.fieldList()
	if err != nil {
		return nil, err
	}

	buf, ordered, err := encode(b.date, fields)
	if err != nil {
		return nil, err
	}

	var nonceOffset int
	var sigOffset = -1
	for _, f := range ordered {
		switch f.Type {
		case FieldPaddingNonce:
			nonceOffset = f.StartOffset + fieldHeaderLen(FieldPaddingNonce)
		case FieldSignature:
			sigOffset = f.StartOffset
		}
	}

	var resign func([]byte)
	if b.kind.IsSigned() {
		fpOffset := sigOffset + fieldHeaderLen(FieldSignature)
		sigEnd := fpOffset + cubecrypto.FingerprintSize
		fp := cubecrypto.Fingerprint(b.publicKey)
		copy(buf[fpOffset:fpOffset+cubecrypto.FingerprintSize], fp[:])
		sk := b.privateKey
		resign = func(data []byte) {
			sig := cubecrypto.Sign(sk, data[:sigEnd])
			copy(data[sigEnd:sigEnd+cubecrypto.SignatureSize], sig)
		}
	}

	params := hashcash.Params{
		Buffer:      buf[:],
		NonceOffset: nonceOffset,
		Difficulty:  difficulty,
		Resign:      resign,
	}

	var digest [32]byte
	if b.workers > 1 {
		digest, err = hashcash.MineParallel(ctx, params, b.workers)
	} else {
		digest, err = hashcash.Mine(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	c := &Cube{
		Kind:           b.kind,
		Binary:         buf,
		Hash:           digest,
		Date:           b.date,
		ChallengeLevel: cubecrypto.TrailingZeroBits(digest[:]),
		PublicKey:      b.publicKey,
		Relationships:  b.relationships,
		fields:         ordered,
	}
	c.Key = deriveKey(b.kind, digest, b.publicKey)
	return c, nil
}

// deriveKey implements the per-kind key derivation: frozen and IPC cubes
// are addressed by content hash, MUCs by public key.
func deriveKey(k Kind, hash [32]byte, pk ed25519.PublicKey) [KeySize]byte {
	var key [KeySize]byte
	if k.KeyedByPublicKey() {
		copy(key[:], pk)
		return key
	}
	key = hash
	return key
}

// Parse validates a raw 1024-byte cube body and returns the typed Cube,
// running the integrity battery in cheap-rejection order: difficulty
// first, then decoding and field-grammar checks (which locate the
// signature), then the signature itself.
func Parse(binary []byte, difficulty uint32) (*Cube, error) {
	if len(binary) != CubeSize {
		return nil, ErrBadLength
	}

	// Difficulty is checked before the TLV grammar is even parsed: it is
	// the cheapest possible rejection (one hash, no field walk) and is the
	// first line of defense against spam.
	digest := cubecrypto.Hash(binary)
	if cubecrypto.TrailingZeroBits(digest[:]) < difficulty {
		return nil, ErrInsufficientDifficulty
	}

	dateSeconds, fields, err := decode(binary)
	if err != nil {
		return nil, err
	}

	if err := validateFieldGrammar(fields); err != nil {
		return nil, err
	}

	kind, err := classifyKind(fields)
	if err != nil {
		return nil, err
	}

	var pk ed25519.PublicKey
	var relationships []Relationship
	var sigField *field
	for i := range fields {
		f := &fields[i]
		switch f.Type {
		case FieldPublicKey:
			pk = ed25519.PublicKey(append([]byte(nil), f.Value...))
		case FieldRelatesTo:
			relationships = append(relationships, decodeRelatesTo(f.Value))
		case FieldSignature:
			sigField = f
		}
	}

	if kind.IsSigned() {
		if sigField == nil || pk == nil {
			return nil, ErrMissingRequiredField
		}
		fpOffset := sigField.StartOffset + fieldHeaderLen(FieldSignature)
		sigEnd := fpOffset + cubecrypto.FingerprintSize
		wantFP := cubecrypto.Fingerprint(pk)
		gotFP := sigField.Value[:cubecrypto.FingerprintSize]
		if string(wantFP[:]) != string(gotFP) {
			return nil, ErrBadFingerprint
		}
		sig := sigField.Value[cubecrypto.FingerprintSize:]
		if !cubecrypto.Verify(pk, binary[:sigEnd], sig) {
			return nil, ErrBadSignature
		}
	}

	var fixed [CubeSize]byte
	copy(fixed[:], binary)

	c := &Cube{
		Kind:           kind,
		Binary:         fixed,
		Hash:           digest,
		Date:           dateSeconds,
		ChallengeLevel: cubecrypto.TrailingZeroBits(digest[:]),
		PublicKey:      pk,
		Relationships:  relationships,
		fields:         fields,
	}
	c.Key = deriveKey(kind, digest, pk)
	return c, nil
}

// classifyKind determines a cube's Kind from its field list, enforcing that
// CUBE_KIND, when present, is the first field.
func classifyKind(fields []field) (Kind, error) {
	if len(fields) == 0 {
		return KindFrozen, nil
	}
	for i, f := range fields {
		if f.Type != FieldCubeKind {
			continue
		}
		if i != 0 {
			return KindUnknown, ErrWrongFieldType
		}
		switch f.Kind {
		case selectorMUC:
			return KindMUC, nil
		case selectorIPC:
			return KindIPC, nil
		default:
			return KindUnknown, ErrUnsupportedKind
		}
	}
	return KindFrozen, nil
}

// validateFieldGrammar enforces the structural rules that apply whenever a
// SIGNATURE field is present: it must be the final field and PUBLIC_KEY
// must also be present. It says nothing about a signed kind (MUC/IPC) whose
// CUBE_KIND claims a signature that was never actually included — that is
// classifyKind's and Parse's job, checked once the kind is known.
func validateFieldGrammar(fields []field) error {
	sigIdx := -1
	hasPK := false
	for i, f := range fields {
		if f.Type == FieldSignature {
			sigIdx = i
		}
		if f.Type == FieldPublicKey {
			hasPK = true
		}
	}
	if sigIdx == -1 {
		return nil
	}
	if sigIdx != len(fields)-1 {
		return ErrWrongFieldType
	}
	if !hasPK {
		return ErrMissingRequiredField
	}
	return nil
}
