package cube

import "errors"

// Cube validation errors. These are local to the add-path: a failure here
// fails that one cube and is never fatal to the process.
var (
	// ErrBadLength is returned when a binary cube is not exactly CubeSize
	// bytes.
	ErrBadLength = errors.New("cube: binary length is not 1024 bytes")
	// ErrUnknownFieldType is returned when decode encounters a tag with no
	// entry in the TLV grammar, or one of the reserved-but-unimplemented
	// crypto tags (3..5).
	ErrUnknownFieldType = errors.New("cube: unknown or unimplemented field type")
	// ErrFieldOverrun is returned when a field's declared length would read
	// past the end of the buffer.
	ErrFieldOverrun = errors.New("cube: field length overruns buffer")
	// ErrIncompleteTiling is returned when the parsed fields do not exactly
	// cover bytes 6..1023 with no gap and no overlap.
	ErrIncompleteTiling = errors.New("cube: fields do not exactly tile the cube body")
	// ErrFieldSize is returned by encode when the declared fields plus an
	// implied minimum PADDING_NONCE cannot fit in the cube.
	ErrFieldSize = errors.New("cube: fields do not fit with minimum padding")
	// ErrInsufficientPadding is returned by encode when exactly one byte of
	// capacity remains — too little even for a padding field's header.
	ErrInsufficientPadding = errors.New("cube: one byte short, cannot be rescued by padding")
	// ErrWrongFieldType is returned when a field is present with a type
	// that violates a structural rule for the cube's kind (e.g. a
	// CUBE_KIND field that is not the first field).
	ErrWrongFieldType = errors.New("cube: field present out of the kind's required position")
	// ErrInsufficientDifficulty is returned when a cube's hash does not
	// meet the configured difficulty target.
	ErrInsufficientDifficulty = errors.New("cube: hash does not meet difficulty target")
	// ErrBadSignature is returned when a signed cube's Ed25519 signature
	// does not verify.
	ErrBadSignature = errors.New("cube: signature does not verify")
	// ErrBadFingerprint is returned when a signed cube's embedded
	// fingerprint does not match hash(public key).
	ErrBadFingerprint = errors.New("cube: fingerprint does not match public key")
	// ErrMissingRequiredField is returned when a signed kind is missing
	// PUBLIC_KEY or SIGNATURE.
	ErrMissingRequiredField = errors.New("cube: missing a field required by this cube kind")
	// ErrUnsupportedKind is returned by Parse when a CUBE_KIND field carries
	// a selector other than MUC or IPC.
	ErrUnsupportedKind = errors.New("cube: unsupported cube kind")
)
