package cube

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip verifies a frozen cube with a 10-byte
// PAYLOAD "Hello, wor" at difficulty 0.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	fields := []field{
		{Type: FieldPayload, Value: []byte("Hello, wor")},
	}
	buf, ordered, err := encode(12345, fields)
	require.NoError(t, err)

	dateSeconds, decoded, err := decode(buf[:])
	require.NoError(t, err)
	require.Equal(t, uint64(12345), dateSeconds)
	require.Len(t, decoded, 2) // PAYLOAD + auto PADDING_NONCE

	require.Equal(t, FieldPayload, decoded[0].Type)
	require.Equal(t, []byte("Hello, wor"), decoded[0].Value)
	require.Equal(t, FieldPaddingNonce, decoded[1].Type)

	// header(6) + payload(2+10) + padding(2+1004) == 1024, and
	// field-header-plus-value bytes beyond the header equal 1018.
	total := 0
	for _, f := range ordered {
		total += f.totalLen()
	}
	require.Equal(t, 1018, total)
}

func TestEncodeRejectsBadLength(t *testing.T) {
	_, _, err := decode(make([]byte, 100))
	require.ErrorIs(t, err, ErrBadLength)
}

func TestDecodeUnknownFieldType(t *testing.T) {
	buf := make([]byte, CubeSize)
	// Tag 40 has no table entry.
	buf[HeaderLen] = 40 << 2
	_, _, err := decode(buf)
	require.ErrorIs(t, err, ErrUnknownFieldType)
}

func TestDecodeReservedCryptoFieldFails(t *testing.T) {
	buf := make([]byte, CubeSize)
	buf[HeaderLen] = byte(FieldReservedCrypto3) << 2
	_, _, err := decode(buf)
	require.ErrorIs(t, err, ErrUnknownFieldType)
}

func TestDecodeFieldOverrun(t *testing.T) {
	buf := make([]byte, CubeSize)
	// PAYLOAD with a declared length larger than the remaining buffer.
	buf[HeaderLen] = byte(FieldPayload)<<2 | 0x03
	buf[HeaderLen+1] = 0xFF
	_, _, err := decode(buf)
	require.ErrorIs(t, err, ErrFieldOverrun)
}

func TestEncodeInsufficientPaddingOneByteShort(t *testing.T) {
	// Craft a PAYLOAD whose length leaves exactly 1 byte of capacity.
	used := HeaderLen + fieldHeaderLen(FieldPayload)
	remainingTarget := 1
	payloadLen := CubeSize - used - remainingTarget
	fields := []field{{Type: FieldPayload, Value: make([]byte, payloadLen)}}
	_, _, err := encode(0, fields)
	require.ErrorIs(t, err, ErrInsufficientPadding)
}

func TestEncodeFieldSizeWhenPaddingCannotHoldScratch(t *testing.T) {
	used := HeaderLen + fieldHeaderLen(FieldPayload)
	remainingTarget := 4 // fits a 2-byte header but <4-byte scratch
	payloadLen := CubeSize - used - remainingTarget
	fields := []field{{Type: FieldPayload, Value: make([]byte, payloadLen)}}
	_, _, err := encode(0, fields)
	require.ErrorIs(t, err, ErrFieldSize)
}

func TestEncodeExactFitNeedsNoPadding(t *testing.T) {
	used := HeaderLen + fieldHeaderLen(FieldPayload)
	payloadLen := CubeSize - used
	fields := []field{{Type: FieldPayload, Value: make([]byte, payloadLen)}}
	buf, ordered, err := encode(0, fields)
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	_, decoded, err := decode(buf[:])
	require.NoError(t, err)
	require.Len(t, decoded, 1)
}

func TestRelatesToRoundTrip(t *testing.T) {
	var remote [32]byte
	remote[0] = 0xAB
	r := Relationship{Type: RelationshipReplyTo, RemoteKey: remote}
	value := encodeRelatesTo(r)
	require.Len(t, value, 33)
	got := decodeRelatesTo(value)
	require.Equal(t, r, got)
}
