package cube

import "encoding/binary"

// CubeSize is the fixed binary length of every cube.
const CubeSize = 1024

// HeaderLen is the length of the version+date header preceding the TLV
// field sequence.
const HeaderLen = 6

// ProtocolVersion is the only version this codec understands.
const ProtocolVersion = 0

// encodeHeader writes the version nibble and 5-byte big-endian date into
// the first HeaderLen bytes of buf.
func encodeHeader(buf []byte, dateSeconds uint64) {
	buf[0] = ProtocolVersion << 4
	var dateBuf [8]byte
	binary.BigEndian.PutUint64(dateBuf[:], dateSeconds)
	copy(buf[1:6], dateBuf[3:8])
}

// decodeHeader reads the version and 5-byte big-endian date from buf.
func decodeHeader(buf []byte) (version byte, dateSeconds uint64) {
	version = buf[0] >> 4
	var dateBuf [8]byte
	copy(dateBuf[3:8], buf[1:6])
	dateSeconds = binary.BigEndian.Uint64(dateBuf[:])
	return
}

// packFieldHeader serializes a field's TLV header (not its value).
func packFieldHeader(tag FieldType, kindBits byte, valueLen int) []byte {
	if _, implicit := hasImplicitLength(tag); implicit {
		return []byte{byte(tag)<<2 | (kindBits & 0x3)}
	}
	return []byte{
		byte(tag)<<2 | byte((valueLen>>8)&0x3),
		byte(valueLen & 0xFF),
	}
}

// encode serializes header fields plus explicit (non-padding) fields into a
// fresh 1024-byte buffer, auto-padding to fill it exactly. fields must already
// be in final encode order (CUBE_KIND first if present, SIGNATURE last if
// present). If they include no padding field, encode synthesizes one; if
// they include one, it must already make the fields fill the cube exactly.
//
// Returns the finished buffer and the full field list (padding included)
// with each field's StartOffset populated, so the caller can slice the
// signed prefix for MUC/IPC signing.
func encode(dateSeconds uint64, fields []field) ([CubeSize]byte, []field, error) {
	var buf [CubeSize]byte
	encodeHeader(buf[:], dateSeconds)

	hasPadding := false
	for _, f := range fields {
		if f.Type == FieldPaddingNonce {
			hasPadding = true
			break
		}
	}

	used := HeaderLen
	for _, f := range fields {
		used += f.totalLen()
	}
	remaining := CubeSize - used
	if remaining < 0 {
		return buf, nil, ErrFieldSize
	}

	if !hasPadding {
		switch {
		case remaining == 1:
			return buf, nil, ErrInsufficientPadding
		case remaining >= 2 && remaining < minPaddingHeaderLen+minPaddingScratchBytes:
			return buf, nil, ErrFieldSize
		}
	}

	// Split fields into "before signature" and the trailing SIGNATURE (if
	// any), so the synthesized padding field can be inserted just before
	// the signature, where a MUC/IPC signer expects it.
	sigIdx := -1
	for i, f := range fields {
		if f.Type == FieldSignature {
			sigIdx = i
			break
		}
	}

	ordered := make([]field, 0, len(fields)+1)
	if sigIdx >= 0 {
		ordered = append(ordered, fields[:sigIdx]...)
	} else {
		ordered = append(ordered, fields...)
	}
	if !hasPadding && remaining > 0 {
		padValueLen := remaining - minPaddingHeaderLen
		ordered = append(ordered, field{Type: FieldPaddingNonce, Value: make([]byte, padValueLen)})
	}
	if sigIdx >= 0 {
		ordered = append(ordered, fields[sigIdx])
	}

	offset := HeaderLen
	for i := range ordered {
		ordered[i].StartOffset = offset
		hdr := packFieldHeader(ordered[i].Type, ordered[i].Kind, len(ordered[i].Value))
		copy(buf[offset:], hdr)
		offset += len(hdr)
		copy(buf[offset:], ordered[i].Value)
		offset += len(ordered[i].Value)
	}
	if offset != CubeSize {
		// Should be unreachable given the arithmetic above; treated as a
		// field-fit failure rather than a panic.
		return buf, nil, ErrFieldSize
	}
	return buf, ordered, nil
}

// decode parses a 1024-byte cube body into its header and field sequence.
func decode(buf []byte) (dateSeconds uint64, fields []field, err error) {
	if len(buf) != CubeSize {
		return 0, nil, ErrBadLength
	}
	_, dateSeconds = decodeHeader(buf)

	offset := HeaderLen
	for offset < CubeSize {
		tag := FieldType(buf[offset] >> 2)
		kindBits := buf[offset] & 0x3

		if reservedUnimplemented[tag] {
			return 0, nil, ErrUnknownFieldType
		}

		implicitLen, isImplicit := hasImplicitLength(tag)
		start := offset

		var value []byte
		if isImplicit {
			offset++
			if tag == FieldCubeKind {
				fields = append(fields, field{Type: tag, Kind: kindBits, StartOffset: start})
				continue
			}
			if offset+implicitLen > CubeSize {
				return 0, nil, ErrFieldOverrun
			}
			value = buf[offset : offset+implicitLen]
			offset += implicitLen
		} else {
			if tag != FieldPaddingNonce && tag != FieldPayload {
				return 0, nil, ErrUnknownFieldType
			}
			if offset+2 > CubeSize {
				return 0, nil, ErrFieldOverrun
			}
			length := int(kindBits)<<8 | int(buf[offset+1])
			offset += 2
			if offset+length > CubeSize {
				return 0, nil, ErrFieldOverrun
			}
			value = buf[offset : offset+length]
			offset += length
		}
		fields = append(fields, field{Type: tag, Value: value, StartOffset: start})
	}

	if offset != CubeSize {
		return 0, nil, ErrIncompleteTiling
	}
	return dateSeconds, fields, nil
}
