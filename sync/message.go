// Package sync implements the SyncPeer wire protocol and the SyncManager
// connection registry: a per-connection gossip state machine layered over
// a transport-agnostic stream.
package sync

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/EliasOenal/verity-sub000/cube"
	"github.com/EliasOenal/verity-sub000/store"
)

// ProtocolVersion is the single version byte every message carries. Peers
// observing a higher version must log and close.
const ProtocolVersion = 0

// MessageClass identifies a wire message's payload shape.
type MessageClass byte

const (
	ClassHello         MessageClass = 0x00
	ClassHashRequest    MessageClass = 0x01
	ClassHashResponse  MessageClass = 0x02
	ClassCubeRequest   MessageClass = 0x03
	ClassCubeResponse  MessageClass = 0x04
	ClassNodeRequest   MessageClass = 0x06
	ClassNodeResponse  MessageClass = 0x07
)

// MaxCubeHashCount bounds the number of entries any single HASH_RESPONSE,
// CUBE_REQUEST, CUBE_RESPONSE, or NODE_RESPONSE may contribute to a
// decoded message, regardless of what its declared count claims.
const MaxCubeHashCount = 1000

// PeerIDSize is the length of a HELLO message's peer identifier.
const PeerIDSize = 16

var (
	ErrUnsupportedVersion = errors.New("sync: unsupported protocol version")
	ErrUnknownMessageClass = errors.New("sync: unknown message class")
	ErrTruncatedMessage   = errors.New("sync: truncated message")
)

// HashEntry is one record of a HASH_RESPONSE: a kind/challenge/date/key
// tuple describing a cube the sender has without transmitting its body.
type HashEntry struct {
	Kind      cube.Kind
	Challenge uint8
	Date      uint64 // 5-byte big-endian on the wire
	Key       store.Key
}

const hashEntrySize = 1 + 1 + 5 + store.KeySize

// Hello is the 0x00 message: a 16-byte peer identifier.
type Hello struct {
	PeerID [PeerIDSize]byte
}

// HashRequest is the empty 0x01 message.
type HashRequest struct{}

// HashResponse is the 0x02 message.
type HashResponse struct {
	Entries []HashEntry
}

// CubeRequest is the 0x03 message.
type CubeRequest struct {
	Keys []store.Key
}

// CubeResponse is the 0x04 message.
type CubeResponse struct {
	Bodies [][cube.CubeSize]byte
}

// NodeRequest is the empty 0x06 message.
type NodeRequest struct{}

// NodeResponse is the 0x07 message: verified peer addresses as ip:port
// ASCII strings.
type NodeResponse struct {
	Addrs []string
}

func writeHeader(w io.Writer, class MessageClass) error {
	_, err := w.Write([]byte{ProtocolVersion, byte(class)})
	return err
}

// WriteHello writes a HELLO frame.
func WriteHello(w io.Writer, peerID [PeerIDSize]byte) error {
	if err := writeHeader(w, ClassHello); err != nil {
		return err
	}
	_, err := w.Write(peerID[:])
	return err
}

// WriteHashRequest writes an empty HASH_REQUEST frame.
func WriteHashRequest(w io.Writer) error {
	return writeHeader(w, ClassHashRequest)
}

// WriteHashResponse writes a HASH_RESPONSE frame, capping the transmitted
// entry count at MaxCubeHashCount.
func WriteHashResponse(w io.Writer, entries []HashEntry) error {
	if len(entries) > MaxCubeHashCount {
		entries = entries[:MaxCubeHashCount]
	}
	if err := writeHeader(w, ClassHashResponse); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		buf := make([]byte, hashEntrySize)
		buf[0] = byte(e.Kind)
		buf[1] = e.Challenge
		putUint40(buf[2:7], e.Date)
		copy(buf[7:], e.Key[:])
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteCubeRequest writes a CUBE_REQUEST frame.
func WriteCubeRequest(w io.Writer, keys []store.Key) error {
	if err := writeHeader(w, ClassCubeRequest); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := w.Write(k[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteCubeResponse writes a CUBE_RESPONSE frame.
func WriteCubeResponse(w io.Writer, bodies [][cube.CubeSize]byte) error {
	if err := writeHeader(w, ClassCubeResponse); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(bodies))); err != nil {
		return err
	}
	for _, b := range bodies {
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteNodeRequest writes an empty NODE_REQUEST frame.
func WriteNodeRequest(w io.Writer) error {
	return writeHeader(w, ClassNodeRequest)
}

// WriteNodeResponse writes a NODE_RESPONSE frame.
func WriteNodeResponse(w io.Writer, addrs []string) error {
	if err := writeHeader(w, ClassNodeResponse); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(addrs))); err != nil {
		return err
	}
	for _, addr := range addrs {
		if len(addr) > 0xFFFF {
			addr = addr[:0xFFFF]
		}
		if err := writeUint16(w, uint16(len(addr))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, addr); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads one framed message from r, returning its class and
// typed payload (one of Hello, HashRequest, HashResponse, CubeRequest,
// CubeResponse, NodeRequest, NodeResponse).
func ReadMessage(r io.Reader) (MessageClass, interface{}, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != ProtocolVersion {
		return 0, nil, ErrUnsupportedVersion
	}
	class := MessageClass(header[1])

	switch class {
	case ClassHello:
		var h Hello
		if _, err := io.ReadFull(r, h.PeerID[:]); err != nil {
			return class, nil, wrapTruncated(err)
		}
		return class, h, nil

	case ClassHashRequest:
		return class, HashRequest{}, nil

	case ClassHashResponse:
		count, err := readUint32(r)
		if err != nil {
			return class, nil, wrapTruncated(err)
		}
		entries := make([]HashEntry, 0, minInt(int(count), MaxCubeHashCount))
		for i := uint32(0); i < count; i++ {
			buf := make([]byte, hashEntrySize)
			if _, err := io.ReadFull(r, buf); err != nil {
				return class, nil, wrapTruncated(err)
			}
			if len(entries) >= MaxCubeHashCount {
				continue // keep reading to stay byte-aligned, but drop the entry
			}
			var e HashEntry
			e.Kind = cube.Kind(buf[0])
			e.Challenge = buf[1]
			e.Date = getUint40(buf[2:7])
			copy(e.Key[:], buf[7:])
			entries = append(entries, e)
		}
		return class, HashResponse{Entries: entries}, nil

	case ClassCubeRequest:
		count, err := readUint32(r)
		if err != nil {
			return class, nil, wrapTruncated(err)
		}
		keys := make([]store.Key, 0, minInt(int(count), MaxCubeHashCount))
		for i := uint32(0); i < count; i++ {
			var k store.Key
			if _, err := io.ReadFull(r, k[:]); err != nil {
				return class, nil, wrapTruncated(err)
			}
			if len(keys) < MaxCubeHashCount {
				keys = append(keys, k)
			}
		}
		return class, CubeRequest{Keys: keys}, nil

	case ClassCubeResponse:
		count, err := readUint32(r)
		if err != nil {
			return class, nil, wrapTruncated(err)
		}
		bodies := make([][cube.CubeSize]byte, 0, minInt(int(count), MaxCubeHashCount))
		for i := uint32(0); i < count; i++ {
			var b [cube.CubeSize]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return class, nil, wrapTruncated(err)
			}
			if len(bodies) < MaxCubeHashCount {
				bodies = append(bodies, b)
			}
		}
		return class, CubeResponse{Bodies: bodies}, nil

	case ClassNodeRequest:
		return class, NodeRequest{}, nil

	case ClassNodeResponse:
		count, err := readUint32(r)
		if err != nil {
			return class, nil, wrapTruncated(err)
		}
		addrs := make([]string, 0, minInt(int(count), MaxCubeHashCount))
		for i := uint32(0); i < count; i++ {
			length, err := readUint16(r)
			if err != nil {
				return class, nil, wrapTruncated(err)
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(r, buf); err != nil {
				return class, nil, wrapTruncated(err)
			}
			if len(addrs) < MaxCubeHashCount {
				addrs = append(addrs, string(buf))
			}
		}
		return class, NodeResponse{Addrs: addrs}, nil

	default:
		return class, nil, ErrUnknownMessageClass
	}
}

// encodeHello, et al. render a message to an in-memory buffer so SyncPeer
// can queue pre-encoded frames on its outbox channel without holding the
// connection's write lock while encoding.

func encodeHello(peerID [PeerIDSize]byte) []byte {
	var buf bytes.Buffer
	_ = WriteHello(&buf, peerID)
	return buf.Bytes()
}

func encodeHashRequest() []byte {
	var buf bytes.Buffer
	_ = WriteHashRequest(&buf)
	return buf.Bytes()
}

func encodeHashResponse(entries []HashEntry) []byte {
	var buf bytes.Buffer
	_ = WriteHashResponse(&buf, entries)
	return buf.Bytes()
}

func encodeCubeRequest(keys []store.Key) []byte {
	var buf bytes.Buffer
	_ = WriteCubeRequest(&buf, keys)
	return buf.Bytes()
}

func encodeCubeResponse(bodies [][cube.CubeSize]byte) []byte {
	var buf bytes.Buffer
	_ = WriteCubeResponse(&buf, bodies)
	return buf.Bytes()
}

func encodeNodeRequest() []byte {
	var buf bytes.Buffer
	_ = WriteNodeRequest(&buf)
	return buf.Bytes()
}

func encodeNodeResponse(addrs []string) []byte {
	var buf bytes.Buffer
	_ = WriteNodeResponse(&buf, addrs)
	return buf.Bytes()
}

func wrapTruncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedMessage
	}
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func writeUint16(w io.Writer, v uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	_, err := w.Write(buf)
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// putUint40 writes a 5-byte big-endian value, mirroring cube's minting
// timestamp encoding.
func putUint40(buf []byte, v uint64) {
	buf[0] = byte(v >> 32)
	buf[1] = byte(v >> 24)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 8)
	buf[4] = byte(v)
}

func getUint40(buf []byte) uint64 {
	return uint64(buf[0])<<32 | uint64(buf[1])<<24 | uint64(buf[2])<<16 | uint64(buf[3])<<8 | uint64(buf[4])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
