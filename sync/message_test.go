package sync_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EliasOenal/verity-sub000/cube"
	"github.com/EliasOenal/verity-sub000/store"
	"github.com/EliasOenal/verity-sub000/sync"
)

func TestHelloRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var id [sync.PeerIDSize]byte
	id[0] = 0x42
	require.NoError(t, sync.WriteHello(&buf, id))

	class, payload, err := sync.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, sync.ClassHello, class)
	require.Equal(t, id, payload.(sync.Hello).PeerID)
}

func TestHashResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var key store.Key
	key[3] = 9
	entries := []sync.HashEntry{
		{Kind: cube.KindFrozen, Challenge: 12, Date: 1700000000, Key: key},
	}
	require.NoError(t, sync.WriteHashResponse(&buf, entries))

	class, payload, err := sync.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, sync.ClassHashResponse, class)
	hr := payload.(sync.HashResponse)
	require.Len(t, hr.Entries, 1)
	require.Equal(t, entries[0], hr.Entries[0])
}

func TestCubeRequestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var key store.Key
	key[0] = 1
	require.NoError(t, sync.WriteCubeRequest(&buf, []store.Key{key}))
	class, payload, err := sync.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, sync.ClassCubeRequest, class)
	require.Equal(t, []store.Key{key}, payload.(sync.CubeRequest).Keys)

	buf.Reset()
	var body [cube.CubeSize]byte
	body[0] = 0xFF
	require.NoError(t, sync.WriteCubeResponse(&buf, [][cube.CubeSize]byte{body}))
	class, payload, err = sync.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, sync.ClassCubeResponse, class)
	require.Equal(t, [][cube.CubeSize]byte{body}, payload.(sync.CubeResponse).Bodies)
}

func TestNodeResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	addrs := []string{"192.0.2.1:1984", "[::1]:1984"}
	require.NoError(t, sync.WriteNodeResponse(&buf, addrs))
	class, payload, err := sync.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, sync.ClassNodeResponse, class)
	require.Equal(t, addrs, payload.(sync.NodeResponse).Addrs)
}

func TestHashResponseCapsEntriesAtProtocolMaximum(t *testing.T) {
	var buf bytes.Buffer
	// Hand-craft a frame that claims more entries than MaxCubeHashCount.
	buf.Write([]byte{sync.ProtocolVersion, byte(sync.ClassHashResponse)})
	count := sync.MaxCubeHashCount + 5
	countBuf := []byte{byte(count >> 24), byte(count >> 16), byte(count >> 8), byte(count)}
	buf.Write(countBuf)
	entry := make([]byte, 1+1+5+store.KeySize)
	for i := 0; i < count; i++ {
		buf.Write(entry)
	}

	class, payload, err := sync.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, sync.ClassHashResponse, class)
	require.Len(t, payload.(sync.HashResponse).Entries, sync.MaxCubeHashCount)
}

func TestReadMessageRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, byte(sync.ClassHello)})
	_, _, err := sync.ReadMessage(&buf)
	require.ErrorIs(t, err, sync.ErrUnsupportedVersion)
}

func TestReadMessageRejectsUnknownClass(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{sync.ProtocolVersion, 0x05})
	_, _, err := sync.ReadMessage(&buf)
	require.ErrorIs(t, err, sync.ErrUnknownMessageClass)
}

func TestReadMessageRejectsTruncatedMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{sync.ProtocolVersion, byte(sync.ClassHello)})
	buf.Write([]byte{1, 2, 3}) // short of PeerIDSize
	_, _, err := sync.ReadMessage(&buf)
	require.ErrorIs(t, err, sync.ErrTruncatedMessage)
}
