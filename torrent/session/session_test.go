package session

import (
	"bytes"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neon/torrent/output"
	"neon/torrent/queue"
	"neon/torrent/wire"
)

// newPipedSession wires a Session to one end of an in-memory net.Pipe,
// handing the other end back to the caller to drive as a simulated peer.
func newPipedSession(numPieces int, pieceLength int64, q *queue.Queue, events chan Event, buf *output.Buffer) (*Session, net.Conn) {
	clientConn, peerConn := net.Pipe()

	var infoHash, peerID [20]byte
	s := New("simulated-peer", infoHash, peerID, numPieces, pieceLength, q, events, buf)
	s.dial = func(string, time.Duration) (net.Conn, error) {
		return clientConn, nil
	}

	return s, peerConn
}

func readHandshake(t *testing.T, conn net.Conn) wire.Handshake {
	t.Helper()
	hs, err := wire.ReadHandshake(conn, [20]byte{})
	require.NoError(t, err)
	return hs
}

func sendBitfield(t *testing.T, conn net.Conn, bf wire.Bitfield) {
	t.Helper()
	_, err := conn.Write(wire.EncodeBitfieldMessage(bf).Encode())
	require.NoError(t, err)
}

func expectMessage(t *testing.T, conn net.Conn, id wire.MessageID) *wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	m, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, id, m.ID)
	return m
}

// TestSinglePieceTorrent mirrors spec §8 scenario 1: a single 16384-byte
// piece served correctly by one simulated peer.
func TestSinglePieceTorrent(t *testing.T) {
	const pieceLength = 16384
	data := make([]byte, pieceLength)
	hash := sha1.Sum(data)

	q := queue.New(1)
	q.Push(queue.Job{Index: 0, Length: pieceLength})

	events := make(chan Event, 8)
	buf := output.New(pieceLength)

	s, peerConn := newPipedSession(1, pieceLength, q, events, buf)
	go s.Run()

	readHandshake(t, peerConn)
	hs := wire.Handshake{InfoHash: [20]byte{}, PeerID: [20]byte{}}
	_, err := peerConn.Write(hs.Encode())
	require.NoError(t, err)

	bf := wire.NewBitfield(1)
	bf.Set(0)
	sendBitfield(t, peerConn, bf)

	expectMessage(t, peerConn, wire.Unchoke)
	expectMessage(t, peerConn, wire.Interested)

	_, err = peerConn.Write((&wire.Message{ID: wire.Unchoke}).Encode())
	require.NoError(t, err)

	req := expectMessage(t, peerConn, wire.Request)
	index, begin, length, err := wire.ParseRequestLike(req)
	require.NoError(t, err)
	require.EqualValues(t, 0, index)
	require.EqualValues(t, 0, begin)
	require.EqualValues(t, pieceLength, length)

	piece := wire.NewPiece(0, 0, data)
	_, err = peerConn.Write(piece.Encode())
	require.NoError(t, err)

	select {
	case e := <-events:
		require.Equal(t, EventDownloaded, e.Kind)
		require.Equal(t, 0, e.Index)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Downloaded event")
	}

	require.True(t, bytes.Equal(data, buf.Bytes()))
	require.True(t, buf.VerifyAndAccept(pieceLength, 0, pieceLength, hash))
}

// TestChokedPeerClosesWithoutLosingJob mirrors spec §8 scenario 4: a remote
// that sends a bitfield but never unchokes must be closed after two read
// attempts, and the job it never claimed must remain in the queue.
func TestChokedPeerClosesWithoutLosingJob(t *testing.T) {
	q := queue.New(1)
	q.Push(queue.Job{Index: 0, Length: 16384})

	events := make(chan Event, 8)
	buf := output.New(16384)

	s, peerConn := newPipedSession(1, 16384, q, events, buf)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	readHandshake(t, peerConn)
	hs := wire.Handshake{}
	_, err := peerConn.Write(hs.Encode())
	require.NoError(t, err)

	bf := wire.NewBitfield(1)
	bf.Set(0)
	sendBitfield(t, peerConn, bf)

	expectMessage(t, peerConn, wire.Unchoke)
	expectMessage(t, peerConn, wire.Interested)

	// Never unchoke: send two Choke frames (a zero-value Message has the
	// Choke id), consuming the session's two read attempts, then let the
	// connection go quiet.
	_, _ = peerConn.Write((&wire.Message{}).Encode())
	_, _ = peerConn.Write((&wire.Message{}).Encode())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close after remaining choked")
	}

	require.Equal(t, 1, q.Len(), "job must remain in the queue, untouched")
	require.Equal(t, 0, len(events), "a never-active session must not emit Close")
}
