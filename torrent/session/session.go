// Package session implements one peer's state machine: handshake,
// bitfield intake, choke/interest negotiation, request pipelining, and
// piece reassembly into the shared output buffer.
package session

import (
	"fmt"
	"net"
	"time"

	"neon/torrent/logx"
	"neon/torrent/output"
	"neon/torrent/queue"
	"neon/torrent/wire"
)

// State names the peer session's lifecycle stage. Closed is reachable
// from every other state.
type State int

const (
	Fresh State = iota
	Connecting
	HandshakePending
	BitfieldPending
	InterestNegotiation
	Working
	Closed
)

const (
	connectTimeout  = 3 * time.Second
	writeTimeout    = 2 * time.Second
	readTimeout     = 15 * time.Second
	queueEmptySleep = 500 * time.Millisecond
)

// Session is one peer's worker: it owns a transport, pulls jobs from a
// shared queue, and writes completed pieces into a shared output buffer.
// Nothing about a Session is shared with any other session.
type Session struct {
	addr        string
	infoHash    [20]byte
	localPeerID [20]byte
	numPieces   int
	pieceLength int64

	queue  *queue.Queue
	events chan<- Event
	buf    *output.Buffer

	state      State
	conn       net.Conn
	bitfield   wire.Bitfield
	isChoked   bool
	canRequest bool

	targetIndex     int
	pieceBuffer     []byte
	requestedOffset int64
	bytesReceived   int64
	backlog         int

	strategy *Strategy
	isActive bool
	closed   bool

	// dial is overridden in tests to hand the session a net.Pipe end
	// instead of a real TCP dial.
	dial func(addr string, timeout time.Duration) (net.Conn, error)
}

// New builds a session for one peer address. It does not dial; call Run to
// drive the full lifecycle.
func New(addr string, infoHash, localPeerID [20]byte, numPieces int, pieceLength int64, q *queue.Queue, events chan<- Event, buf *output.Buffer) *Session {
	return &Session{
		addr:        addr,
		infoHash:    infoHash,
		localPeerID: localPeerID,
		numPieces:   numPieces,
		pieceLength: pieceLength,
		queue:       q,
		events:      events,
		buf:         buf,
		state:       Fresh,
		isChoked:    true,
		strategy:    NewStrategy(),
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
}

// Run drives the session through its full lifecycle: connect, handshake,
// bitfield intake, interest negotiation, and the working loop, until the
// session closes for any reason.
func (s *Session) Run() {
	if !s.connect() {
		return
	}
	defer s.conn.Close()

	if !s.handshake() {
		s.close()
		return
	}

	if !s.awaitBitfield() {
		s.close()
		return
	}

	if !s.negotiateInterest() {
		s.close()
		return
	}

	s.work()
	s.close()
}

// connect dials the peer with a 3s deadline. On failure the peer was never
// active, so no event is emitted and the session stays silent.
func (s *Session) connect() bool {
	s.state = Connecting

	conn, err := s.dial(s.addr, connectTimeout)
	if err != nil {
		s.state = Closed
		return false
	}

	s.conn = conn
	s.state = HandshakePending
	return true
}

// handshake sends our handshake and validates the remote's.
func (s *Session) handshake() bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	hs := wire.Handshake{InfoHash: s.infoHash, PeerID: s.localPeerID}
	if _, err := s.conn.Write(hs.Encode()); err != nil {
		logx.Fail("%s: sending handshake: %v", s.addr, err)
		return false
	}

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	if _, err := wire.ReadHandshake(s.conn, s.infoHash); err != nil {
		logx.Fail("%s: reading handshake: %v", s.addr, err)
		return false
	}

	s.canRequest = true
	s.state = BitfieldPending
	return true
}

// awaitBitfield requires a single leading Bitfield frame; a real peer's
// Have-stream alternative is not accepted here, by design (see spec §4.2).
func (s *Session) awaitBitfield() bool {
	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	msg, err := wire.ReadMessage(s.conn)
	if err != nil {
		logx.Fail("%s: reading bitfield: %v", s.addr, err)
		return false
	}
	if msg == nil || msg.ID != wire.Bitfield {
		logx.Fail("%s: expected leading Bitfield frame", s.addr)
		return false
	}

	bf, err := wire.DecodeBitfield(msg, s.numPieces)
	if err != nil {
		logx.Fail("%s: decoding bitfield: %v", s.addr, err)
		return false
	}

	s.bitfield = bf
	s.state = InterestNegotiation
	return true
}

// negotiateInterest sends Unchoke then Interested (see spec §4.2 step 4 and
// §9: this client sends Unchoke first by design, even as the requesting
// side; harmless, kept unless an alternative is deliberately adopted), then
// reads up to two messages looking for the remote's Unchoke.
func (s *Session) negotiateInterest() bool {
	if err := s.send(&wire.Message{ID: wire.Unchoke}); err != nil {
		logx.Fail("%s: sending Unchoke: %v", s.addr, err)
		return false
	}
	if err := s.send(&wire.Message{ID: wire.Interested}); err != nil {
		logx.Fail("%s: sending Interested: %v", s.addr, err)
		return false
	}

	for attempt := 0; attempt < 2; attempt++ {
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			logx.Fail("%s: reading during interest negotiation: %v", s.addr, err)
			return false
		}
		if msg != nil && msg.ID == wire.Unchoke {
			s.isChoked = false
			break
		}
	}

	if s.isChoked {
		logx.Info("%s: still choked after negotiation, closing", s.addr)
		return false
	}

	s.state = Working
	return true
}

func (s *Session) send(m *wire.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.conn.Write(m.Encode())
	return err
}

// work is the main pipelining loop: pull jobs from the shared queue,
// request blocks up to the adaptive backlog, and hand off completed
// pieces to the output buffer.
func (s *Session) work() {
	for {
		job, ok := s.queue.Pop()
		if !ok {
			time.Sleep(queueEmptySleep)
			job, ok = s.queue.Pop()
			if !ok {
				continue
			}
		}

		if !s.bitfield.Has(job.Index) {
			s.queue.Push(job)
			continue
		}

		if !s.downloadPiece(job) {
			return
		}
	}
}

// downloadPiece drives one piece through the pipelining inner loop. It
// returns false if the session should close (I/O error, protocol
// violation); true if the piece completed or was abandoned back to the
// queue via the slow-peer escape hatch.
func (s *Session) downloadPiece(job queue.Job) bool {
	s.targetIndex = job.Index
	s.pieceBuffer = make([]byte, job.Length)
	s.requestedOffset = 0
	s.bytesReceived = 0
	s.backlog = 0

	start := time.Now()

	for s.bytesReceived < job.Length {
		if s.isChoked {
			s.queue.Push(job)
			return false
		}

		for s.backlog < s.strategy.MaxBacklog && s.requestedOffset < job.Length {
			blockLen := int64(wire.BlockSize)
			if remaining := job.Length - s.requestedOffset; remaining < blockLen {
				blockLen = remaining
			}

			req := wire.NewRequest(uint32(job.Index), uint32(s.requestedOffset), uint32(blockLen))
			if err := s.send(req); err != nil {
				logx.Fail("%s: sending Request: %v", s.addr, err)
				s.queue.Push(job)
				return false
			}

			s.backlog++
			s.requestedOffset += blockLen
		}

		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			logx.Fail("%s: reading during piece %d: %v", s.addr, job.Index, err)
			s.queue.Push(job)
			return false
		}
		if msg == nil {
			continue
		}

		if !s.dispatch(msg, job) {
			s.queue.Push(job)
			return false
		}

		if s.strategy.ShouldAbandon(s.queue.Len(), s.bytesReceived, time.Since(start)) {
			s.queue.Push(job)
			return true
		}
	}

	elapsed := time.Since(start)
	s.strategy.AdaptAfterPiece(job.Length, elapsed)

	s.buf.Write(s.pieceLength, int64(job.Index), s.pieceBuffer)

	s.emit(Event{Kind: EventDownloaded, Index: job.Index})
	if !s.isActive {
		s.isActive = true
		s.emit(Event{Kind: EventActive})
	}

	return true
}

// dispatch handles one message received during the Working state, per the
// message-dispatch table in spec §4.2.1. It returns false on any protocol
// violation that should close the session.
func (s *Session) dispatch(msg *wire.Message, job queue.Job) bool {
	switch msg.ID {
	case wire.Unchoke:
		s.isChoked = false
		return true

	case wire.Choke:
		s.isChoked = true
		return true

	case wire.Bitfield:
		bf, err := wire.DecodeBitfield(msg, s.numPieces)
		if err != nil || len(bf) != len(s.bitfield) {
			logx.Fail("%s: rejecting post-handshake bitfield: %v", s.addr, err)
			return false
		}
		s.bitfield = bf
		return true

	case wire.Have:
		index, err := wire.ParseHave(msg)
		if err != nil {
			logx.Fail("%s: %v", s.addr, err)
			return false
		}
		s.bitfield.Set(int(index))
		return true

	case wire.Piece:
		index, begin, data, err := wire.ParsePiece(msg)
		if err != nil {
			logx.Fail("%s: %v", s.addr, err)
			return false
		}
		if int(index) != s.targetIndex {
			logx.Fail("%s: Piece for index %d, want %d", s.addr, index, s.targetIndex)
			return false
		}
		if int64(begin)+int64(len(data)) > int64(len(s.pieceBuffer)) {
			logx.Fail("%s: Piece begin+len exceeds piece length", s.addr)
			return false
		}
		copy(s.pieceBuffer[begin:], data)
		s.bytesReceived += int64(len(data))
		s.backlog--
		return true

	case wire.Request, wire.Interested, wire.NotInterested:
		return true

	case wire.Cancel:
		return false

	default:
		return false
	}
}

// emit sends e to the coordinator. The event channel is sized generously
// by the coordinator (see coordinator.New) so this practically never
// blocks a worker.
func (s *Session) emit(e Event) {
	s.events <- e
}

// close transitions to Closed, emitting a Close event exactly once if this
// session had previously gone active. Idempotent.
func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.state = Closed

	if s.isActive {
		s.emit(Event{Kind: EventClose})
	}
}

// String aids diagnostics/logging.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.addr)
}
