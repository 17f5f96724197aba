// Package coordinator spawns peer sessions, seeds the shared work queue,
// consumes progress events, verifies piece hashes, re-enqueues failed
// pieces, and writes the assembled output file.
package coordinator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"neon/torrent/identity"
	"neon/torrent/logx"
	"neon/torrent/metainfo"
	"neon/torrent/output"
	"neon/torrent/queue"
	"neon/torrent/session"
	"neon/torrent/tracker"
)

// ErrPeersExhausted is returned when every spawned session has returned
// before every piece has been accepted — the watchdog called for in
// spec §9 in place of hanging forever.
var ErrPeersExhausted = errors.New("coordinator: peer set exhausted before download completed")

// eventBacklogFactor sizes the event channel generously above num_pieces so a
// burst of Downloaded/Active/Close events from many peer sessions never
// blocks a worker goroutine on send.
const eventBacklogFactor = 4

// joinGrace is how long Run waits for peer goroutines to notice shutdown
// before returning; sessions busy-waiting on an empty queue are not
// forcibly interrupted (see spec §5 "Cancellation / timeout").
const joinGrace = 600 * time.Millisecond

// Coordinator owns every downstream piece of one torrent download: the
// work queue, the output buffer, and the event stream from peer sessions.
type Coordinator struct {
	info  *metainfo.TorrentInfo
	local identity.Local

	queue  *queue.Queue
	events chan session.Event
	buf    *output.Buffer

	accepted int
	numPeers int
}

// New builds a Coordinator for info, ready to Run.
func New(info *metainfo.TorrentInfo, local identity.Local) *Coordinator {
	numPieces := info.NumPieces()
	return &Coordinator{
		info:   info,
		local:  local,
		queue:  queue.New(numPieces),
		events: make(chan session.Event, numPieces*eventBacklogFactor+16),
		buf:    output.New(info.TotalLength),
	}
}

// Run contacts the tracker, spawns one session per advertised peer, drives
// the progress loop to completion, and writes the assembled buffer to
// outputPath.
func (c *Coordinator) Run(outputPath string) error {
	c.seedQueue()

	peers, err := tracker.Announce(c.info, c.local)
	if err != nil {
		return fmt.Errorf("coordinator: tracker announce: %w", err)
	}
	if len(peers) == 0 {
		return fmt.Errorf("coordinator: tracker returned no peers")
	}
	logx.Info("tracker returned %d peers", len(peers))

	group := c.spawnSessions(peers)

	sessionsDone := make(chan struct{})
	go func() {
		group.Wait()
		close(sessionsDone)
	}()

	if err := c.progressLoop(sessionsDone); err != nil {
		return err
	}

	c.joinSessions(sessionsDone)

	if err := os.WriteFile(outputPath, c.buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("coordinator: writing output %q: %w", outputPath, err)
	}

	return nil
}

// seedQueue enqueues every piece job: PieceLength for all but the last,
// whose length is the remainder of TotalLength.
func (c *Coordinator) seedQueue() {
	for i := 0; i < c.info.NumPieces(); i++ {
		c.queue.Push(queue.Job{Index: i, Length: c.info.PieceLengthAt(i)})
	}
}

// spawnSessions creates one session per peer descriptor and runs each
// under an errgroup, so the coordinator can wait on clean shutdown without
// an unsupervised goroutine leak.
func (c *Coordinator) spawnSessions(peers []tracker.PeerDescriptor) *errgroup.Group {
	var group errgroup.Group

	for _, p := range peers {
		p := p
		sess := session.New(
			p.String(),
			c.info.InfoHash,
			c.local.PeerID,
			c.info.NumPieces(),
			c.info.PieceLength,
			c.queue,
			c.events,
			c.buf,
		)

		group.Go(func() error {
			sess.Run()
			return nil
		})
	}

	return &group
}

// progressLoop consumes events until every piece is accepted or every
// spawned session has genuinely returned first. The active-peer count
// (numPeers) is, per spec §5, a monitoring statistic only — it transiently
// hits zero whenever the lone contributing peer so far happens to close
// between pieces, even while dozens of other sessions are still mid-
// handshake. Exhaustion is therefore gated on sessionsDone, which only
// closes once every spawned session goroutine has returned.
func (c *Coordinator) progressLoop(sessionsDone <-chan struct{}) error {
	bar := progressbar.Default(int64(c.info.NumPieces()), c.info.Name)

	numPieces := c.info.NumPieces()
	for c.accepted < numPieces {
		select {
		case e := <-c.events:
			c.handleEvent(e, bar)

		case <-sessionsDone:
			// Every session has returned; drain whatever events are
			// already buffered (a session's final sends happen-before
			// its goroutine returns) before concluding the peer set is
			// truly exhausted.
			for c.accepted < numPieces {
				e, ok := c.popEvent()
				if !ok {
					return ErrPeersExhausted
				}
				c.handleEvent(e, bar)
			}
		}
	}

	bar.Finish()
	fmt.Println()
	return nil
}

// popEvent attempts a non-blocking receive on the event channel.
func (c *Coordinator) popEvent() (session.Event, bool) {
	select {
	case e := <-c.events:
		return e, true
	default:
		return session.Event{}, false
	}
}

// handleEvent applies one session event: active/close update the
// monitoring peer count, Downloaded verifies the piece and either accepts
// it or re-enqueues it on a hash mismatch.
func (c *Coordinator) handleEvent(e session.Event, bar *progressbar.ProgressBar) {
	switch e.Kind {
	case session.EventActive:
		c.numPeers++

	case session.EventClose:
		c.numPeers--

	case session.EventDownloaded:
		ok := c.buf.VerifyAndAccept(c.info.PieceLength, int64(e.Index), c.info.PieceLengthAt(e.Index), c.info.PieceHashes[e.Index])
		if !ok {
			logx.Fail("piece %d failed integrity check, re-enqueuing", e.Index)
			c.queue.Push(queue.Job{Index: e.Index, Length: c.info.PieceLengthAt(e.Index)})
			return
		}

		c.accepted++
		bar.Add(1)
	}
}

// joinSessions gives peer goroutines a short grace period to notice
// completion. Most will still be parked in the 500ms queue-empty sleep
// (see session.work); the coordinator is not required to join them and
// proceeds regardless once the grace period elapses. sessionsDone may
// already be closed (progressLoop can finish the download while draining
// events after it fires), in which case this returns immediately.
func (c *Coordinator) joinSessions(sessionsDone <-chan struct{}) {
	select {
	case <-sessionsDone:
	case <-time.After(joinGrace):
	}
}
