package session

import "time"

const (
	minBacklog = 5
	maxBacklog = 100
)

// Strategy holds one peer's adaptive pipelining depth and implements the
// two throughput-driven decisions a working session makes: whether to
// abandon a slow piece back to the queue, and how to grow or shrink the
// backlog after a piece completes. Factored out of the session loop so
// both decisions are unit-testable without a live connection.
type Strategy struct {
	MaxBacklog int
}

// NewStrategy returns a strategy with the initial pipelining depth.
func NewStrategy() *Strategy {
	return &Strategy{MaxBacklog: minBacklog}
}

// ShouldAbandon implements the slow-peer escape hatch: if the shared queue
// is getting short (fewer than 20 jobs left) and this piece's observed
// rate is below 60 bytes/sec, the current job should be abandoned back to
// the queue rather than waited out.
func (s *Strategy) ShouldAbandon(queueLen int, bytesReceived int64, elapsed time.Duration) bool {
	if queueLen >= 20 {
		return false
	}
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return false
	}
	rate := float64(bytesReceived) / seconds
	return rate < 60
}

// AdaptAfterPiece grows the backlog by 2 when a just-completed piece
// exceeded 20 bytes/sec, and otherwise collapses it toward 18, in both
// cases clamped to [minBacklog, maxBacklog].
func (s *Strategy) AdaptAfterPiece(pieceLength int64, elapsed time.Duration) {
	seconds := elapsed.Seconds()
	rate := 0.0
	if seconds > 0 {
		rate = float64(pieceLength) / seconds
	}

	if rate > 20 {
		s.MaxBacklog += 2
	} else {
		s.MaxBacklog = s.MaxBacklog/5 + 18
	}

	if s.MaxBacklog > maxBacklog {
		s.MaxBacklog = maxBacklog
	}
	if s.MaxBacklog < minBacklog {
		s.MaxBacklog = minBacklog
	}
}
