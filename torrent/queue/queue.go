// Package queue implements the bounded multi-producer/multi-consumer work
// queue of piece jobs shared between the coordinator and every peer
// session.
package queue

// Job is a single unit of download work: a piece index and the number of
// bytes that piece holds (the last piece may be shorter than PieceLength).
type Job struct {
	Index  int
	Length int64
}

// Queue is a bounded MPMC queue of Jobs backed by a buffered channel, sized
// to num_pieces so push never blocks for a well-formed caller.
type Queue struct {
	jobs chan Job
}

// New allocates a queue with capacity for at least numPieces jobs.
func New(numPieces int) *Queue {
	if numPieces < 1 {
		numPieces = 1
	}
	return &Queue{jobs: make(chan Job, numPieces)}
}

// Push enqueues a job. It never blocks: the queue is sized so it is never
// full for a caller respecting the at-most-one-in-flight-per-piece
// discipline. Push is safe for concurrent use by multiple goroutines.
func (q *Queue) Push(job Job) {
	q.jobs <- job
}

// Pop attempts to dequeue a job without blocking. ok is false if the queue
// is currently empty.
func (q *Queue) Pop() (job Job, ok bool) {
	select {
	case job = <-q.jobs:
		return job, true
	default:
		return Job{}, false
	}
}

// Len reports the number of jobs currently queued.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// IsEmpty reports whether the queue currently holds no jobs.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}
