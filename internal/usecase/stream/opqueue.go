package stream

import (
	"log/slog"
	"sync"
)

// OpQueue executes enqueued operations strictly in the order they were
// enqueued, at most one in flight at a time. Display updates for a session
// all run through one queue; two racing edits against the same platform
// message would otherwise land out of order and leave stale text on screen.
type OpQueue struct {
	mu     sync.Mutex
	tail   chan struct{} // closed when the most recently enqueued op finishes
	logger *slog.Logger
}

// NewOpQueue creates an empty queue.
func NewOpQueue(logger *slog.Logger) *OpQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpQueue{logger: logger}
}

// Enqueue schedules fn to run after every previously enqueued operation has
// finished. A panicking operation is logged and absorbed so it never stalls
// the chain. The returned channel closes when fn has completed.
func (q *OpQueue) Enqueue(fn func()) <-chan struct{} {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("queued display op panicked", "panic", r)
			}
		}()
		fn()
	}()
	return done
}

// Wait blocks until every operation enqueued so far has completed.
func (q *OpQueue) Wait() {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	if tail != nil {
		<-tail
	}
}
