package session

import (
	"sync"

	"github.com/hotmic/hotmic/audiocapture"
)

// frameQueue is the bounded in-flight frame buffer between capture and the
// stream sender. When full, the oldest unsent frame is dropped so capture
// never blocks: fidelity traded for liveness.
type frameQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []audiocapture.Frame
	cap     int
	closed  bool
	dropped int
}

func newFrameQueue(depth int) *frameQueue {
	q := &frameQueue{cap: depth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a frame, evicting the oldest when the queue is full.
// Returns false once the queue is closed.
func (q *frameQueue) push(f audiocapture.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.buf) >= q.cap {
		q.buf = q.buf[1:]
		q.dropped++
	}
	q.buf = append(q.buf, f)
	q.cond.Signal()
	return true
}

// pop blocks until a frame is available or the queue is closed and drained.
func (q *frameQueue) pop() (audiocapture.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return audiocapture.Frame{}, false
	}
	f := q.buf[0]
	q.buf = q.buf[1:]
	return f, true
}

// close wakes any blocked pop. Queued frames may still be drained.
func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *frameQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
