package pty

import "sync"

// chunkQueue is the unbounded hand-off between a session's I/O goroutine and
// its consumer. Producers never block; consumers poll with tryPop or wait on
// ready.
type chunkQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int
	closed bool
	signal chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{signal: make(chan struct{}, 1)}
}

// push appends p. It returns false once the queue is closed.
func (q *chunkQueue) push(p []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.chunks = append(q.chunks, p)
	q.bytes += len(p)
	q.mu.Unlock()
	q.notify()
	return true
}

func (q *chunkQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// tryPop removes the oldest chunk without blocking.
func (q *chunkQueue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return nil, false
	}
	c := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	q.bytes -= len(c)
	return c, true
}

// ready is signalled after pushes and on close.
func (q *chunkQueue) ready() <-chan struct{} {
	return q.signal
}

// close rejects further pushes; queued chunks stay readable.
func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// pending returns the number of queued bytes.
func (q *chunkQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

func (q *chunkQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
