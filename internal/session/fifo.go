package session

import "sync"

// chunk is one queued write: silence frames followed by a payload.
type chunk struct {
	silence int
	pcm     []byte
}

// fifo is an unbounded queue; push never blocks.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []chunk
	closed bool
}

func newFIFO() *fifo {
	q := &fifo{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push returns false once the queue is closed.
func (q *fifo) push(c chunk) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, c)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available. After close it keeps returning
// the remaining items, then ok=false.
func (q *fifo) pop() (chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return chunk{}, false
	}
	c := q.items[0]
	q.items[0] = chunk{}
	q.items = q.items[1:]
	return c, true
}

func (q *fifo) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// discard drops everything still queued and returns how many items it dropped.
func (q *fifo) discard() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	return n
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
