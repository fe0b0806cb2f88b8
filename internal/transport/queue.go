package transport

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// sendQueue is a bounded FIFO of encoded packets for one connection. Packets
// leave in the order they were pushed.
type sendQueue struct {
	mu    sync.Mutex
	items *queue.Queue
	depth int
	ready chan struct{}
	space chan struct{}
}

func newSendQueue(depth int) *sendQueue {
	return &sendQueue{
		items: queue.New(),
		depth: depth,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

// push appends b, blocking while the queue is full.
func (q *sendQueue) push(ctx context.Context, b []byte, closed <-chan struct{}) error {
	for {
		q.mu.Lock()
		if q.depth <= 0 || q.items.Length() < q.depth {
			q.items.Add(b)
			room := q.depth <= 0 || q.items.Length() < q.depth
			q.mu.Unlock()
			notify(q.ready)
			if room {
				// pass the wakeup on to any other blocked pusher
				notify(q.space)
			}
			return nil
		}
		q.mu.Unlock()
		select {
		case <-q.space:
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return ErrConnClosed
		}
	}
}

// pop removes the oldest packet, blocking until one is queued or closed fires.
func (q *sendQueue) pop(closed <-chan struct{}) ([]byte, bool) {
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			b := q.items.Remove().([]byte)
			q.mu.Unlock()
			notify(q.space)
			return b, true
		}
		q.mu.Unlock()
		select {
		case <-q.ready:
		case <-closed:
			return nil, false
		}
	}
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
