package mailbox

import (
	"context"
	"sync"

	"github.com/owulveryck/agentmail/internal/a2a"
)

// queue is an unbounded FIFO of messages. push never blocks; pop blocks until
// a message is available or ctx is done.
type queue struct {
	mu    sync.Mutex
	items []*a2a.Message
	// notify holds at most one wake-up token.
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(msg *a2a.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) pop(ctx context.Context) (*a2a.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// Hand the token on to another waiter.
				q.signal()
			}
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
