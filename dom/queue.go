package dom

import "sync"

// Queue is an unbounded event queue feeding a channel. Producers never
// block on the consumer, which keeps page callbacks from stalling.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool

	wake chan struct{}
	out  chan Event
	done chan struct{}
	once sync.Once
}

// NewQueue starts a queue. Close releases its goroutine.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push appends ev. It is a no-op after Close.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Events returns the delivery channel.
func (q *Queue) Events() <-chan Event { return q.out }

// Close stops delivery. Queued events are dropped.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.items = nil
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *Queue) pump() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}
