package volstore

import (
	"log/slog"
	"sync"
)

// Listener receives the full mapping after every change.
type Listener func(Volumes)

// broadcaster fans a mapping out to all subscribers. A panicking listener
// is logged and does not stop the others.
type broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]Listener
	logger *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{subs: make(map[int]Listener), logger: logger}
}

func (b *broadcaster) subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *broadcaster) send(v Volumes) {
	b.mu.Lock()
	subs := make([]Listener, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		b.deliver(fn, v.Clone())
	}
}

func (b *broadcaster) deliver(fn Listener, v Volumes) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("volstore: listener panicked", "panic", r)
		}
	}()
	fn(v)
}
