package feed

import "sync"

// Broker fans change notifications out to listeners. Notifications carry no
// payload: a listener only learns that something changed and reloads the
// full snapshot. Pending notifications coalesce, so a slow listener sees at
// most one queued signal no matter how many writes happened.
type Broker struct {
	mu        sync.Mutex
	listeners map[int]chan struct{}
	next      int
}

func NewBroker() *Broker {
	return &Broker{listeners: make(map[int]chan struct{})}
}

// Notify signals every listener without blocking.
func (b *Broker) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listen registers a listener. The returned func removes it and must be called.
func (b *Broker) Listen() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (b *Broker) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
