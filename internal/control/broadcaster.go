package control

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vaclab-data/pressure.report/internal/sampler"
)

// subscriberBuffer is the per-subscriber channel depth. A consumer that
// falls further behind than this starts losing updates.
const subscriberBuffer = 16

// Broadcaster fans updates out to any number of channel subscribers.
// Delivery is fire-and-forget: a full channel is skipped rather than blocked
// on, so a slow consumer can never stall the sampling path.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan sampler.Update
	closed      bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan sampler.Update),
	}
}

// Subscribe creates a new channel receiving future updates. The returned ID
// identifies the channel for Unsubscribe.
func (b *Broadcaster) Subscribe() (string, <-chan sampler.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan sampler.Update, subscriberBuffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers an update to every subscriber without blocking.
func (b *Broadcaster) Publish(u sampler.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
			// subscriber is full/blocked: skip
		}
	}
}

// Close closes all subscriber channels. Further Publish calls are dropped
// and further Subscribe calls return closed channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
