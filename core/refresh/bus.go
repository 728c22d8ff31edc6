package refresh

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// Bus holds the refresh tick. The tick only moves forward, one step per
// Advance, and every new value is broadcast to subscribers.
type Bus struct {
	mu   sync.Mutex
	tick uint64
	feed event.Feed
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Current() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick
}

// Advance moves the tick forward by one and returns the new value.
func (b *Bus) Advance() uint64 {
	b.mu.Lock()
	b.tick++
	tick := b.tick
	// Send under the lock keeps subscribers seeing ticks in order.
	b.feed.Send(tick)
	b.mu.Unlock()

	logrus.Debugf("refresh tick advanced to %d", tick)
	return tick
}

// Subscribe delivers every new tick on ch. Slow receivers block Advance, so
// ch should be buffered.
func (b *Bus) Subscribe(ch chan<- uint64) event.Subscription {
	return b.feed.Subscribe(ch)
}
