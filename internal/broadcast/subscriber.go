package broadcast

import (
	"sync"
	"sync/atomic"

	"auction-engine/internal/models"
	"auction-engine/utils"
)

// Subscriber receives the events of one auction room. The channel is closed
// when the subscriber leaves, is evicted for lagging, or the hub shuts down.
type Subscriber struct {
	ID        string
	AuctionID string

	events  chan models.AuctionEvent
	once    sync.Once
	evicted atomic.Bool
}

func newSubscriber(auctionID string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		ID:        utils.GenerateID(),
		AuctionID: auctionID,
		events:    make(chan models.AuctionEvent, buffer),
	}
}

// Events is the subscriber's event stream
func (s *Subscriber) Events() <-chan models.AuctionEvent {
	return s.events
}

// Evicted reports whether the hub dropped the subscriber for falling behind.
// An evicted subscriber should subscribe again to get a fresh snapshot.
func (s *Subscriber) Evicted() bool {
	return s.evicted.Load()
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// offer never blocks; it reports false when the buffer is full
func (s *Subscriber) offer(event models.AuctionEvent) bool {
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}
