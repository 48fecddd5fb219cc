package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/viney-shih/goroutines"

	"auction-engine/internal/metrics"
	"auction-engine/internal/models"
	"auction-engine/utils"
)

// Sink is an external destination for state-changing events
type Sink interface {
	Name() string
	Publish(ctx context.Context, event models.AuctionEvent) error
	Close() error
}

// Options tunes a Hub
type Options struct {
	// SubscriberBuffer is the number of undelivered events a subscriber may
	// hold before it is evicted
	SubscriberBuffer int
	PoolSize         int
	SinkRetries      int
	SinkTimeout      time.Duration
	RetryBackoff     time.Duration
	Metrics          metrics.Service
}

func (o *Options) setDefaults() {
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.SinkRetries < 0 {
		o.SinkRetries = 0
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = 3 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NoOp{}
	}
}

type room struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

// Hub fans auction events out to in-process subscribers and external sinks.
// Publish, Join and Leave for one auction are expected to be called from that
// auction's owner goroutine; different auctions never contend on a room.
type Hub struct {
	opts  Options
	sinks []Sink
	pool  *goroutines.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	rooms  map[string]*room
	closed bool

	inflight sync.WaitGroup
}

// NewHub creates a hub delivering to the given sinks
func NewHub(opts Options, sinks ...Sink) *Hub {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		opts:   opts,
		sinks:  sinks,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
	}
	if len(sinks) > 0 {
		h.pool = goroutines.NewPool(opts.PoolSize,
			goroutines.WithTaskQueueLength(opts.PoolSize*64),
			goroutines.WithPreAllocWorkers(opts.PoolSize/2))
	}
	return h
}

func (h *Hub) room(auctionID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[auctionID]
}

// Join registers a new subscriber whose first event is the given snapshot.
// It returns the subscriber and the room's new participant count.
func (h *Hub) Join(snapshot models.Snapshot) (*Subscriber, int) {
	sub := newSubscriber(snapshot.AuctionID, h.opts.SubscriberBuffer)
	sub.offer(models.SnapshotEvent(snapshot))

	// the closed check and the insert share one critical section so Close
	// always sees the subscriber in the rooms it drains
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub, 0
	}
	r, ok := h.rooms[snapshot.AuctionID]
	if !ok {
		r = &room{subs: make(map[string]*Subscriber)}
		h.rooms[snapshot.AuctionID] = r
	}
	r.mu.Lock()
	r.subs[sub.ID] = sub
	n := len(r.subs)
	r.mu.Unlock()
	h.mu.Unlock()

	h.opts.Metrics.BumpSum("subscriber.join", 1)
	return sub, n
}

// Leave removes the subscriber and closes its stream. It reports the room's
// participant count and whether the subscriber was still registered.
func (h *Hub) Leave(sub *Subscriber) (int, bool) {
	defer sub.close()

	r := h.room(sub.AuctionID)
	if r == nil {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return len(r.subs), false
	}
	delete(r.subs, sub.ID)
	return len(r.subs), true
}

// Participants returns the number of subscribers in the auction's room
func (h *Hub) Participants(auctionID string) int {
	r := h.room(auctionID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Publish delivers event to every subscriber of its auction without blocking.
// Subscribers whose buffer is full are evicted; the number evicted is
// returned. State-changing events are also handed to the external sinks.
func (h *Hub) Publish(event models.AuctionEvent) int {
	evicted := 0
	if r := h.room(event.AuctionID); r != nil {
		r.mu.Lock()
		for id, sub := range r.subs {
			if sub.offer(event) {
				continue
			}
			delete(r.subs, id)
			sub.evicted.Store(true)
			sub.close()
			evicted++
			utils.Warn("broadcast: evicted lagging subscriber", map[string]any{
				"auction_id":    event.AuctionID,
				"subscriber_id": id,
				"event":         event.Type,
			})
		}
		r.mu.Unlock()
	}
	if evicted > 0 {
		h.opts.Metrics.BumpSum("subscriber.evicted", float64(evicted))
	}

	if event.StateChanging() {
		h.dispatch(event)
	}
	return evicted
}

func (h *Hub) dispatch(event models.AuctionEvent) {
	if h.pool == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for _, sink := range h.sinks {
		sink := sink
		h.inflight.Add(1)
		err := h.pool.ScheduleWithTimeout(h.opts.SinkTimeout, func() {
			defer h.inflight.Done()
			h.deliver(sink, event)
		})
		if err != nil {
			h.inflight.Done()
			h.opts.Metrics.BumpSum("sink.dropped", 1, "sink", sink.Name())
			utils.Error("broadcast: failed to schedule sink delivery", map[string]any{
				"sink":       sink.Name(),
				"auction_id": event.AuctionID,
				"event":      event.Type,
				"error":      err.Error(),
			})
		}
	}
}

// deliver publishes with retries; delivery is at-least-once
func (h *Hub) deliver(sink Sink, event models.AuctionEvent) {
	defer h.opts.Metrics.BumpTime("sink.time", "sink", sink.Name()).End()

	bo := newBackoff(h.opts.RetryBackoff, h.opts.SinkTimeout)
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(h.ctx, h.opts.SinkTimeout)
		err := sink.Publish(ctx, event)
		cancel()
		if err == nil {
			h.opts.Metrics.BumpSum("sink.delivered", 1, "sink", sink.Name())
			return
		}

		fields := map[string]any{
			"sink":       sink.Name(),
			"auction_id": event.AuctionID,
			"event":      event.Type,
			"attempt":    attempt + 1,
			"error":      err.Error(),
		}
		if attempt >= h.opts.SinkRetries {
			h.opts.Metrics.BumpSum("sink.err", 1, "sink", sink.Name())
			utils.Error("broadcast: sink delivery failed", fields)
			return
		}
		utils.Warn("broadcast: sink delivery failed, retrying", fields)
		if err := bo.wait(h.ctx); err != nil {
			return
		}
	}
}

// Close waits for in-flight sink deliveries, closes the sinks and ends every
// subscriber stream
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	h.inflight.Wait()
	h.cancel()
	if h.pool != nil {
		h.pool.Release()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(); err != nil {
			utils.Warn("broadcast: failed to close sink", map[string]any{"sink": sink.Name(), "error": err.Error()})
		}
	}

	for _, r := range rooms {
		r.mu.Lock()
		for id, sub := range r.subs {
			delete(r.subs, id)
			sub.close()
		}
		r.mu.Unlock()
	}
}
