package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/broadcast"
	"auction-engine/internal/ledger"
	"auction-engine/internal/metrics"
	"auction-engine/internal/models"
	"auction-engine/internal/timer"
	"auction-engine/utils"
)

// Config holds the bidding policy shared by every auction
type Config struct {
	ExtensionWindow time.Duration
	ExtensionGrace  time.Duration
	// ExtensionCap bounds how far past the scheduled end an auction may be
	// extended; zero means uncapped
	ExtensionCap    time.Duration
	AllowSelfOutbid bool
	CommandQueue    int
}

// DefaultConfig returns the standard anti-sniping policy
func DefaultConfig() Config {
	return Config{
		ExtensionWindow: 30 * time.Second,
		ExtensionGrace:  2 * time.Minute,
		CommandQueue:    256,
	}
}

// Recorder persists auction state and every bid decision
type Recorder interface {
	SaveAuction(auction models.Auction) error
	RecordBid(bid models.Bid) error
}

// DecisionCache remembers decisions by request id
type DecisionCache interface {
	Get(auctionID, bidderID, requestID string) (models.BidResult, bool, error)
	Put(auctionID, bidderID, requestID string, res models.BidResult) error
}

// Deps are the collaborators of an Actor. Clock, Hub and Recorder are required.
type Deps struct {
	Clock    clock.Clock
	Hub      *broadcast.Hub
	Recorder Recorder
	Cache    DecisionCache
	Metrics  metrics.Service
}

type commandKind int

const (
	cmdBid commandKind = iota
	cmdTransition
	cmdJoin
	cmdLeave
)

type command struct {
	ctx   context.Context
	kind  commandKind
	bid   models.BidRequest
	op    models.Command
	sub   *broadcast.Subscriber
	reply chan reply
}

type reply struct {
	result  models.BidResult
	auction models.Auction
	sub     *broadcast.Subscriber
	err     error
}

// state is the read-only copy published after every mutation
type state struct {
	auction   models.Auction
	remaining time.Duration
}

// Actor owns one auction. Every bid, auctioneer command, subscription and
// timer wakeup is applied by a single goroutine in arrival order.
type Actor struct {
	id    string
	cfg   Config
	deps  Deps
	clock clock.Clock
	hub   *broadcast.Hub

	commands chan command
	wakeups  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	published atomic.Pointer[state]

	// owned by the run goroutine
	auction   models.Auction
	ledger    *ledger.Ledger
	scheduler *timer.Scheduler
	remaining time.Duration
	lastStamp time.Time
	faulted   error
}

// New starts the actor for auction
func New(auction models.Auction, cfg Config, deps Deps) *Actor {
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = DefaultConfig().CommandQueue
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOp{}
	}

	a := &Actor{
		id:       auction.AuctionID,
		cfg:      cfg,
		deps:     deps,
		clock:    deps.Clock,
		hub:      deps.Hub,
		commands: make(chan command, cfg.CommandQueue),
		wakeups:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		auction:  auction,
		ledger:   ledger.New(auction.AuctionID, auction.StartingBid, auction.Increment),
	}
	a.auction.CurrentBid = auction.StartingBid
	a.auction.BidCount = 0
	a.auction.HighestBidderID = ""
	if a.auction.ActualEndTime.IsZero() {
		a.auction.ActualEndTime = auction.ScheduledEndTime
	}
	if a.auction.Status.IsTerminal() {
		a.ledger.Freeze()
	}
	a.scheduler = timer.NewScheduler(a.clock, func(time.Time) {
		select {
		case a.wakeups <- struct{}{}:
		default:
		}
	})
	a.publishState()

	go a.run()
	return a
}

// ID returns the auction id
func (a *Actor) ID() string {
	return a.id
}

func (a *Actor) run() {
	defer close(a.done)

	a.advance(a.clock.Now())
	for {
		select {
		case <-a.stop:
			a.scheduler.Cancel()
			return
		case <-a.wakeups:
			a.advance(a.clock.Now())
		case cmd := <-a.commands:
			if cmd.ctx.Err() != nil {
				// the caller gave up before the command was dequeued
				a.deps.Metrics.BumpSum("command.dropped", 1)
				continue
			}
			cmd.reply <- a.handle(cmd)
		}
	}
}

func (a *Actor) handle(cmd command) reply {
	switch cmd.kind {
	case cmdBid:
		return a.handleBid(cmd.bid)
	case cmdTransition:
		return a.handleTransition(cmd.op)
	case cmdJoin:
		a.advance(a.clock.Now())
		sub, n := a.hub.Join(a.Snapshot())
		a.publish(models.ParticipantCountEvent(a.id, n, a.clock.Now()))
		return reply{sub: sub}
	case cmdLeave:
		if n, ok := a.hub.Leave(cmd.sub); ok {
			a.publish(models.ParticipantCountEvent(a.id, n, a.clock.Now()))
		}
		return reply{}
	}
	return reply{err: fmt.Errorf("auction %s: unknown command %d", a.id, cmd.kind)}
}

// send enqueues cmd and waits for its reply
func (a *Actor) send(ctx context.Context, cmd command) (reply, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan reply, 1)

	select {
	case a.commands <- cmd:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-a.stop:
		return reply{}, fmt.Errorf("auction %s: %w", a.id, biddingerrors.ErrEngineClosed)
	}

	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-ctx.Done():
		if cmd.kind == cmdJoin {
			go a.releaseAbandoned(cmd.reply)
		}
		return reply{}, ctx.Err()
	case <-a.done:
		return reply{}, fmt.Errorf("auction %s: %w", a.id, biddingerrors.ErrEngineClosed)
	}
}

// releaseAbandoned removes a subscriber whose caller stopped waiting
func (a *Actor) releaseAbandoned(replies <-chan reply) {
	select {
	case r := <-replies:
		if r.sub != nil {
			a.Leave(r.sub)
		}
	case <-a.done:
	}
}

// Submit decides a bid. Rejections are reported in the result, not as errors.
func (a *Actor) Submit(ctx context.Context, req models.BidRequest) (models.BidResult, error) {
	r, err := a.send(ctx, command{kind: cmdBid, bid: req})
	return r.result, err
}

// Transition applies an auctioneer command and returns the resulting auction
func (a *Actor) Transition(ctx context.Context, op models.Command) (models.Auction, error) {
	r, err := a.send(ctx, command{kind: cmdTransition, op: op})
	return r.auction, err
}

// Join subscribes to the auction. The first event is always a snapshot.
func (a *Actor) Join(ctx context.Context) (*broadcast.Subscriber, error) {
	r, err := a.send(ctx, command{kind: cmdJoin})
	return r.sub, err
}

// Leave unsubscribes sub and closes its stream
func (a *Actor) Leave(sub *broadcast.Subscriber) {
	if _, err := a.send(context.Background(), command{kind: cmdLeave, sub: sub}); err != nil {
		a.hub.Leave(sub)
	}
}

// Stop ends the actor goroutine and cancels its timer. Pending callers get
// ErrEngineClosed.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

// Auction returns the last published auction state
func (a *Actor) Auction() models.Auction {
	return a.published.Load().auction
}

// Bids returns the accepted bids in acceptance order
func (a *Actor) Bids() []models.Bid {
	return a.ledger.Bids()
}

// Highest returns the winning bid so far
func (a *Actor) Highest() (models.Bid, bool) {
	return a.ledger.Highest()
}

// Snapshot returns a consistent view of the auction without going through
// the command queue
func (a *Actor) Snapshot() models.Snapshot {
	st := a.published.Load()
	now := a.clock.Now()
	auc := st.auction

	var remaining time.Duration
	switch auc.Status {
	case models.StatusUpcoming:
		remaining = timer.RemainingUntil(a.clock, auc.StartTime)
	case models.StatusLive:
		remaining = timer.RemainingUntil(a.clock, auc.ActualEndTime)
	case models.StatusPaused:
		remaining = st.remaining
	}

	minNext := auc.CurrentBid.Add(auc.Increment)
	return models.Snapshot{
		AuctionID:     auc.AuctionID,
		Status:        auc.Status,
		CurrentPrice:  auc.CurrentBid,
		MinNextBid:    minNext,
		SuggestedBids: SuggestedBids(auc.CurrentBid, auc.Increment),
		EndTime:       auc.ActualEndTime,
		BidCount:      auc.BidCount,
		Participants:  a.hub.Participants(a.id),
		RemainingMs:   remaining.Milliseconds(),
		Countdown:     timer.Breakdown(remaining),
		Auction:       auc,
		TakenAt:       now,
	}
}

// SuggestedBids returns the quick-bid amounts offered to bidders
func SuggestedBids(current, increment models.Money) []models.Money {
	steps := []int64{1, 2, 5, 10}
	out := make([]models.Money, len(steps))
	for i, n := range steps {
		out[i] = current.Add(increment.Times(n))
	}
	return out
}

func (a *Actor) handleBid(req models.BidRequest) reply {
	defer a.deps.Metrics.BumpTime("bid.time").End()

	if a.faulted != nil {
		return reply{err: fmt.Errorf("auction %s: %v: %w", a.id, a.faulted, biddingerrors.ErrAuctionFaulted)}
	}

	if req.RequestID != "" && a.deps.Cache != nil {
		res, ok, err := a.deps.Cache.Get(a.id, req.BidderID, req.RequestID)
		if err != nil {
			utils.Warn("auction: idempotency lookup failed", map[string]any{"auction_id": a.id, "request_id": req.RequestID, "error": err.Error()})
		} else if ok {
			a.deps.Metrics.BumpSum("bid.replayed", 1)
			return reply{result: res}
		}
	}

	if !req.Amount.Valid() {
		return reply{err: fmt.Errorf("auction %s: amount %d out of range: %w", a.id, int64(req.Amount), biddingerrors.ErrInvalidBid)}
	}

	now := a.stamp()
	a.advance(now)

	bid := models.Bid{
		BidID:       utils.GenerateID(),
		AuctionID:   a.id,
		BidderID:    req.BidderID,
		Amount:      req.Amount,
		SubmittedAt: now,
	}

	var reason models.RejectReason
	switch {
	case a.auction.Status != models.StatusLive:
		reason = models.ReasonAuctionNotLive
	case a.ledger.Exhausted() || bid.Amount < a.ledger.MinimumNext():
		reason = models.ReasonBidTooLow
	case !a.cfg.AllowSelfOutbid && a.auction.HighestBidderID == bid.BidderID:
		reason = models.ReasonAlreadyHighestBidder
	}

	var res models.BidResult
	if reason != "" {
		bid.Outcome = models.OutcomeRejected
		bid.Reason = reason
		a.recordBid(bid)
		res = models.BidResult{Outcome: models.OutcomeRejected, Reason: reason, CurrentPrice: a.ledger.CurrentPrice(), Bid: bid}
	} else {
		bid.Outcome = models.OutcomeAccepted
		recorded, err := a.ledger.Append(bid)
		if err != nil {
			a.fault(err)
			return reply{err: fmt.Errorf("auction %s: %v: %w", a.id, err, biddingerrors.ErrAuctionFaulted)}
		}
		a.accept(recorded)
		res = models.BidResult{Outcome: models.OutcomeAccepted, CurrentPrice: recorded.Amount, Bid: recorded}
	}

	a.deps.Metrics.BumpSum("bid.count", 1, "outcome", string(res.Outcome), "reason", string(res.Reason))
	if req.RequestID != "" && a.deps.Cache != nil {
		if err := a.deps.Cache.Put(a.id, req.BidderID, req.RequestID, res); err != nil {
			utils.Warn("auction: failed to remember decision", map[string]any{"auction_id": a.id, "request_id": req.RequestID, "error": err.Error()})
		}
	}
	return reply{result: res}
}

func (a *Actor) accept(bid models.Bid) {
	a.auction.CurrentBid = bid.Amount
	a.auction.BidCount = a.ledger.Len()
	a.auction.HighestBidderID = bid.BidderID

	a.recordBid(bid)
	a.publish(models.BidAcceptedEvent(bid, a.auction.BidCount))
	a.extend(bid.SubmittedAt)
	a.saveAuction()
}

// extend applies the anti-sniping rule for a bid accepted at t
func (a *Actor) extend(t time.Time) {
	if !a.auction.AutoExtend {
		return
	}
	end := a.auction.ActualEndTime
	if t.Before(end.Add(-a.cfg.ExtensionWindow)) {
		return
	}

	newEnd := t.Add(a.cfg.ExtensionGrace)
	if a.cfg.ExtensionCap > 0 {
		if limit := a.auction.ScheduledEndTime.Add(a.cfg.ExtensionCap); newEnd.After(limit) {
			newEnd = limit
		}
	}
	if !newEnd.After(end) {
		return
	}

	a.auction.ActualEndTime = newEnd
	a.scheduler.Schedule(newEnd)
	a.deps.Metrics.BumpSum("auction.extended", 1)
	a.publish(models.TimeExtendedEvent(a.id, newEnd, t))
}

func (a *Actor) handleTransition(op models.Command) reply {
	now := a.clock.Now()
	a.advance(now)

	from := a.auction.Status
	invalid := func() reply {
		return reply{err: fmt.Errorf("auction %s: %s while %s: %w", a.id, op, from, biddingerrors.ErrInvalidTransition)}
	}

	switch op {
	case models.CommandStart:
		if from != models.StatusUpcoming {
			return invalid()
		}
		if !a.auction.ActualEndTime.After(now) {
			return reply{err: fmt.Errorf("auction %s: end time %s already passed: %w", a.id, a.auction.ActualEndTime.Format(time.RFC3339), biddingerrors.ErrInvalidTransition)}
		}
		a.setStatus(models.StatusLive, now)
	case models.CommandPause:
		if from != models.StatusLive {
			return invalid()
		}
		a.remaining = timer.RemainingUntil(a.clock, a.auction.ActualEndTime)
		a.setStatus(models.StatusPaused, now)
	case models.CommandResume:
		if from != models.StatusPaused {
			return invalid()
		}
		a.setStatus(models.StatusLive, now)
		if newEnd := now.Add(a.remaining); !newEnd.Equal(a.auction.ActualEndTime) {
			a.auction.ActualEndTime = newEnd
			a.publish(models.TimeExtendedEvent(a.id, newEnd, now))
		}
		a.remaining = 0
	case models.CommandClose:
		if from != models.StatusLive && from != models.StatusPaused {
			return invalid()
		}
		a.setStatus(models.StatusEnded, now)
	case models.CommandCancel:
		if from.IsTerminal() {
			return invalid()
		}
		a.setStatus(models.StatusCancelled, now)
	default:
		return reply{err: fmt.Errorf("auction %s: unknown command %q: %w", a.id, op, biddingerrors.ErrInvalidTransition)}
	}

	a.deps.Metrics.BumpSum("auction.transition", 1, "command", string(op))
	a.arm()
	a.saveAuction()
	return reply{auction: a.auction}
}

// advance applies the clock-driven transitions that are due at now
func (a *Actor) advance(now time.Time) {
	changed := false
	if a.auction.Status == models.StatusUpcoming && !now.Before(a.auction.StartTime) {
		a.setStatus(models.StatusLive, now)
		changed = true
	}
	if a.auction.Status == models.StatusLive && !now.Before(a.auction.ActualEndTime) {
		a.setStatus(models.StatusEnded, now)
		changed = true
	}
	a.arm()
	if changed {
		a.saveAuction()
	}
}

// arm points the scheduler at the next clock-driven transition
func (a *Actor) arm() {
	switch a.auction.Status {
	case models.StatusUpcoming:
		a.scheduler.Schedule(a.auction.StartTime)
	case models.StatusLive:
		a.scheduler.Schedule(a.auction.ActualEndTime)
	default:
		a.scheduler.Cancel()
	}
}

func (a *Actor) setStatus(to models.AuctionStatus, now time.Time) {
	from := a.auction.Status
	a.auction.Status = to
	if to.IsTerminal() {
		ended := now
		a.auction.EndedAt = &ended
		a.ledger.Freeze()
	}
	utils.Info("auction: status changed", map[string]any{"auction_id": a.id, "from": from, "to": to})
	a.publish(models.StatusChangedEvent(a.id, from, to, now))
}

func (a *Actor) fault(err error) {
	a.faulted = err
	a.deps.Metrics.BumpSum("fault", 1)
	utils.Error("auction: ledger invariant violated, auction faulted", map[string]any{
		"auction_id": a.id,
		"error":      err.Error(),
		"frozen":     errors.Is(err, biddingerrors.ErrLedgerFrozen),
	})
}

// stamp returns a submission time strictly after the previous one
func (a *Actor) stamp() time.Time {
	now := a.clock.Now()
	if !now.After(a.lastStamp) {
		now = a.lastStamp.Add(time.Nanosecond)
	}
	a.lastStamp = now
	return now
}

func (a *Actor) publish(event models.AuctionEvent) {
	a.publishState()
	if a.hub.Publish(event) > 0 && event.Type != models.EventParticipantChanged {
		a.hub.Publish(models.ParticipantCountEvent(a.id, a.hub.Participants(a.id), event.OccurredAt))
	}
}

func (a *Actor) publishState() {
	a.published.Store(&state{auction: a.auction, remaining: a.remaining})
}

func (a *Actor) saveAuction() {
	a.publishState()
	if err := a.deps.Recorder.SaveAuction(a.auction); err != nil {
		utils.Error("auction: failed to save auction", map[string]any{"auction_id": a.id, "error": err.Error()})
	}
}

func (a *Actor) recordBid(bid models.Bid) {
	if err := a.deps.Recorder.RecordBid(bid); err != nil {
		utils.Error("auction: failed to record bid", map[string]any{"auction_id": a.id, "bid_id": bid.BidID, "error": err.Error()})
	}
}
