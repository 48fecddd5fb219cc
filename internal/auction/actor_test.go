package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/broadcast"
	"auction-engine/internal/idempotency"
	"auction-engine/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	mu       sync.Mutex
	auctions map[string]models.Auction
	bids     []models.Bid
}

func newMemRecorder() *memRecorder {
	return &memRecorder{auctions: make(map[string]models.Auction)}
}

func (m *memRecorder) SaveAuction(a models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.AuctionID] = a
	return nil
}

func (m *memRecorder) RecordBid(b models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids = append(m.bids, b)
	return nil
}

func (m *memRecorder) accepted() []models.Bid {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Bid
	for _, b := range m.bids {
		if b.Outcome == models.OutcomeAccepted {
			out = append(out, b)
		}
	}
	return out
}

type fixture struct {
	clock    *clock.Mock
	hub      *broadcast.Hub
	recorder *memRecorder
	actor    *Actor
}

func liveAuction(clk clock.Clock, starting, increment int64, endIn time.Duration) models.Auction {
	now := clk.Now()
	return models.Auction{
		AuctionID:        "auction1",
		Title:            "Pintura al óleo",
		Status:           models.StatusUpcoming,
		StartingBid:      models.FromMajor(starting),
		Increment:        models.FromMajor(increment),
		StartTime:        now.Add(-time.Minute),
		ScheduledEndTime: now.Add(endIn),
		AutoExtend:       true,
	}
}

func newFixture(t *testing.T, cfg Config, build func(clock.Clock) models.Auction, opts ...func(*Deps)) *fixture {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC))
	f := &fixture{
		clock:    clk,
		hub:      broadcast.NewHub(broadcast.Options{SubscriberBuffer: 64}),
		recorder: newMemRecorder(),
	}
	deps := Deps{Clock: clk, Hub: f.hub, Recorder: f.recorder}
	for _, opt := range opts {
		opt(&deps)
	}
	f.actor = New(build(clk), cfg, deps)
	t.Cleanup(func() {
		f.actor.Stop()
		f.hub.Close()
	})
	return f
}

func bid(bidder string, amount int64) models.BidRequest {
	return models.BidRequest{AuctionID: "auction1", BidderID: bidder, Amount: models.FromMajor(amount)}
}

func submit(t *testing.T, a *Actor, req models.BidRequest) models.BidResult {
	t.Helper()
	res, err := a.Submit(context.Background(), req)
	require.NoError(t, err)
	return res
}

func nextEvent(t *testing.T, sub *broadcast.Subscriber) models.AuctionEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscriber stream closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.AuctionEvent{}
}

func TestActor_MinimumIncrement(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 5000, 500, time.Hour)
	})

	res := submit(t, f.actor, bid("user1", 5400))
	require.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Equal(t, models.ReasonBidTooLow, res.Reason)
	require.Equal(t, models.FromMajor(5000), res.CurrentPrice)

	res = submit(t, f.actor, bid("user1", 5500))
	require.True(t, res.Accepted())
	require.Equal(t, models.FromMajor(5500), res.CurrentPrice)
	require.Equal(t, 1, res.Bid.Sequence)

	res = submit(t, f.actor, bid("user2", 5500))
	require.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Equal(t, models.ReasonBidTooLow, res.Reason)
	require.Equal(t, models.FromMajor(5500), res.CurrentPrice)

	snap := f.actor.Snapshot()
	require.Equal(t, models.FromMajor(5500), snap.CurrentPrice)
	require.Equal(t, models.FromMajor(6000), snap.MinNextBid)
	require.Equal(t, 1, snap.BidCount)
	require.Equal(t, []models.Money{
		models.FromMajor(6000), models.FromMajor(6500), models.FromMajor(8000), models.FromMajor(10500),
	}, snap.SuggestedBids)

	f.recorder.mu.Lock()
	require.Len(t, f.recorder.bids, 3, "every decision is archived")
	f.recorder.mu.Unlock()
}

func TestActor_PriceCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 5000, 500, time.Hour)
	})

	top := models.BidRequest{AuctionID: "auction1", BidderID: "user1", Amount: models.MaxAmount}
	res := submit(t, f.actor, top)
	require.True(t, res.Accepted())

	// with the price at the ceiling, the next minimum is unreachable
	res = submit(t, f.actor, models.BidRequest{AuctionID: "auction1", BidderID: "user2", Amount: 1})
	require.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Equal(t, models.ReasonBidTooLow, res.Reason)
	require.Equal(t, models.MaxAmount, res.CurrentPrice)

	res = submit(t, f.actor, models.BidRequest{AuctionID: "auction1", BidderID: "user2", Amount: models.MaxAmount})
	require.Equal(t, models.ReasonBidTooLow, res.Reason)

	_, err := f.actor.Submit(context.Background(), models.BidRequest{AuctionID: "auction1", BidderID: "user3", Amount: models.MaxAmount + 1})
	require.ErrorIs(t, err, biddingerrors.ErrInvalidBid)

	snap := f.actor.Snapshot()
	require.Equal(t, 1, snap.BidCount)
	require.Equal(t, models.MaxAmount, snap.CurrentPrice)
	require.Greater(t, snap.MinNextBid, models.MaxAmount)
}

func TestActor_AutoExtension(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 5000, 500, 10*time.Minute)
	})
	end := f.actor.Auction().ActualEndTime

	// outside the window: no extension
	f.clock.Add(5 * time.Minute)
	require.True(t, submit(t, f.actor, bid("user1", 5500)).Accepted())
	require.Equal(t, end, f.actor.Auction().ActualEndTime)

	// T-10s with a 30s window and 120s grace
	f.clock.Add(5*time.Minute - 10*time.Second)
	res := submit(t, f.actor, bid("user2", 6000))
	require.True(t, res.Accepted())
	extended := f.actor.Auction().ActualEndTime
	require.Equal(t, res.Bid.SubmittedAt.Add(2*time.Minute), extended)
	require.True(t, extended.After(end))

	// an earlier-ending extension never shortens the auction
	before := extended
	f.clock.Add(time.Second)
	require.True(t, submit(t, f.actor, bid("user1", 6500)).Accepted())
	require.False(t, f.actor.Auction().ActualEndTime.Before(before))

	// the old deadline has no effect any more
	f.clock.Add(10 * time.Second)
	require.Equal(t, models.StatusLive, f.actor.Auction().Status)

	f.clock.Add(3 * time.Minute)
	require.Eventually(t, func() bool {
		return f.actor.Auction().Status == models.StatusEnded
	}, time.Second, time.Millisecond)
}

func TestActor_AutoExtensionCap(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ExtensionCap = 30 * time.Second
	f := newFixture(t, cfg, func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, time.Minute)
	})
	scheduled := f.actor.Auction().ScheduledEndTime

	f.clock.Add(50 * time.Second)
	require.True(t, submit(t, f.actor, bid("user1", 110)).Accepted())
	require.Equal(t, scheduled.Add(30*time.Second), f.actor.Auction().ActualEndTime)

	f.clock.Add(30 * time.Second)
	require.True(t, submit(t, f.actor, bid("user2", 120)).Accepted())
	require.Equal(t, scheduled.Add(30*time.Second), f.actor.Auction().ActualEndTime, "capped end never moves")
}

func TestActor_NoExtensionWhenDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		a := liveAuction(clk, 100, 10, time.Minute)
		a.AutoExtend = false
		return a
	})
	end := f.actor.Auction().ActualEndTime

	f.clock.Add(55 * time.Second)
	require.True(t, submit(t, f.actor, bid("user1", 110)).Accepted())
	require.Equal(t, end, f.actor.Auction().ActualEndTime)
}

func TestActor_ArrivalOrderDecides(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 5000, 500, time.Hour)
	})
	require.True(t, submit(t, f.actor, bid("user0", 5500)).Accepted())

	first := submit(t, f.actor, bid("user1", 6000))
	second := submit(t, f.actor, bid("user2", 6200))
	require.True(t, first.Accepted())
	require.Equal(t, models.ReasonBidTooLow, second.Reason)
	require.Equal(t, models.FromMajor(6000), second.CurrentPrice)
}

func TestActor_SimultaneousBidsSettleOnePriceLevel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 5000, 500, time.Hour)
	})
	require.True(t, submit(t, f.actor, bid("user0", 5500)).Accepted())

	var wg sync.WaitGroup
	results := make([]models.BidResult, 2)
	for i, amount := range []int64{6000, 6200} {
		wg.Add(1)
		go func(i int, amount int64) {
			defer wg.Done()
			results[i] = submit(t, f.actor, bid(fmt.Sprintf("user%d", i+1), amount))
		}(i, amount)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.Accepted() {
			accepted++
		} else {
			require.Equal(t, models.ReasonBidTooLow, r.Reason)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 2, f.actor.Auction().BidCount)
}

func TestActor_NoLostUpdates(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AllowSelfOutbid = true
	f := newFixture(t, cfg, func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 1, time.Hour)
	})

	const bidders = 20
	const perBidder = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < perBidder; {
				amount := f.actor.Snapshot().MinNextBid
				res, err := f.actor.Submit(context.Background(), models.BidRequest{
					AuctionID: "auction1",
					BidderID:  fmt.Sprintf("user%d", i),
					Amount:    amount,
				})
				if err != nil {
					t.Error(err)
					return
				}
				if res.Accepted() {
					n++
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, bidders*perBidder, accepted)
	bids := f.actor.Bids()
	require.Len(t, bids, accepted)
	require.Len(t, f.recorder.accepted(), accepted)
	for i := 1; i < len(bids); i++ {
		require.GreaterOrEqual(t, bids[i].Amount, bids[i-1].Amount.Add(models.FromMajor(1)))
		require.True(t, bids[i].SubmittedAt.After(bids[i-1].SubmittedAt))
	}
	require.Equal(t, bids[len(bids)-1].Amount, f.actor.Auction().CurrentBid)
}

func TestActor_SelfOutbidPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		allow bool
		want  models.BidOutcome
	}{
		{name: "rejected_by_default", allow: false, want: models.OutcomeRejected},
		{name: "allowed_when_configured", allow: true, want: models.OutcomeAccepted},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.AllowSelfOutbid = tc.allow
			f := newFixture(t, cfg, func(clk clock.Clock) models.Auction {
				return liveAuction(clk, 100, 10, time.Hour)
			})

			require.True(t, submit(t, f.actor, bid("user1", 110)).Accepted())
			res := submit(t, f.actor, bid("user1", 200))
			require.Equal(t, tc.want, res.Outcome)
			if !tc.allow {
				require.Equal(t, models.ReasonAlreadyHighestBidder, res.Reason)
			}
		})
	}
}

func TestActor_ClockDrivenLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		now := clk.Now()
		return models.Auction{
			AuctionID:        "auction1",
			Status:           models.StatusUpcoming,
			StartingBid:      models.FromMajor(25000),
			Increment:        models.FromMajor(1000),
			StartTime:        now.Add(time.Hour),
			ScheduledEndTime: now.Add(2 * time.Hour),
		}
	})

	sub, err := f.actor.Join(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.EventSnapshot, nextEvent(t, sub).Type)
	require.Equal(t, models.EventParticipantChanged, nextEvent(t, sub).Type)

	res := submit(t, f.actor, bid("user1", 26000))
	require.Equal(t, models.ReasonAuctionNotLive, res.Reason)

	f.clock.Add(time.Hour)
	ev := nextEvent(t, sub)
	require.Equal(t, models.EventStatusChanged, ev.Type)
	require.Equal(t, models.StatusUpcoming, ev.From)
	require.Equal(t, models.StatusLive, ev.To)

	require.True(t, submit(t, f.actor, bid("user1", 26000)).Accepted())
	require.Equal(t, models.EventBidAccepted, nextEvent(t, sub).Type)

	f.clock.Add(time.Hour)
	ev = nextEvent(t, sub)
	require.Equal(t, models.EventStatusChanged, ev.Type)
	require.Equal(t, models.StatusEnded, ev.To)

	a := f.actor.Auction()
	require.NotNil(t, a.EndedAt)
	require.Equal(t, "user1", a.HighestBidderID)

	res = submit(t, f.actor, bid("user2", 50000))
	require.Equal(t, models.ReasonAuctionNotLive, res.Reason)
}

func TestActor_LateBidBeforeWakeupIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		a := liveAuction(clk, 100, 10, time.Minute)
		a.AutoExtend = false
		return a
	})

	// the end wakeup and the bid race; the bid must see the auction ended either way
	f.clock.Set(f.clock.Now().Add(2 * time.Minute))
	res := submit(t, f.actor, bid("user1", 110))
	require.Equal(t, models.ReasonAuctionNotLive, res.Reason)
	require.Equal(t, models.StatusEnded, f.actor.Auction().Status)
}

func TestActor_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ops     []models.Command
		want    models.AuctionStatus
		wantErr error
	}{
		{name: "pause", ops: []models.Command{models.CommandPause}, want: models.StatusPaused},
		{name: "pause_resume", ops: []models.Command{models.CommandPause, models.CommandResume}, want: models.StatusLive},
		{name: "close_live", ops: []models.Command{models.CommandClose}, want: models.StatusEnded},
		{name: "close_paused", ops: []models.Command{models.CommandPause, models.CommandClose}, want: models.StatusEnded},
		{name: "cancel", ops: []models.Command{models.CommandCancel}, want: models.StatusCancelled},
		{name: "start_when_live", ops: []models.Command{models.CommandStart}, wantErr: biddingerrors.ErrInvalidTransition},
		{name: "resume_when_live", ops: []models.Command{models.CommandResume}, wantErr: biddingerrors.ErrInvalidTransition},
		{name: "cancel_after_close", ops: []models.Command{models.CommandClose, models.CommandCancel}, wantErr: biddingerrors.ErrInvalidTransition},
		{name: "resume_after_cancel", ops: []models.Command{models.CommandCancel, models.CommandResume}, wantErr: biddingerrors.ErrInvalidTransition},
		{name: "unknown", ops: []models.Command{"explode"}, wantErr: biddingerrors.ErrInvalidTransition},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
				return liveAuction(clk, 100, 10, time.Hour)
			})

			var err error
			var got models.Auction
			for _, op := range tc.ops {
				got, err = f.actor.Transition(context.Background(), op)
				if err != nil {
					break
				}
			}
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr), "expected error: %v, got: %v", tc.wantErr, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got.Status)
		})
	}
}

func TestActor_PauseFreezesRemainingTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, 10*time.Minute)
	})

	f.clock.Add(4 * time.Minute)
	_, err := f.actor.Transition(context.Background(), models.CommandPause)
	require.NoError(t, err)
	require.Equal(t, (6 * time.Minute).Milliseconds(), f.actor.Snapshot().RemainingMs)

	res := submit(t, f.actor, bid("user1", 110))
	require.Equal(t, models.ReasonAuctionNotLive, res.Reason)

	// time passing while paused neither ends the auction nor eats the remaining time
	f.clock.Add(30 * time.Minute)
	require.Equal(t, models.StatusPaused, f.actor.Auction().Status)
	require.Equal(t, (6 * time.Minute).Milliseconds(), f.actor.Snapshot().RemainingMs)

	resumed, err := f.actor.Transition(context.Background(), models.CommandResume)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Add(6*time.Minute), resumed.ActualEndTime)

	f.clock.Add(6 * time.Minute)
	require.Eventually(t, func() bool {
		return f.actor.Auction().Status == models.StatusEnded
	}, time.Second, time.Millisecond)
}

func TestActor_TerminalStatesRejectBids(t *testing.T) {
	t.Parallel()

	for _, op := range []models.Command{models.CommandClose, models.CommandCancel} {
		op := op
		t.Run(string(op), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
				return liveAuction(clk, 100, 10, time.Hour)
			})
			require.True(t, submit(t, f.actor, bid("user1", 110)).Accepted())

			_, err := f.actor.Transition(context.Background(), op)
			require.NoError(t, err)

			for i := 0; i < 5; i++ {
				res := submit(t, f.actor, bid("user2", 1000+int64(i)*100))
				require.Equal(t, models.ReasonAuctionNotLive, res.Reason)
			}
			require.Len(t, f.actor.Bids(), 1)
			require.Equal(t, models.FromMajor(110), f.actor.Auction().CurrentBid)
		})
	}
}

func TestActor_IdempotentRequests(t *testing.T) {
	t.Parallel()

	cache := idempotency.New(1, time.Minute)
	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, time.Hour)
	}, func(d *Deps) { d.Cache = cache })

	req := bid("user1", 110)
	req.RequestID = "req-1"
	first := submit(t, f.actor, req)
	require.True(t, first.Accepted())

	again := submit(t, f.actor, req)
	require.Equal(t, first.Bid.BidID, again.Bid.BidID)
	require.True(t, again.Accepted())
	require.Len(t, f.actor.Bids(), 1)

	other := bid("user2", 110)
	other.RequestID = "req-1"
	res := submit(t, f.actor, other)
	require.Equal(t, models.ReasonBidTooLow, res.Reason)
}

func TestActor_CancelledSubmissionIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, time.Hour)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.actor.Submit(ctx, bid("user1", 110))
	require.ErrorIs(t, err, context.Canceled)

	// a later synchronous bid flushes the queue
	require.True(t, submit(t, f.actor, bid("user2", 110)).Accepted())
	bids := f.actor.Bids()
	require.Len(t, bids, 1)
	require.Equal(t, "user2", bids[0].BidderID)
}

func TestActor_FaultedAuctionRefusesBids(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, time.Hour)
	})

	// a ledger frozen behind the actor's back breaks the append invariant
	f.actor.ledger.Freeze()

	_, err := f.actor.Submit(context.Background(), bid("user1", 110))
	require.ErrorIs(t, err, biddingerrors.ErrAuctionFaulted)

	_, err = f.actor.Submit(context.Background(), bid("user2", 500))
	require.ErrorIs(t, err, biddingerrors.ErrAuctionFaulted)
}

func TestActor_SubscribersSeeParticipantCounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, time.Hour)
	})

	first, err := f.actor.Join(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.EventSnapshot, nextEvent(t, first).Type)
	ev := nextEvent(t, first)
	require.Equal(t, 1, *ev.Count)

	second, err := f.actor.Join(context.Background())
	require.NoError(t, err)
	snap := nextEvent(t, second)
	require.Equal(t, models.EventSnapshot, snap.Type)
	require.Equal(t, 1, snap.Snapshot.Participants)
	require.Equal(t, 2, *nextEvent(t, first).Count)

	f.actor.Leave(second)
	require.Equal(t, 1, *nextEvent(t, first).Count)
	require.Equal(t, 1, f.actor.Snapshot().Participants)
}

func TestActor_StopUnblocksCallers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), func(clk clock.Clock) models.Auction {
		return liveAuction(clk, 100, 10, time.Hour)
	})
	f.actor.Stop()

	_, err := f.actor.Submit(context.Background(), bid("user1", 110))
	require.ErrorIs(t, err, biddingerrors.ErrEngineClosed)
}
