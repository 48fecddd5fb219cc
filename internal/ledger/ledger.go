package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
)

// view is an immutable window over the accepted bids. Entries below len(bids)
// are never written again, so a published view can be read without locking.
type view struct {
	bids   []models.Bid
	frozen bool
}

// Ledger is the append-only record of accepted bids for one auction
type Ledger struct {
	auctionID   string
	startingBid models.Money
	increment   models.Money

	mu      sync.Mutex // serializes Append and Freeze
	backing []models.Bid
	current atomic.Pointer[view]
}

// New creates an empty ledger for an auction
func New(auctionID string, startingBid, increment models.Money) *Ledger {
	l := &Ledger{
		auctionID:   auctionID,
		startingBid: startingBid,
		increment:   increment,
	}
	l.current.Store(&view{})
	return l
}

// CurrentPrice returns the last accepted amount, or the starting bid when empty
func (l *Ledger) CurrentPrice() models.Money {
	v := l.current.Load()
	if n := len(v.bids); n > 0 {
		return v.bids[n-1].Amount
	}
	return l.startingBid
}

// MinimumNext is the lowest amount Append will take. Once it passes
// models.MaxAmount no further bid can be accepted.
func (l *Ledger) MinimumNext() models.Money {
	return l.CurrentPrice().Add(l.increment)
}

// Exhausted reports whether the price has reached the point where no valid
// amount can meet the next minimum
func (l *Ledger) Exhausted() bool {
	return l.MinimumNext() > models.MaxAmount
}

// Len returns the number of accepted bids
func (l *Ledger) Len() int {
	return len(l.current.Load().bids)
}

// Highest returns the last accepted bid
func (l *Ledger) Highest() (models.Bid, bool) {
	v := l.current.Load()
	if len(v.bids) == 0 {
		return models.Bid{}, false
	}
	return v.bids[len(v.bids)-1], true
}

// Bids returns a copy of the accepted bids in acceptance order
func (l *Ledger) Bids() []models.Bid {
	v := l.current.Load()
	return append([]models.Bid(nil), v.bids...)
}

// Frozen reports whether the ledger has become read-only
func (l *Ledger) Frozen() bool {
	return l.current.Load().frozen
}

// Append records an accepted bid and returns it with its ledger sequence set.
// The amount must reach the current price plus the increment; anything else
// is an ordering violation.
func (l *Ledger) Append(bid models.Bid) (models.Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.current.Load()
	if v.frozen {
		return models.Bid{}, fmt.Errorf("ledger %s: append %s: %w", l.auctionID, bid.BidID, biddingerrors.ErrLedgerFrozen)
	}
	if bid.AuctionID != l.auctionID {
		return models.Bid{}, fmt.Errorf("ledger %s: bid %s belongs to auction %s: %w", l.auctionID, bid.BidID, bid.AuctionID, biddingerrors.ErrOrderingViolation)
	}
	if bid.Outcome != models.OutcomeAccepted {
		return models.Bid{}, fmt.Errorf("ledger %s: bid %s has outcome %q: %w", l.auctionID, bid.BidID, bid.Outcome, biddingerrors.ErrOrderingViolation)
	}

	if !bid.Amount.Valid() {
		return models.Bid{}, fmt.Errorf("ledger %s: bid %s amount %d out of range: %w", l.auctionID, bid.BidID, int64(bid.Amount), biddingerrors.ErrOrderingViolation)
	}
	minimum := l.MinimumNext()
	if minimum > models.MaxAmount {
		return models.Bid{}, fmt.Errorf("ledger %s: bid %s: no amount can exceed the current price: %w", l.auctionID, bid.BidID, biddingerrors.ErrOrderingViolation)
	}
	if bid.Amount < minimum {
		return models.Bid{}, fmt.Errorf("ledger %s: bid %s amount %s below minimum %s: %w", l.auctionID, bid.BidID, bid.Amount, minimum, biddingerrors.ErrOrderingViolation)
	}
	if n := len(v.bids); n > 0 && !bid.SubmittedAt.After(v.bids[n-1].SubmittedAt) {
		return models.Bid{}, fmt.Errorf("ledger %s: bid %s submitted out of order: %w", l.auctionID, bid.BidID, biddingerrors.ErrOrderingViolation)
	}

	bid.Sequence = len(v.bids) + 1
	l.backing = append(l.backing, bid)
	n := len(l.backing)
	l.current.Store(&view{bids: l.backing[:n:n]})
	return bid, nil
}

// Freeze makes the ledger read-only. It is idempotent.
func (l *Ledger) Freeze() {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.current.Load()
	if v.frozen {
		return
	}
	l.current.Store(&view{bids: v.bids, frozen: true})
}
