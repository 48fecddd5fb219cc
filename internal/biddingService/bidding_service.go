package bidding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"auction-engine/internal/auction"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/broadcast"
	"auction-engine/internal/metrics"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
)

// Config holds the service level settings
type Config struct {
	Auction auction.Config
	// SubmitTimeout bounds a bid submission whose context has no deadline
	SubmitTimeout time.Duration
}

// Option customizes a BiddingService
type Option func(*BiddingService)

// WithConfig sets the bidding policy and timeouts
func WithConfig(cfg Config) Option {
	return func(s *BiddingService) { s.cfg = cfg }
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(clk clock.Clock) Option {
	return func(s *BiddingService) { s.clock = clk }
}

// WithDecisionCache enables idempotent submissions
func WithDecisionCache(cache auction.DecisionCache) Option {
	return func(s *BiddingService) { s.cache = cache }
}

// WithMetrics sets the metrics sink
func WithMetrics(m metrics.Service) Option {
	return func(s *BiddingService) { s.metrics = m }
}

// BiddingQuery narrows GetBidsForAuction
type BiddingQuery struct {
	// Limit caps the number of bids returned; zero returns all
	Limit int
	// IncludeRejected returns the full decision archive instead of the ledger
	IncludeRejected bool
}

// BiddingService defines the business logic for auction bidding. Each auction
// is owned by an actor; the service routes requests to it.
type BiddingService struct {
	repo    repository.AuctionDB
	hub     *broadcast.Hub
	clock   clock.Clock
	cache   auction.DecisionCache
	metrics metrics.Service
	cfg     Config

	mu     sync.RWMutex
	actors map[string]*auction.Actor
	closed bool
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, hub *broadcast.Hub, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:    repo,
		hub:     hub,
		clock:   clock.New(),
		metrics: metrics.NoOp{},
		cfg:     Config{Auction: auction.DefaultConfig(), SubmitTimeout: 5 * time.Second},
		actors:  make(map[string]*auction.Actor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuction validates and registers a new auction. It starts Upcoming and
// goes live on its own once the start time is reached.
func (s *BiddingService) CreateAuction(req models.NewAuction) (models.Auction, error) {
	now := s.clock.Now().UTC()
	if req.StartTime.IsZero() {
		req.StartTime = now
	}
	if err := validateAuction(req, now); err != nil {
		return models.Auction{}, err
	}

	a := models.Auction{
		AuctionID:        utils.GenerateID(),
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		Category:         strings.ToLower(strings.TrimSpace(req.Category)),
		AuctioneerID:     req.AuctioneerID,
		ImageURL:         req.ImageURL,
		Featured:         req.Featured,
		Status:           models.StatusUpcoming,
		StartingBid:      req.StartingBid,
		CurrentBid:       req.StartingBid,
		Increment:        req.Increment,
		StartTime:        req.StartTime.UTC(),
		ScheduledEndTime: req.EndTime.UTC(),
		ActualEndTime:    req.EndTime.UTC(),
		AutoExtend:       req.AutoExtend,
		CreatedAt:        now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Auction{}, fmt.Errorf("service: create auction: %w", biddingerrors.ErrEngineClosed)
	}
	if err := s.repo.SaveAuction(a); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to save auction %s: %w", a.AuctionID, err)
	}
	s.actors[a.AuctionID] = auction.New(a, s.cfg.Auction, auction.Deps{
		Clock:    s.clock,
		Hub:      s.hub,
		Recorder: s.repo,
		Cache:    s.cache,
		Metrics:  s.metrics,
	})

	utils.Info("service: auction created", map[string]any{
		"auction_id":   a.AuctionID,
		"title":        a.Title,
		"starting_bid": a.StartingBid.String(),
		"increment":    a.Increment.String(),
		"start_time":   a.StartTime.Format(time.RFC3339),
		"end_time":     a.ScheduledEndTime.Format(time.RFC3339),
	})
	return a, nil
}

// validateAuction checks input validity for a new auction
func validateAuction(req models.NewAuction, now time.Time) error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return fmt.Errorf("service: %w - missing title", biddingerrors.ErrInvalidAuction)
	case req.StartingBid < 0:
		return fmt.Errorf("service: %w - negative starting bid", biddingerrors.ErrInvalidAuction)
	case req.Increment <= 0:
		return fmt.Errorf("service: %w - increment must be positive", biddingerrors.ErrInvalidAuction)
	case req.StartingBid > models.MaxAmount || req.Increment > models.MaxAmount:
		return fmt.Errorf("service: %w - amounts may not exceed %s", biddingerrors.ErrInvalidAuction, models.MaxAmount)
	case !req.EndTime.After(req.StartTime):
		return fmt.Errorf("service: %w - end time must be after start time", biddingerrors.ErrInvalidAuction)
	case !req.EndTime.After(now):
		return fmt.Errorf("service: %w - end time already passed", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

func (s *BiddingService) actor(auctionID string) (*auction.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, biddingerrors.ErrEngineClosed
	}
	a, ok := s.actors[auctionID]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// SubmitBid validates a bid and hands it to the auction's actor. Business
// rejections come back as a Rejected result; errors are reserved for invalid
// input, cancellation and engine faults.
func (s *BiddingService) SubmitBid(ctx context.Context, req models.BidRequest) (models.BidResult, error) {
	if err := validateBid(req); err != nil {
		return models.BidResult{}, err
	}

	a, err := s.actor(req.AuctionID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
			s.metrics.BumpSum("bid.count", 1, "outcome", string(models.OutcomeRejected), "reason", string(models.ReasonAuctionNotFound))
			return models.BidResult{Outcome: models.OutcomeRejected, Reason: models.ReasonAuctionNotFound}, nil
		}
		return models.BidResult{}, fmt.Errorf("service: submit bid: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && s.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()
	}

	res, err := a.Submit(ctx, req)
	if err != nil {
		return models.BidResult{}, fmt.Errorf("service: failed to submit bid for auction %s by bidder %s: %w", req.AuctionID, req.BidderID, err)
	}
	return res, nil
}

// validateBid checks input validity before a bid reaches an actor
func validateBid(req models.BidRequest) error {
	if req.AuctionID == "" || req.BidderID == "" {
		return fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	if req.Amount > models.MaxAmount {
		return fmt.Errorf("service: %w - bid amount exceeds %s", biddingerrors.ErrInvalidBid, models.MaxAmount)
	}
	return nil
}

// Transition applies an auctioneer command
func (s *BiddingService) Transition(ctx context.Context, auctionID string, cmd models.Command) (models.Auction, error) {
	a, err := s.actor(auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: %s: %w", cmd, err)
	}

	updated, err := a.Transition(ctx, cmd)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to %s auction %s: %w", cmd, auctionID, err)
	}
	return updated, nil
}

// Subscribe joins the auction's room. The first event on the stream is a snapshot.
func (s *BiddingService) Subscribe(ctx context.Context, auctionID string) (*broadcast.Subscriber, error) {
	a, err := s.actor(auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: subscribe: %w", err)
	}

	sub, err := a.Join(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to subscribe to auction %s: %w", auctionID, err)
	}
	return sub, nil
}

// Unsubscribe leaves the room and closes the subscriber's stream
func (s *BiddingService) Unsubscribe(sub *broadcast.Subscriber) {
	a, err := s.actor(sub.AuctionID)
	if err != nil {
		s.hub.Leave(sub)
		return
	}
	a.Leave(sub)
}

// GetAuctionSnapshot returns the current view of an auction
func (s *BiddingService) GetAuctionSnapshot(auctionID string) (models.Snapshot, error) {
	a, err := s.actor(auctionID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("service: snapshot: %w", err)
	}
	return a.Snapshot(), nil
}

// ListAuctions returns the catalog filtered by status, category and search text
func (s *BiddingService) ListAuctions(filter models.AuctionFilter) ([]models.Auction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("service: %w - unknown status %q", biddingerrors.ErrInvalidAuction, filter.Status)
	}

	auctions, err := s.repo.ListAuctions(filter)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// GetBidsForAuction returns the bids of an auction, newest first
func (s *BiddingService) GetBidsForAuction(auctionID string, q BiddingQuery) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}
	a, err := s.actor(auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: bids: %w", err)
	}

	var bids []models.Bid
	if q.IncludeRejected {
		bids, err = s.repo.GetBidsByAuction(auctionID)
		if err != nil {
			return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
		}
	} else {
		bids = a.Bids()
		if len(bids) == 0 {
			return nil, fmt.Errorf("service: auction %s: %w", auctionID, biddingerrors.ErrNoBids)
		}
	}

	newestFirst := make([]models.Bid, 0, len(bids))
	for i := len(bids) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, bids[i])
		if q.Limit > 0 && len(newestFirst) == q.Limit {
			break
		}
	}
	return newestFirst, nil
}

// GetWinningBid returns the highest accepted bid for an auction
func (s *BiddingService) GetWinningBid(auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}
	a, err := s.actor(auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: winning bid: %w", err)
	}

	winning, ok := a.Highest()
	if !ok {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return winning, nil
}

// GetAuctionsByBidder returns all auctions a bidder has placed bids on
func (s *BiddingService) GetAuctionsByBidder(bidderID string) ([]models.Auction, error) {
	if bidderID == "" {
		return nil, fmt.Errorf("service: %w - empty bidder ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByBidder(bidderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for bidder %s: %w", bidderID, err)
	}
	return auctions, nil
}

// Close stops every auction actor. Later calls fail with ErrEngineClosed.
func (s *BiddingService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	actors := s.actors
	s.actors = make(map[string]*auction.Actor)
	s.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
	utils.Info("service: bidding engine stopped", map[string]any{"auctions": len(actors)})
}
