package models

import (
	"time"

	"auction-engine/internal/biddingerrors"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusUpcoming  AuctionStatus = "upcoming"
	StatusLive      AuctionStatus = "live"
	StatusPaused    AuctionStatus = "paused"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Valid reports whether s is a known status
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusLive, StatusPaused, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Command is an auctioneer action on an auction
type Command string

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandClose  Command = "close"
	CommandCancel Command = "cancel"
)

// Auction represents a lot being auctioned
type Auction struct {
	AuctionID        string        `json:"auction_id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Category         string        `json:"category"`
	AuctioneerID     string        `json:"auctioneer_id"`
	ImageURL         string        `json:"image_url,omitempty"`
	Featured         bool          `json:"featured"`
	Status           AuctionStatus `json:"status"`
	StartingBid      Money         `json:"starting_bid"`
	CurrentBid       Money         `json:"current_bid"`
	Increment        Money         `json:"increment"`
	StartTime        time.Time     `json:"start_time"`
	ScheduledEndTime time.Time     `json:"scheduled_end_time"`
	ActualEndTime    time.Time     `json:"actual_end_time"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	AutoExtend       bool          `json:"auto_extend"`
	BidCount         int           `json:"bid_count"`
	HighestBidderID  string        `json:"highest_bidder_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewAuction holds the caller-supplied fields of an auction to create
type NewAuction struct {
	Title        string
	Description  string
	Category     string
	AuctioneerID string
	ImageURL     string
	Featured     bool
	StartingBid  Money
	Increment    Money
	StartTime    time.Time
	EndTime      time.Time
	AutoExtend   bool
}

// AuctionFilter narrows ListAuctions. Empty fields match everything.
type AuctionFilter struct {
	Status   AuctionStatus
	Category string
	Search   string
}

// BidOutcome is the final decision on a bid
type BidOutcome string

const (
	OutcomeAccepted BidOutcome = "accepted"
	OutcomeRejected BidOutcome = "rejected"
)

// RejectReason explains why a bid was rejected
type RejectReason string

const (
	ReasonAuctionNotFound      RejectReason = "AuctionNotFound"
	ReasonAuctionNotLive       RejectReason = "AuctionNotLive"
	ReasonBidTooLow            RejectReason = "BidTooLow"
	ReasonAlreadyHighestBidder RejectReason = "AlreadyHighestBidder"
)

// Err returns the sentinel error matching the reason
func (r RejectReason) Err() error {
	switch r {
	case ReasonAuctionNotFound:
		return biddingerrors.ErrAuctionNotFound
	case ReasonAuctionNotLive:
		return biddingerrors.ErrAuctionNotLive
	case ReasonBidTooLow:
		return biddingerrors.ErrBidTooLow
	case ReasonAlreadyHighestBidder:
		return biddingerrors.ErrAlreadyHighestBidder
	}
	return nil
}

// Bid represents a bidder's bid on an auction. Bids are immutable once recorded.
type Bid struct {
	BidID       string       `json:"bid_id"`
	AuctionID   string       `json:"auction_id"`
	BidderID    string       `json:"bidder_id"`
	Amount      Money        `json:"amount"`
	SubmittedAt time.Time    `json:"submitted_at"`
	Outcome     BidOutcome   `json:"outcome"`
	Reason      RejectReason `json:"reason,omitempty"`
	Sequence    int          `json:"sequence,omitempty"`
}

// BidRequest is a bid submission
type BidRequest struct {
	AuctionID string
	BidderID  string
	Amount    Money
	// RequestID makes the submission idempotent per bidder when set
	RequestID string
}

// BidResult is the engine's answer to a BidRequest
type BidResult struct {
	Outcome      BidOutcome   `json:"outcome"`
	Reason       RejectReason `json:"reason,omitempty"`
	CurrentPrice Money        `json:"current_price"`
	Bid          Bid          `json:"bid"`
}

// Accepted reports whether the bid was accepted
func (r BidResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// Countdown splits a remaining duration for display
type Countdown struct {
	Days     int  `json:"days"`
	Hours    int  `json:"hours"`
	Minutes  int  `json:"minutes"`
	Seconds  int  `json:"seconds"`
	Urgent   bool `json:"urgent"`
	Critical bool `json:"critical"`
	Expired  bool `json:"expired"`
}

// Snapshot is a consistent view of one auction at a point in time
type Snapshot struct {
	AuctionID     string        `json:"auction_id"`
	Status        AuctionStatus `json:"status"`
	CurrentPrice  Money         `json:"current_price"`
	MinNextBid    Money         `json:"min_next_bid"`
	SuggestedBids []Money       `json:"suggested_bids"`
	EndTime       time.Time     `json:"end_time"`
	BidCount      int           `json:"bid_count"`
	Participants  int           `json:"participants"`
	RemainingMs   int64         `json:"remaining_ms"`
	Countdown     Countdown     `json:"countdown"`
	Auction       Auction       `json:"auction"`
	TakenAt       time.Time     `json:"taken_at"`
}
