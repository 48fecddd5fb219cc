package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrUserNoBids      = errors.New("user has not placed any bids")
)

// business logic errors
var (
	ErrInvalidBid           = errors.New("invalid bid")
	ErrInvalidAuction       = errors.New("invalid auction")
	ErrBidTooLow            = errors.New("bid amount too low")
	ErrAuctionNotLive       = errors.New("auction is not live")
	ErrAlreadyHighestBidder = errors.New("bidder already holds the highest bid")
	ErrInvalidTransition    = errors.New("invalid auction status transition")
)

// ledger invariant breaches; these are defects, never user errors
var (
	ErrOrderingViolation = errors.New("ledger ordering violation")
	ErrLedgerFrozen      = errors.New("ledger is frozen")
	ErrAuctionFaulted    = errors.New("auction engine faulted")
)

// engine lifecycle
var (
	ErrEngineClosed = errors.New("bidding engine closed")
)
