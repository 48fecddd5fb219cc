package helpers

import (
	"time"

	model "auction-engine/internal/models"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	AuctionID string      `json:"auction_id" binding:"required"`
	BidderID  string      `json:"bidder_id" binding:"required"`
	Amount    model.Money `json:"amount" binding:"required,money"`
	RequestID string      `json:"request_id" binding:"omitempty,max=128"`
}

type CreateAuctionRequest struct {
	Title        string      `json:"title" binding:"required,max=200"`
	Description  string      `json:"description" binding:"max=5000"`
	Category     string      `json:"category" binding:"max=64"`
	AuctioneerID string      `json:"auctioneer_id"`
	ImageURL     string      `json:"image_url" binding:"omitempty,url"`
	Featured     bool        `json:"featured"`
	StartingBid  model.Money `json:"starting_bid" binding:"gte=0"`
	Increment    model.Money `json:"increment" binding:"required,money"`
	StartTime    *time.Time  `json:"start_time"`
	EndTime      *time.Time  `json:"end_time" binding:"required_without=DurationMinutes"`
	// DurationMinutes is an alternative to EndTime, counted from the start time
	DurationMinutes int   `json:"duration_minutes" binding:"omitempty,gt=0"`
	AutoExtend      *bool `json:"auto_extend"`
}

// ToNewAuction resolves optional fields against now
func (r CreateAuctionRequest) ToNewAuction(now time.Time) model.NewAuction {
	start := now
	if r.StartTime != nil {
		start = *r.StartTime
	}
	var end time.Time
	if r.EndTime != nil {
		end = *r.EndTime
	} else {
		end = start.Add(time.Duration(r.DurationMinutes) * time.Minute)
	}
	autoExtend := true
	if r.AutoExtend != nil {
		autoExtend = *r.AutoExtend
	}

	return model.NewAuction{
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		AuctioneerID: r.AuctioneerID,
		ImageURL:     r.ImageURL,
		Featured:     r.Featured,
		StartingBid:  r.StartingBid,
		Increment:    r.Increment,
		StartTime:    start,
		EndTime:      end,
		AutoExtend:   autoExtend,
	}
}

type BidResponse struct {
	BidID       string             `json:"bid_id"`
	AuctionID   string             `json:"auction_id"`
	BidderID    string             `json:"bidder_id"`
	Amount      model.Money        `json:"amount"`
	Outcome     model.BidOutcome   `json:"outcome"`
	Reason      model.RejectReason `json:"reason,omitempty"`
	Sequence    int                `json:"sequence,omitempty"`
	SubmittedAt string             `json:"submitted_at"`
}

// NewBidResponse converts a bid for the wire
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:       bid.BidID,
		AuctionID:   bid.AuctionID,
		BidderID:    bid.BidderID,
		Amount:      bid.Amount,
		Outcome:     bid.Outcome,
		Reason:      bid.Reason,
		Sequence:    bid.Sequence,
		SubmittedAt: bid.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
}

// BidResultResponse is the answer to POST /bids, accepted or not
type BidResultResponse struct {
	Outcome      model.BidOutcome   `json:"outcome"`
	Reason       model.RejectReason `json:"reason,omitempty"`
	CurrentPrice model.Money        `json:"current_price"`
	Bid          *BidResponse       `json:"bid,omitempty"`
}

// NewBidResultResponse converts a decision for the wire
func NewBidResultResponse(res model.BidResult) BidResultResponse {
	out := BidResultResponse{
		Outcome:      res.Outcome,
		Reason:       res.Reason,
		CurrentPrice: res.CurrentPrice,
	}
	if res.Bid.BidID != "" {
		bid := NewBidResponse(res.Bid)
		out.Bid = &bid
	}
	return out
}
