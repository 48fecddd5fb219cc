package models

import "time"

// EventType identifies what changed in an auction room
type EventType string

const (
	EventSnapshot           EventType = "snapshot"
	EventBidAccepted        EventType = "bid_accepted"
	EventStatusChanged      EventType = "status_changed"
	EventTimeExtended       EventType = "time_extended"
	EventParticipantChanged EventType = "participant_count_changed"
)

// AuctionEvent is delivered to every subscriber of an auction. Delivery is
// at-least-once and may arrive out of order; consumers should key off
// BidCount and Amount rather than arrival order.
type AuctionEvent struct {
	Type       EventType     `json:"type" cbor:"type"`
	AuctionID  string        `json:"auction_id" cbor:"auction_id"`
	OccurredAt time.Time     `json:"occurred_at" cbor:"occurred_at"`
	BidID      string        `json:"bid_id,omitempty" cbor:"bid_id,omitempty"`
	BidderID   string        `json:"bidder_id,omitempty" cbor:"bidder_id,omitempty"`
	Amount     Money         `json:"amount,omitempty" cbor:"amount,omitempty"`
	BidCount   int           `json:"bid_count,omitempty" cbor:"bid_count,omitempty"`
	From       AuctionStatus `json:"from,omitempty" cbor:"from,omitempty"`
	To         AuctionStatus `json:"to,omitempty" cbor:"to,omitempty"`
	NewEndTime *time.Time    `json:"new_end_time,omitempty" cbor:"new_end_time,omitempty"`
	Count      *int          `json:"count,omitempty" cbor:"count,omitempty"`
	Snapshot   *Snapshot     `json:"snapshot,omitempty" cbor:"snapshot,omitempty"`
}

// StateChanging reports whether the event reflects a ledger or lifecycle change.
// Only these are forwarded to external sinks.
func (e AuctionEvent) StateChanging() bool {
	switch e.Type {
	case EventBidAccepted, EventStatusChanged, EventTimeExtended:
		return true
	}
	return false
}

func BidAcceptedEvent(bid Bid, bidCount int) AuctionEvent {
	return AuctionEvent{
		Type:       EventBidAccepted,
		AuctionID:  bid.AuctionID,
		OccurredAt: bid.SubmittedAt,
		BidID:      bid.BidID,
		BidderID:   bid.BidderID,
		Amount:     bid.Amount,
		BidCount:   bidCount,
	}
}

func StatusChangedEvent(auctionID string, from, to AuctionStatus, at time.Time) AuctionEvent {
	return AuctionEvent{
		Type:       EventStatusChanged,
		AuctionID:  auctionID,
		OccurredAt: at,
		From:       from,
		To:         to,
	}
}

func TimeExtendedEvent(auctionID string, newEnd, at time.Time) AuctionEvent {
	return AuctionEvent{
		Type:       EventTimeExtended,
		AuctionID:  auctionID,
		OccurredAt: at,
		NewEndTime: &newEnd,
	}
}

func ParticipantCountEvent(auctionID string, count int, at time.Time) AuctionEvent {
	return AuctionEvent{
		Type:       EventParticipantChanged,
		AuctionID:  auctionID,
		OccurredAt: at,
		Count:      &count,
	}
}

func SnapshotEvent(s Snapshot) AuctionEvent {
	return AuctionEvent{
		Type:       EventSnapshot,
		AuctionID:  s.AuctionID,
		OccurredAt: s.TakenAt,
		BidCount:   s.BidCount,
		Amount:     s.CurrentPrice,
		Snapshot:   &s,
	}
}
