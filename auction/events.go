package auction

import "time"

// EventType enumerates the machine's emitted events.
type EventType string

const (
	EventAuctionCreated    EventType = "auction_created"
	EventBidPlaced         EventType = "bid_placed"
	EventBidFinalized      EventType = "bid_finalized"
	EventOrderingRejected  EventType = "ordering_rejected"
	EventClaimed           EventType = "claimed"
	EventOwnerClaimed      EventType = "owner_claimed"
	EventVerificationStart EventType = "verification_started"
)

// Event is a single machine state-change notification.
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auction_id"`
	Bidder    string    `json:"bidder,omitempty"`
	BidID     uint64    `json:"bid_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Time      time.Time `json:"time"`
}

// EventSink receives machine events. A nil sink drops them.
type EventSink func(Event)
