// Package auction implements the per-auction clearing state machine.
//
// Two variants exist, as in the deployed system: Machine works on public bid
// prices and validates processing order synchronously; ConfidentialMachine
// works on confidential value handles and validates order through an
// asynchronous decryption oracle. Both finalize bids with the same clearing
// math and expose the same claim settlement.
package auction

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloudx-io/clearauction/core"
	"github.com/cloudx-io/clearauction/signer"
)

// Machine is the public-price clearing machine. Lifecycle:
// Created -> Active -> Processing -> Settled; claims are only valid once
// settled. All methods are safe for concurrent use; state transitions are
// serialized on an internal mutex.
type Machine struct {
	mu sync.Mutex

	id   string
	now  func() time.Time
	emit EventSink

	created     bool
	data        core.AuctionData
	bids        map[uint64]*core.Bid
	bidIDByAddr map[string]uint64
	claimed     map[string]bool
}

// NewMachine creates an empty machine for the given auction id. now may be
// nil for wall-clock time; emit may be nil.
func NewMachine(id string, now func() time.Time, emit EventSink) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		id:          id,
		now:         now,
		emit:        emit,
		bids:        make(map[uint64]*core.Bid),
		bidIDByAddr: make(map[string]uint64),
		claimed:     make(map[string]bool),
	}
}

func (m *Machine) emitEvent(e Event) {
	if m.emit == nil {
		return
	}
	e.AuctionID = m.id
	e.Time = m.now()
	m.emit(e)
}

// CreateAuction initializes the auction. Succeeds at most once; requires a
// valid authorization credential from the designated bid sequencer over the
// exact parameter tuple.
func (m *Machine) CreateAuction(params core.AuctionParams, credential []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.created {
		return ErrAuctionAlreadyCreated
	}
	if params.StartTime >= params.EndTime {
		return ErrInvalidTimeWindow
	}
	if err := signer.VerifyAuthSignature(m.id, params, credential); err != nil {
		return fmt.Errorf("invalid sequencer authorization: %w", err)
	}

	m.data = core.AuctionData{
		AuctionParams:     params,
		BidIndex:          1,
		ProcessedBidIndex: 1,
	}
	m.created = true

	m.emitEvent(Event{Type: EventAuctionCreated})
	return nil
}

// PlaceBid records a sealed bid during the active window. One bid per
// address. Rejects zero amounts and prices below the floor outright (the
// revert policy; the confidential machine degrades instead).
func (m *Machine) PlaceBid(bidder string, price, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if !m.created || now < m.data.StartTime || now >= m.data.EndTime {
		return 0, ErrAuctionNotActive
	}
	if m.bidIDByAddr[bidder] != 0 {
		return 0, ErrBidAlreadyPlaced
	}
	if amount == 0 {
		return 0, ErrBidZeroAmount
	}
	if price < m.data.FloorPrice {
		return 0, ErrBidNotHighEnough
	}

	bidID := m.data.BidIndex
	m.data.BidIndex++
	m.bids[bidID] = &core.Bid{
		Bidder: bidder,
		Price:  price,
		Amount: amount,
		Index:  bidID,
	}
	m.bidIDByAddr[bidder] = bidID

	m.emitEvent(Event{Type: EventBidPlaced, Bidder: bidder, BidID: bidID})
	return bidID, nil
}

// ProcessNextBid finalizes the given bid if it is truly the next one in
// canonical order. With public prices the ordering check is a plain
// comparison, so the two-phase protocol collapses into a single synchronous
// step.
func (m *Machine) ProcessNextBid(caller string, bidID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bid, err := m.processable(caller, bidID)
	if err != nil {
		return err
	}

	if prev := m.bids[m.data.LastProcessedBidID]; prev != nil {
		if !core.NextInOrder(prev.Price, prev.Index, bid.Price, bid.Index) {
			return ErrWrongBidOrder
		}
	}

	m.finalize(bid)
	return nil
}

// processable runs the preconditions of a processing request. Caller holds
// the lock.
func (m *Machine) processable(caller string, bidID uint64) (*core.Bid, error) {
	if !m.created || m.now().Unix() < m.data.EndTime {
		return nil, ErrAuctionNotEnded
	}
	if caller != m.data.BidSequencer {
		return nil, ErrUnauthorizedAccount
	}
	bid, ok := m.bids[bidID]
	if !ok {
		return nil, ErrUnknownBid
	}
	if bid.Processed {
		return nil, ErrBidAlreadyPlaced
	}
	return bid, nil
}

// finalize applies the clearing step. Caller holds the lock.
func (m *Machine) finalize(bid *core.Bid) {
	won, newSum := core.ClearingStep(m.data.TokenAmount, m.data.SlidingSum, bid.Amount)
	bid.WonAmount = won
	bid.Processed = true
	m.data.SlidingSum = newSum
	// The clearing price tracks the last finalized bid unconditionally, even
	// for zero-allocation bids after supply is exhausted.
	m.data.FinalPrice = bid.Price
	m.data.LastProcessedBidID = bid.Index
	m.data.ProcessedBidIndex++

	m.emitEvent(Event{Type: EventBidFinalized, Bidder: bid.Bidder, BidID: bid.Index})
}

// ClaimResult is a bidder's settlement: the won quantity of the auctioned
// token and the bid-token refund.
type ClaimResult struct {
	WonAmount uint64 `json:"won_amount"`
	Refund    uint64 `json:"refund"`
}

// Claim settles the caller's bid once the auction has ended and every bid is
// finalized. Single-shot per address.
func (m *Machine) Claim(bidder string) (*ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.claimable(bidder); err != nil {
		return nil, err
	}
	bidID := m.bidIDByAddr[bidder]
	if bidID == 0 {
		return nil, ErrNoBid
	}

	won, refund, err := core.BidderPayout(*m.bids[bidID], m.data.FinalPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to settle bid %d: %w", bidID, err)
	}
	m.claimed[bidder] = true

	m.emitEvent(Event{Type: EventClaimed, Bidder: bidder, BidID: bidID})
	return &ClaimResult{WonAmount: won, Refund: refund}, nil
}

// OwnerClaimResult is the creator's settlement: bid-token proceeds for sold
// supply and the unsold remainder of the auctioned token.
type OwnerClaimResult struct {
	Proceeds uint64 `json:"proceeds"`
	Unsold   uint64 `json:"unsold"`
}

// ClaimOwner settles the creator's side. Creator only, single-shot.
func (m *Machine) ClaimOwner(caller string) (*OwnerClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.created || caller != m.data.Creator {
		return nil, ErrUnauthorizedAccount
	}
	if err := m.claimable(caller); err != nil {
		return nil, err
	}

	proceeds, unsold, err := core.CreatorPayout(m.data.SlidingSum, m.data.FinalPrice, m.data.TokenAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to settle creator payout: %w", err)
	}
	m.claimed[caller] = true

	m.emitEvent(Event{Type: EventOwnerClaimed, Bidder: caller})
	return &OwnerClaimResult{Proceeds: proceeds, Unsold: unsold}, nil
}

// claimable checks the shared claim preconditions. Caller holds the lock.
func (m *Machine) claimable(addr string) error {
	if !m.created || m.now().Unix() < m.data.EndTime {
		return ErrAuctionNotEnded
	}
	if !m.data.Settled() {
		return ErrAuctionNotProcessed
	}
	if m.claimed[addr] {
		return ErrAlreadyClaimed
	}
	return nil
}

// Data returns a snapshot of the auction state.
func (m *Machine) Data() core.AuctionData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Bid returns a snapshot of the bid with the given id.
func (m *Machine) Bid(bidID uint64) (core.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[bidID]
	if !ok {
		return core.Bid{}, ErrUnknownBid
	}
	return *bid, nil
}

// BidID returns the caller's bid id, 0 if none.
func (m *Machine) BidID(bidder string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bidIDByAddr[bidder]
}

// Claimed reports whether the address has already withdrawn settlement.
func (m *Machine) Claimed(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed[addr]
}
