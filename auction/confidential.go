package auction

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/core"
	"github.com/cloudx-io/clearauction/signer"
)

// ConfBid is a sealed bid whose price and amount exist only as confidential
// value handles. WonAmount is the zero Handle until the bid is finalized.
// Rejections counts negative ordering verdicts delivered for this bid, so the
// sequencer can tell an abandoned step apart from a slow oracle.
type ConfBid struct {
	Bidder     string
	Index      uint64
	Price      confidential.Handle
	Amount     confidential.Handle
	WonAmount  confidential.Handle
	Processed  bool
	Rejections uint64
}

// ConfidentialClaim is a bidder's settlement as confidential handles, both
// reencryptable by the claimant.
type ConfidentialClaim struct {
	WonAmount confidential.Handle `json:"won_amount"`
	Refund    confidential.Handle `json:"refund"`
}

// ConfidentialOwnerClaim is the creator's settlement as confidential handles.
type ConfidentialOwnerClaim struct {
	Proceeds confidential.Handle `json:"proceeds"`
	Unsold   confidential.Handle `json:"unsold"`
}

// ConfidentialMachine is the clearing machine over confidential bid values.
// Prices and amounts never appear in machine state in the clear; clearing
// arithmetic runs on handles and the processing-order check round-trips
// through the store's asynchronous decryption oracle.
//
// The two-phase protocol: ProcessNextBid issues an ordering verification and
// returns; the store's oracle later invokes the callback with the verdict,
// which either finalizes the bid or abandons the step without mutating
// clearing state. At most one verification is in flight per auction.
type ConfidentialMachine struct {
	mu sync.Mutex

	id    string
	now   func() time.Time
	emit  EventSink
	store *confidential.Store

	created     bool
	data        core.AuctionData
	slidingSum  confidential.Handle
	finalPrice  confidential.Handle
	bids        map[uint64]*ConfBid
	bidIDByAddr map[string]uint64
	claimed     map[string]bool

	// at-most-one-in-flight ordering verification
	pendingRequestID string
	pendingBidID     uint64
}

// NewConfidentialMachine creates an empty confidential machine backed by the
// given value store. now may be nil for wall-clock time; emit may be nil.
func NewConfidentialMachine(id string, store *confidential.Store, now func() time.Time, emit EventSink) *ConfidentialMachine {
	if now == nil {
		now = time.Now
	}
	return &ConfidentialMachine{
		id:          id,
		now:         now,
		emit:        emit,
		store:       store,
		bids:        make(map[uint64]*ConfBid),
		bidIDByAddr: make(map[string]uint64),
		claimed:     make(map[string]bool),
	}
}

func (m *ConfidentialMachine) emitEvent(e Event) {
	if m.emit == nil {
		return
	}
	e.AuctionID = m.id
	e.Time = m.now()
	m.emit(e)
}

// CreateAuction initializes the auction. Same authorization rules as the
// public machine; additionally seeds the confidential sliding sum.
func (m *ConfidentialMachine) CreateAuction(params core.AuctionParams, credential []byte) error {
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
	m.slidingSum = m.store.Scalar(0)
	m.finalPrice = m.store.Scalar(0)
	m.created = true

	m.emitEvent(Event{Type: EventAuctionCreated})
	return nil
}

// PlaceBid records a sealed bid submitted as ciphertexts addressed to the
// store's service key. Invalid bids are not rejected, since rejection would
// leak the comparison result: a zero amount or a price below the floor has
// its amount degraded to zero instead, which makes the bid inert in clearing
// and settlement.
func (m *ConfidentialMachine) PlaceBid(bidder string, encPrice, encAmount *confidential.EncryptedValue) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if !m.created || now < m.data.StartTime || now >= m.data.EndTime {
		return 0, ErrAuctionNotActive
	}
	if m.bidIDByAddr[bidder] != 0 {
		return 0, ErrBidAlreadyPlaced
	}

	// The sequencer must be able to reencrypt prices to compute the
	// processing order; amounts stay private to the bidder.
	price, err := m.store.RegisterEncrypted(encPrice, bidder, m.data.BidSequencer)
	if err != nil {
		return 0, err
	}
	amount, err := m.store.RegisterEncrypted(encAmount, bidder)
	if err != nil {
		return 0, err
	}

	priceOK, err := m.store.CmpGeScalar(price, m.data.FloorPrice)
	if err != nil {
		return 0, err
	}
	amountOK, err := m.store.CmpGtScalar(amount, 0)
	if err != nil {
		return 0, err
	}
	valid, err := m.store.And(priceOK, amountOK)
	if err != nil {
		return 0, err
	}
	amount, err = m.store.Select(valid, amount, m.store.Scalar(0))
	if err != nil {
		return 0, err
	}
	if err := m.store.Allow(amount, bidder); err != nil {
		return 0, err
	}

	bidID := m.data.BidIndex
	m.data.BidIndex++
	m.bids[bidID] = &ConfBid{
		Bidder: bidder,
		Index:  bidID,
		Price:  price,
		Amount: amount,
	}
	m.bidIDByAddr[bidder] = bidID

	m.emitEvent(Event{Type: EventBidPlaced, Bidder: bidder, BidID: bidID})
	return bidID, nil
}

// ProcessNextBid starts the two-phase finalization of the given bid. It
// builds the ordering predicate over confidential prices, submits it to the
// decryption oracle and returns the correlation id. Clearing state is not
// touched until the callback confirms the order.
func (m *ConfidentialMachine) ProcessNextBid(caller string, bidID uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.created || m.now().Unix() < m.data.EndTime {
		return "", ErrAuctionNotEnded
	}
	if caller != m.data.BidSequencer {
		return "", ErrUnauthorizedAccount
	}
	if m.pendingRequestID != "" {
		return "", ErrVerificationPending
	}
	bid, ok := m.bids[bidID]
	if !ok {
		return "", ErrUnknownBid
	}
	if bid.Processed {
		return "", ErrBidAlreadyPlaced
	}

	cond, err := m.orderingPredicate(bid)
	if err != nil {
		return "", err
	}

	// The pending ids are recorded before the lock is released, so a callback
	// racing in from the oracle goroutine cannot observe a half-registered
	// request.
	requestID, err := m.store.RequestDecryptBool(cond, func(requestID string, inOrder bool) {
		if err := m.ProcessNextBidCallback(requestID, inOrder); err != nil {
			log.Printf("WARNING: Dropping ordering verdict for auction %s: %v", m.id, err)
		}
	})
	if err != nil {
		return "", err
	}
	m.pendingRequestID = requestID
	m.pendingBidID = bidID

	m.emitEvent(Event{Type: EventVerificationStart, Bidder: bid.Bidder, BidID: bidID, RequestID: requestID})
	return requestID, nil
}

// orderingPredicate builds the 0/1 handle that is true iff the candidate bid
// may follow the previously finalized one. Caller holds the lock.
func (m *ConfidentialMachine) orderingPredicate(bid *ConfBid) (confidential.Handle, error) {
	prev := m.bids[m.data.LastProcessedBidID]
	if prev == nil {
		return m.store.Scalar(1), nil
	}
	// Equal prices are broken by submission index, which is public: a later
	// index may tie the previous price, an earlier one must be strictly lower.
	if bid.Index > prev.Index {
		return m.store.CmpLe(bid.Price, prev.Price)
	}
	return m.store.CmpLt(bid.Price, prev.Price)
}

// ProcessNextBidCallback is the oracle's delivery point for an ordering
// verdict. A true verdict finalizes the pending bid; a false verdict abandons
// the step with no state change, leaving the sequencer free to retry with the
// correct bid.
func (m *ConfidentialMachine) ProcessNextBidCallback(requestID string, inOrder bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if requestID == "" || requestID != m.pendingRequestID {
		return ErrUnknownRequest
	}
	bid := m.bids[m.pendingBidID]
	m.pendingRequestID = ""
	m.pendingBidID = 0

	if !inOrder {
		bid.Rejections++
		m.emitEvent(Event{Type: EventOrderingRejected, Bidder: bid.Bidder, BidID: bid.Index, RequestID: requestID})
		return nil
	}
	return m.finalize(bid)
}

// finalize applies the clearing step on handles. Caller holds the lock.
func (m *ConfidentialMachine) finalize(bid *ConfBid) error {
	remaining, err := m.store.Sub(m.store.Scalar(m.data.TokenAmount), m.slidingSum)
	if err != nil {
		return err
	}
	won, err := m.store.Min(bid.Amount, remaining)
	if err != nil {
		return err
	}
	newSum, err := m.store.Add(m.slidingSum, won)
	if err != nil {
		return err
	}
	if err := m.store.Allow(won, bid.Bidder); err != nil {
		return err
	}

	bid.WonAmount = won
	bid.Processed = true
	m.slidingSum = newSum
	// Tracks the last finalized bid's price unconditionally, matching the
	// public machine.
	m.finalPrice = bid.Price
	m.data.LastProcessedBidID = bid.Index
	m.data.ProcessedBidIndex++

	m.emitEvent(Event{Type: EventBidFinalized, Bidder: bid.Bidder, BidID: bid.Index})
	return nil
}

// Claim settles the caller's bid. The payout handles are computed as
//
//	refund = price*amount - finalPrice*wonAmount
//
// and granted to the claimant for reencryption. A degraded bid settles to a
// zero won amount and a refund equal to its full (zeroed) cost.
func (m *ConfidentialMachine) Claim(bidder string) (*ConfidentialClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.claimable(bidder); err != nil {
		return nil, err
	}
	bidID := m.bidIDByAddr[bidder]
	if bidID == 0 {
		return nil, ErrNoBid
	}
	bid := m.bids[bidID]

	cost, err := m.store.Mul(bid.Price, bid.Amount)
	if err != nil {
		return nil, err
	}
	pay, err := m.store.Mul(m.finalPrice, bid.WonAmount)
	if err != nil {
		return nil, err
	}
	refund, err := m.store.Sub(cost, pay)
	if err != nil {
		return nil, err
	}
	if err := m.store.Allow(refund, bidder); err != nil {
		return nil, err
	}
	m.claimed[bidder] = true

	m.emitEvent(Event{Type: EventClaimed, Bidder: bidder, BidID: bidID})
	return &ConfidentialClaim{WonAmount: bid.WonAmount, Refund: refund}, nil
}

// ClaimOwner settles the creator's side as confidential handles.
func (m *ConfidentialMachine) ClaimOwner(caller string) (*ConfidentialOwnerClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.created || caller != m.data.Creator {
		return nil, ErrUnauthorizedAccount
	}
	if err := m.claimable(caller); err != nil {
		return nil, err
	}

	proceeds, err := m.store.Mul(m.slidingSum, m.finalPrice)
	if err != nil {
		return nil, err
	}
	unsold, err := m.store.Sub(m.store.Scalar(m.data.TokenAmount), m.slidingSum)
	if err != nil {
		return nil, err
	}
	if err := m.store.Allow(proceeds, caller); err != nil {
		return nil, err
	}
	if err := m.store.Allow(unsold, caller); err != nil {
		return nil, err
	}
	m.claimed[caller] = true

	m.emitEvent(Event{Type: EventOwnerClaimed, Bidder: caller})
	return &ConfidentialOwnerClaim{Proceeds: proceeds, Unsold: unsold}, nil
}

func (m *ConfidentialMachine) claimable(addr string) error {
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

// Data returns a snapshot of the public portion of the auction state. The
// SlidingSum and FinalPrice fields are always zero here; their confidential
// counterparts live behind handles.
func (m *ConfidentialMachine) Data() core.AuctionData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Bid returns a snapshot of the bid with the given id.
func (m *ConfidentialMachine) Bid(bidID uint64) (ConfBid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[bidID]
	if !ok {
		return ConfBid{}, ErrUnknownBid
	}
	return *bid, nil
}

// BidID returns the caller's bid id, 0 if none.
func (m *ConfidentialMachine) BidID(bidder string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bidIDByAddr[bidder]
}

// Claimed reports whether the address has already withdrawn settlement.
func (m *ConfidentialMachine) Claimed(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed[addr]
}

// VerificationInFlight reports whether an ordering verification is pending.
func (m *ConfidentialMachine) VerificationInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingRequestID != ""
}
