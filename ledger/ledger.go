// Package ledger is the reference ledger: an in-process host for confidential
// auction clearing machines with a creation-ordered registry, read accessors,
// an event feed and an HTTP API. Each machine serializes its own state
// transitions, so the ordering-verification callback and processNextBid are
// atomic with respect to each other.
package ledger

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cloudx-io/clearauction/auction"
	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/core"
)

// ErrUnknownAuction is returned for auction ids the ledger has never created.
var ErrUnknownAuction = errors.New("unknown auction id")

// Ledger hosts auction machines keyed by auction id.
type Ledger struct {
	mu       sync.RWMutex
	store    *confidential.Store
	machines map[string]*auction.ConfidentialMachine
	order    []string
	events   *EventLog
	now      func() time.Time
}

// New creates an empty ledger backed by the given confidential value store.
// now may be nil for wall-clock time.
func New(store *confidential.Store, now func() time.Time) *Ledger {
	return &Ledger{
		store:    store,
		machines: make(map[string]*auction.ConfidentialMachine),
		events:   NewEventLog(),
		now:      now,
	}
}

// Store returns the backing confidential value store.
func (l *Ledger) Store() *confidential.Store { return l.store }

// Events returns the ledger-wide event log.
func (l *Ledger) Events() *EventLog { return l.events }

// CreateAuction creates and registers a machine for the given auction id.
// The machine only joins the registry if creation succeeds.
func (l *Ledger) CreateAuction(auctionID string, params core.AuctionParams, credential []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.machines[auctionID]; ok {
		return auction.ErrAuctionAlreadyCreated
	}

	m := auction.NewConfidentialMachine(auctionID, l.store, l.now, l.events.Append)
	if err := m.CreateAuction(params, credential); err != nil {
		return err
	}
	l.machines[auctionID] = m
	l.order = append(l.order, auctionID)

	log.Printf("INFO: Created auction %s (%d units of %s, floor %d %s)",
		auctionID, params.TokenAmount, params.Token, params.FloorPrice, params.BidToken)
	return nil
}

// Count returns the number of registered auctions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// AuctionAt returns the id of the i-th auction in creation order.
func (l *Ledger) AuctionAt(i int) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.order) {
		return "", ErrUnknownAuction
	}
	return l.order[i], nil
}

// AuctionIDs returns all auction ids in creation order.
func (l *Ledger) AuctionIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, len(l.order))
	copy(ids, l.order)
	return ids
}

func (l *Ledger) machine(auctionID string) (*auction.ConfidentialMachine, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.machines[auctionID]
	if !ok {
		return nil, ErrUnknownAuction
	}
	return m, nil
}

// PlaceBid submits a sealed bid to the named auction.
func (l *Ledger) PlaceBid(auctionID, bidder string, encPrice, encAmount *confidential.EncryptedValue) (uint64, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return 0, err
	}
	return m.PlaceBid(bidder, encPrice, encAmount)
}

// ProcessNextBid starts finalization of the given bid and returns the
// ordering-verification correlation id.
func (l *Ledger) ProcessNextBid(auctionID, caller string, bidID uint64) (string, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return "", err
	}
	return m.ProcessNextBid(caller, bidID)
}

// Claim settles a bidder's side of the named auction.
func (l *Ledger) Claim(auctionID, bidder string) (*auction.ConfidentialClaim, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return nil, err
	}
	return m.Claim(bidder)
}

// ClaimOwner settles the creator's side of the named auction.
func (l *Ledger) ClaimOwner(auctionID, caller string) (*auction.ConfidentialOwnerClaim, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return nil, err
	}
	return m.ClaimOwner(caller)
}

// AuctionData returns the public auction state.
func (l *Ledger) AuctionData(auctionID string) (core.AuctionData, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return core.AuctionData{}, err
	}
	return m.Data(), nil
}

// Bid returns the public view of a bid.
func (l *Ledger) Bid(auctionID string, bidID uint64) (auction.ConfBid, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return auction.ConfBid{}, err
	}
	return m.Bid(bidID)
}

// BidID resolves a bidder address to its bid id, 0 if none.
func (l *Ledger) BidID(auctionID, bidder string) (uint64, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return 0, err
	}
	return m.BidID(bidder), nil
}

// Claimed reports whether the address has withdrawn settlement.
func (l *Ledger) Claimed(auctionID, addr string) (bool, error) {
	m, err := l.machine(auctionID)
	if err != nil {
		return false, err
	}
	return m.Claimed(addr), nil
}
