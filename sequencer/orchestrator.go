// Package sequencer implements the bid sequencer orchestrator: a perpetual
// loop that discovers finished auctions assigned to this sequencer, recovers
// the canonical bid order by decrypting bid prices, and drives each machine
// through finalization one bid at a time.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/clearauction/auction"
	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/core"
	"github.com/cloudx-io/clearauction/ledgerapi"
)

// Ledger is the sequencer-facing slice of the ledger API. Satisfied by
// *ledger.Client and, for in-process deployments, by *ledger.Ledger through
// a thin adapter.
type Ledger interface {
	AuctionIDs(ctx context.Context) ([]string, error)
	AuctionData(ctx context.Context, auctionID string) (core.AuctionData, error)
	Bid(ctx context.Context, auctionID string, bidID uint64) (ledgerapi.BidInfo, error)
	Reencrypt(ctx context.Context, handle confidential.Handle, requester, publicKeyPEM string) (*confidential.EncryptedValue, error)
	ProcessNextBid(ctx context.Context, auctionID, caller string, bidID uint64) (string, error)
}

// Config tunes the orchestrator loop.
type Config struct {
	// Address is this sequencer's ledger identity; only auctions whose
	// bidSequencer matches are driven.
	Address string

	// TickInterval is the idle delay between discovery passes.
	TickInterval time.Duration

	// ConfirmTimeout bounds the wait for one bid's finalization to be
	// confirmed. On expiry the same bid is resubmitted; bids are never
	// skipped.
	ConfirmTimeout time.Duration

	// ConfirmPoll is the delay between confirmation polls.
	ConfirmPoll time.Duration

	// MaxConfirmRetries bounds how often one bid is resubmitted after
	// confirmation timeouts within a single pass. Once exhausted the auction
	// is abandoned for this pass and retried on the next one with a freshly
	// recovered order.
	MaxConfirmRetries int

	// MaxBackoff caps the exponential backoff applied after failed ticks.
	MaxBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 90 * time.Second
	}
	if c.ConfirmPoll <= 0 {
		c.ConfirmPoll = 500 * time.Millisecond
	}
	if c.MaxConfirmRetries <= 0 {
		c.MaxConfirmRetries = 3
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
}

// Orchestrator drives auction clearing for one sequencer identity.
type Orchestrator struct {
	cfg    Config
	ledger Ledger
	keys   *confidential.KeyManager
	pubPEM string
	now    func() time.Time
}

// New creates an orchestrator. The key manager's public key is what bid
// prices get reencrypted to during order recovery. now may be nil for
// wall-clock time.
func New(cfg Config, l Ledger, keys *confidential.KeyManager, now func() time.Time) (*Orchestrator, error) {
	if cfg.Address == "" {
		return nil, errors.New("sequencer address is required")
	}
	cfg.applyDefaults()

	pubPEM, err := keys.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to encode sequencer public key: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{cfg: cfg, ledger: l, keys: keys, pubPEM: pubPEM, now: now}, nil
}

// Run executes the discovery loop until the context is cancelled. Failed
// ticks back off exponentially up to MaxBackoff; a clean tick resets the
// delay.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("INFO: Sequencer %s starting, tick interval %s", o.cfg.Address, o.cfg.TickInterval)

	delay := o.cfg.TickInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("INFO: Sequencer %s shutting down", o.cfg.Address)
			return ctx.Err()
		case <-timer.C:
		}

		if err := o.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				log.Printf("INFO: Sequencer %s shutting down", o.cfg.Address)
				return ctx.Err()
			}
			log.Printf("ERROR: Sequencer tick failed: %v", err)
			delay *= 2
			if delay > o.cfg.MaxBackoff {
				delay = o.cfg.MaxBackoff
			}
		} else {
			delay = o.cfg.TickInterval
		}
		timer.Reset(delay)
	}
}

// Tick runs one discovery pass: every finished, unsettled auction assigned to
// this sequencer is driven to completion. Auctions are handled sequentially
// and independently; one auction failing does not keep the others from being
// driven in the same pass.
func (o *Orchestrator) Tick(ctx context.Context) error {
	ids, err := o.ledger.AuctionIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list auctions: %w", err)
	}

	var failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := o.ledger.AuctionData(ctx, id)
		if err != nil {
			log.Printf("ERROR: Failed to read auction %s: %v", id, err)
			failed++
			continue
		}
		if !o.eligible(data) {
			continue
		}
		log.Printf("INFO: Driving auction %s (%d of %d bids processed)",
			id, data.ProcessedBidIndex-1, data.BidIndex-1)
		if err := o.driveAuction(ctx, id, data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("ERROR: Failed to drive auction %s: %v", id, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d auctions failed this pass", failed, len(ids))
	}
	return nil
}

// eligible reports whether an auction needs this sequencer's attention: it is
// assigned to us, its bidding window has closed, and bids remain unprocessed.
func (o *Orchestrator) eligible(data core.AuctionData) bool {
	return data.BidSequencer == o.cfg.Address &&
		o.now().Unix() >= data.EndTime &&
		data.ProcessedBidIndex < data.BidIndex
}

// driveAuction finalizes all remaining bids of one auction in canonical
// order. Submission is strictly sequential: each bid is confirmed finalized
// before the next is submitted.
func (o *Orchestrator) driveAuction(ctx context.Context, auctionID string, data core.AuctionData) error {
	order, err := o.recoverOrder(ctx, auctionID, data)
	if err != nil {
		return err
	}

	for _, entry := range order {
		if err := o.finalizeBid(ctx, auctionID, entry.BidID); err != nil {
			return err
		}
	}

	log.Printf("INFO: Auction %s fully processed", auctionID)
	return nil
}

// recoverOrder decrypts the prices of all unprocessed bids through
// authorized reencryption and sorts them into canonical processing order.
func (o *Orchestrator) recoverOrder(ctx context.Context, auctionID string, data core.AuctionData) ([]core.BidOrderEntry, error) {
	var entries []core.BidOrderEntry
	for bidID := uint64(1); bidID < data.BidIndex; bidID++ {
		info, err := o.ledger.Bid(ctx, auctionID, bidID)
		if err != nil {
			return nil, fmt.Errorf("failed to read bid %d: %w", bidID, err)
		}
		if info.Processed {
			continue
		}

		ev, err := o.ledger.Reencrypt(ctx, info.Price, o.cfg.Address, o.pubPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to reencrypt price of bid %d: %w", bidID, err)
		}
		price, err := o.keys.Decrypt(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt price of bid %d: %w", bidID, err)
		}
		entries = append(entries, core.BidOrderEntry{BidID: bidID, Price: price})
	}

	core.SortBidOrder(entries)
	return entries, nil
}

// finalizeBid submits one bid for processing and waits for the machine to
// confirm finalization. Confirmation timeouts resubmit the same bid up to
// MaxConfirmRetries times; the walk never skips ahead. A negative ordering
// verdict, observed through the bid's rejection counter, means the recovered
// order is stale and fails the auction so the next pass recomputes it.
func (o *Orchestrator) finalizeBid(ctx context.Context, auctionID string, bidID uint64) error {
	baseline, err := o.ledger.Bid(ctx, auctionID, bidID)
	if err != nil {
		return fmt.Errorf("failed to read bid %d: %w", bidID, err)
	}
	if baseline.Processed {
		return nil
	}

	for attempt := 1; ; attempt++ {
		requestID, err := o.ledger.ProcessNextBid(ctx, auctionID, o.cfg.Address, bidID)
		switch {
		case err == nil:
			log.Printf("INFO: Submitted bid %d of auction %s for processing (request %s)",
				bidID, auctionID, requestID)
		case errors.Is(err, auction.ErrBidAlreadyPlaced):
			// Already finalized, e.g. by a previous run that died before
			// confirming
			return nil
		case errors.Is(err, auction.ErrVerificationPending):
			log.Printf("WARNING: Ordering verification still in flight for auction %s, waiting", auctionID)
		case errors.Is(err, auction.ErrWrongBidOrder):
			// Permanent verdict, distinct from transient faults: the machine
			// disagrees with our recovered order
			return fmt.Errorf("ledger rejected processing order for bid %d: %w", bidID, err)
		default:
			return fmt.Errorf("failed to submit bid %d: %w", bidID, err)
		}

		outcome, err := o.awaitFinalized(ctx, auctionID, bidID, baseline.OrderingRejections)
		if err != nil {
			return err
		}
		switch outcome {
		case bidFinalized:
			return nil
		case bidRejected:
			log.Printf("WARNING: Machine rejected processing order for bid %d of auction %s, recomputing order next pass",
				bidID, auctionID)
			return fmt.Errorf("processing order for bid %d rejected: %w", bidID, auction.ErrWrongBidOrder)
		}
		if attempt >= o.cfg.MaxConfirmRetries {
			return fmt.Errorf("bid %d not confirmed after %d submissions", bidID, attempt)
		}
		log.Printf("WARNING: Bid %d of auction %s not confirmed within %s, resubmitting",
			bidID, auctionID, o.cfg.ConfirmTimeout)
	}
}

// confirmOutcome is the result of waiting for one bid's finalization.
type confirmOutcome int

const (
	bidTimedOut confirmOutcome = iota
	bidFinalized
	bidRejected
)

// awaitFinalized polls the bid until it is finalized, its ordering-rejection
// counter moves past the baseline, or ConfirmTimeout elapses. The machine
// abandons a negatively verified step without marking the bid, so the counter
// is the only confirmation a rejection leaves behind.
func (o *Orchestrator) awaitFinalized(ctx context.Context, auctionID string, bidID, baselineRejections uint64) (confirmOutcome, error) {
	deadline := time.NewTimer(o.cfg.ConfirmTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(o.cfg.ConfirmPoll)
	defer poll.Stop()

	for {
		info, err := o.ledger.Bid(ctx, auctionID, bidID)
		if err != nil {
			return bidTimedOut, fmt.Errorf("failed to poll bid %d: %w", bidID, err)
		}
		if info.Processed {
			return bidFinalized, nil
		}
		if info.OrderingRejections > baselineRejections {
			return bidRejected, nil
		}

		select {
		case <-ctx.Done():
			return bidTimedOut, ctx.Err()
		case <-deadline.C:
			return bidTimedOut, nil
		case <-poll.C:
		}
	}
}
