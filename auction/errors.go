package auction

import "errors"

// Policy violations. These are permanent rejections of the specific call and
// are never retried automatically; the caller must correct the input.
var (
	ErrAuctionAlreadyCreated = errors.New("auction already created")
	ErrAuctionNotActive      = errors.New("auction not active")
	ErrAuctionNotEnded       = errors.New("auction not ended")
	ErrAuctionNotProcessed   = errors.New("auction not fully processed")
	ErrBidAlreadyPlaced      = errors.New("bid already placed")
	ErrBidZeroAmount         = errors.New("bid amount is zero")
	ErrBidNotHighEnough      = errors.New("bid price below floor price")
	ErrWrongBidOrder         = errors.New("wrong bid processing order")
	ErrUnauthorizedAccount   = errors.New("unauthorized account")
	ErrAlreadyClaimed        = errors.New("already claimed")
	ErrNoBid                 = errors.New("no bid from this address")
	ErrInvalidTimeWindow     = errors.New("start time must precede end time")
	ErrUnknownBid            = errors.New("unknown bid id")
)

// Protocol errors around the asynchronous ordering verification.
var (
	// ErrVerificationPending rejects a processNextBid while a previous step's
	// ordering verification is still in flight. The sequencer must wait for
	// the callback before issuing the next step.
	ErrVerificationPending = errors.New("ordering verification already in flight")

	// ErrUnknownRequest rejects a callback whose request id does not match
	// the in-flight verification.
	ErrUnknownRequest = errors.New("unknown verification request id")
)
