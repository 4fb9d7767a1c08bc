package core

import (
	"errors"
	"math/bits"
)

// ErrPayoutOverflow is returned when a settlement product exceeds the uint64
// range. The machine refuses to settle rather than wrap silently.
var ErrPayoutOverflow = errors.New("payout computation overflows uint64")

// mulChecked multiplies two quantities, rejecting uint64 overflow.
func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrPayoutOverflow
	}
	return lo, nil
}

// BidderPayout computes a bidder's settlement once the auction is settled.
// Every winner pays the uniform clearing price for their allocation; the rest
// of what they locked at bid time is refunded.
//
// Returns:
//   - won: quantity of the auctioned token owed to the bidder
//   - refund: bid-token refund, bid.price*bid.amount - finalPrice*won
func BidderPayout(bid Bid, finalPrice uint64) (won, refund uint64, err error) {
	locked, err := mulChecked(bid.Price, bid.Amount)
	if err != nil {
		return 0, 0, err
	}
	pay, err := mulChecked(finalPrice, bid.WonAmount)
	if err != nil {
		return 0, 0, err
	}
	// pay never exceeds locked: wonAmount <= amount and, in any valid
	// finalization sequence, finalPrice <= bid.price
	return bid.WonAmount, locked - pay, nil
}

// CreatorPayout computes the creator's settlement: proceeds for every sold
// unit at the clearing price, plus the unsold remainder of the supply.
func CreatorPayout(slidingSum, finalPrice, tokenAmount uint64) (proceeds, unsold uint64, err error) {
	proceeds, err = mulChecked(slidingSum, finalPrice)
	if err != nil {
		return 0, 0, err
	}
	return proceeds, tokenAmount - slidingSum, nil
}
