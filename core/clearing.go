package core

import "sort"

// ClearingStep computes the allocation for the next bid in the processing
// sequence. The bid receives the smaller of its requested amount and the
// remaining supply; the sliding sum grows by exactly the won amount.
//
// Returns:
//   - wonAmount: quantity allocated to this bid (0 once supply is exhausted)
//   - newSlidingSum: slidingSum + wonAmount
func ClearingStep(tokenAmount, slidingSum, bidAmount uint64) (wonAmount, newSlidingSum uint64) {
	var remaining uint64
	if tokenAmount > slidingSum {
		remaining = tokenAmount - slidingSum
	}
	wonAmount = bidAmount
	if wonAmount > remaining {
		wonAmount = remaining
	}
	return wonAmount, slidingSum + wonAmount
}

// NextInOrder is the canonical processing-order predicate: a bid may follow
// the previously finalized bid iff its price is strictly lower, or equal with
// a strictly higher submission index. prevIndex == 0 means no bid has been
// finalized yet, in which case any bid is in order.
func NextInOrder(prevPrice uint64, prevIndex uint64, price uint64, index uint64) bool {
	if prevIndex == 0 {
		return true
	}
	if price < prevPrice {
		return true
	}
	return price == prevPrice && index > prevIndex
}

// SortBidOrder sorts entries into canonical processing order: price
// descending, submission index ascending on ties. Sorting is stable with
// respect to nothing else; the (price, index) pair is a total order because
// indexes are unique per auction.
func SortBidOrder(entries []BidOrderEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Price != entries[j].Price {
			return entries[i].Price > entries[j].Price
		}
		return entries[i].BidID < entries[j].BidID
	})
}
