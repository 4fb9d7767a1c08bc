package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestClearingStep_FullFill(t *testing.T) {
	won, sum := ClearingStep(100, 0, 40)
	check.Equal(t, uint64(40), won)
	check.Equal(t, uint64(40), sum)
}

func TestClearingStep_PartialFillAtMargin(t *testing.T) {
	// 70 of 100 already allocated; a 50-unit bid only gets the remaining 30
	won, sum := ClearingStep(100, 70, 50)
	check.Equal(t, uint64(30), won)
	check.Equal(t, uint64(100), sum)
}

func TestClearingStep_SupplyExhausted(t *testing.T) {
	won, sum := ClearingStep(100, 100, 10)
	check.Equal(t, uint64(0), won)
	check.Equal(t, uint64(100), sum)
}

func TestClearingStep_ZeroAmountBid(t *testing.T) {
	won, sum := ClearingStep(100, 40, 0)
	check.Equal(t, uint64(0), won)
	check.Equal(t, uint64(40), sum)
}

func TestClearingStep_Sequence(t *testing.T) {
	// Supply 100; bids (100,40),(90,30),(80,50) -> 40,30,30
	type step struct {
		amount, wantWon, wantSum uint64
	}
	steps := []step{
		{amount: 40, wantWon: 40, wantSum: 40},
		{amount: 30, wantWon: 30, wantSum: 70},
		{amount: 50, wantWon: 30, wantSum: 100},
	}

	var sum uint64
	for i, s := range steps {
		won, newSum := ClearingStep(100, sum, s.amount)
		check.Equal(t, s.wantWon, won)
		check.Equal(t, s.wantSum, newSum)
		if t.Failed() {
			t.Fatalf("step %d failed", i)
		}
		sum = newSum
	}
}

func TestNextInOrder_FirstBidAlwaysInOrder(t *testing.T) {
	check.True(t, NextInOrder(0, 0, 100, 3))
	check.True(t, NextInOrder(0, 0, 0, 1))
}

func TestNextInOrder_DescendingPrice(t *testing.T) {
	check.True(t, NextInOrder(100, 1, 90, 2))
	check.False(t, NextInOrder(90, 2, 100, 1))
}

func TestNextInOrder_EqualPriceTieBreaksOnIndex(t *testing.T) {
	// equal price: only an earlier-submitted bid may come first
	check.True(t, NextInOrder(90, 2, 90, 5))
	check.False(t, NextInOrder(90, 5, 90, 2))
	check.False(t, NextInOrder(90, 5, 90, 5))
}

func TestSortBidOrder(t *testing.T) {
	entries := []BidOrderEntry{
		{BidID: 1, Price: 80},
		{BidID: 2, Price: 100},
		{BidID: 3, Price: 90},
		{BidID: 4, Price: 90},
	}

	SortBidOrder(entries)

	check.Equal(t, []BidOrderEntry{
		{BidID: 2, Price: 100},
		{BidID: 3, Price: 90},
		{BidID: 4, Price: 90},
		{BidID: 1, Price: 80},
	}, entries)
}

func TestSortBidOrder_ProducesValidProcessingSequence(t *testing.T) {
	entries := []BidOrderEntry{
		{BidID: 1, Price: 50},
		{BidID: 2, Price: 75},
		{BidID: 3, Price: 75},
		{BidID: 4, Price: 100},
		{BidID: 5, Price: 50},
	}

	SortBidOrder(entries)

	prevPrice, prevIndex := uint64(0), uint64(0)
	for _, e := range entries {
		check.True(t, NextInOrder(prevPrice, prevIndex, e.Price, e.BidID))
		prevPrice, prevIndex = e.Price, e.BidID
	}
}
