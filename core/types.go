package core

// AuctionParams are the immutable parameters fixed at auction creation.
type AuctionParams struct {
	Token        string `json:"token"`         // asset being sold
	TokenAmount  uint64 `json:"token_amount"`  // total supply on offer
	BidToken     string `json:"bid_token"`     // payment asset
	BidSequencer string `json:"bid_sequencer"` // authorized sequencer address
	FloorPrice   uint64 `json:"floor_price"`   // minimum accepted bid price
	StartTime    int64  `json:"start_time"`    // unix seconds, inclusive
	EndTime      int64  `json:"end_time"`      // unix seconds, exclusive
	Creator      string `json:"creator"`
}

// AuctionData is the full mutable auction state as exposed by the ledger's
// read accessor. Index fields start at 1; 0 means "no bid".
type AuctionData struct {
	AuctionParams
	BidIndex           uint64 `json:"bid_index"`             // next bid index to assign
	ProcessedBidIndex  uint64 `json:"processed_bid_index"`   // next bid index eligible for processing
	SlidingSum         uint64 `json:"sliding_sum"`           // cumulative allocated supply
	LastProcessedBidID uint64 `json:"last_processed_bid_id"` // 0 until the first bid is finalized
	FinalPrice         uint64 `json:"final_price"`           // price of the most recently finalized bid
}

// Settled reports whether every placed bid has been finalized.
func (a *AuctionData) Settled() bool {
	return a.ProcessedBidIndex == a.BidIndex
}

// Bid is a single sealed bid. WonAmount is zero until the bid is finalized,
// then set exactly once.
type Bid struct {
	Bidder    string `json:"bidder"`
	Price     uint64 `json:"price"`
	Amount    uint64 `json:"amount"`
	WonAmount uint64 `json:"won_amount"`
	Index     uint64 `json:"index"`
	Processed bool   `json:"processed"`
}

// BidOrderEntry is one element of the processing order computed off-chain by
// the sequencer after decrypting bid prices.
type BidOrderEntry struct {
	BidID uint64 `json:"bid_id"`
	Price uint64 `json:"price"`
}
