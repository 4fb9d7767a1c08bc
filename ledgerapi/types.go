// Package ledgerapi defines the wire types of the ledger HTTP API. Caller
// identity travels as a request field; transport-level authentication is the
// deployment's concern.
package ledgerapi

import (
	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/core"
)

// CreateAuctionRequest creates a new auction machine. Credential is the
// sequencer's COSE_Sign1 authorization over the parameter tuple.
type CreateAuctionRequest struct {
	AuctionID  string             `json:"auction_id"`
	Params     core.AuctionParams `json:"params"`
	Credential []byte             `json:"credential"`
}

// PlaceBidRequest submits a sealed bid. Price and amount are encrypted to the
// ledger's confidential-value service key.
type PlaceBidRequest struct {
	Bidder    string                       `json:"bidder"`
	EncPrice  *confidential.EncryptedValue `json:"enc_price"`
	EncAmount *confidential.EncryptedValue `json:"enc_amount"`
}

// PlaceBidResponse carries the assigned bid id.
type PlaceBidResponse struct {
	BidID uint64 `json:"bid_id"`
}

// ProcessNextBidRequest asks the machine to finalize the given bid next.
type ProcessNextBidRequest struct {
	Caller string `json:"caller"`
	BidID  uint64 `json:"bid_id"`
}

// ProcessNextBidResponse returns the ordering-verification correlation id.
type ProcessNextBidResponse struct {
	RequestID string `json:"request_id"`
}

// ClaimRequest settles the caller's side of a finished auction.
type ClaimRequest struct {
	Caller string `json:"caller"`
}

// ClaimResponse carries the bidder settlement handles, reencryptable by the
// claimant.
type ClaimResponse struct {
	WonAmount confidential.Handle `json:"won_amount"`
	Refund    confidential.Handle `json:"refund"`
}

// ClaimOwnerResponse carries the creator settlement handles.
type ClaimOwnerResponse struct {
	Proceeds confidential.Handle `json:"proceeds"`
	Unsold   confidential.Handle `json:"unsold"`
}

// BidInfo is the public view of a sealed bid. Price and amount are handles;
// their plaintext is only reachable through authorized reencryption.
type BidInfo struct {
	Bidder    string              `json:"bidder"`
	Index     uint64              `json:"index"`
	Price     confidential.Handle `json:"price"`
	Amount    confidential.Handle `json:"amount"`
	WonAmount confidential.Handle `json:"won_amount,omitempty"`
	Processed bool                `json:"processed"`
	// Negative ordering verdicts delivered for this bid so far
	OrderingRejections uint64 `json:"ordering_rejections,omitempty"`
}

// AuctionListResponse enumerates auctions in creation order.
type AuctionListResponse struct {
	AuctionIDs []string `json:"auction_ids"`
}

// ReencryptRequest asks the value service to reencrypt a handle's value to
// the requester's RSA public key. Rejected unless the requester is on the
// value's ACL.
type ReencryptRequest struct {
	Handle       confidential.Handle `json:"handle"`
	Requester    string              `json:"requester"`
	PublicKeyPEM string              `json:"public_key_pem"`
}

// BidIDResponse resolves an address to its bid id, 0 if none.
type BidIDResponse struct {
	BidID uint64 `json:"bid_id"`
}

// ClaimedResponse reports whether an address has withdrawn settlement.
type ClaimedResponse struct {
	Claimed bool `json:"claimed"`
}

// ErrorResponse is the uniform error envelope. Code identifies machine policy
// violations so clients can map them back to sentinel errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Machine policy-violation codes carried in ErrorResponse.Code.
const (
	CodeAuctionAlreadyCreated = "auction_already_created"
	CodeAuctionNotActive      = "auction_not_active"
	CodeAuctionNotEnded       = "auction_not_ended"
	CodeAuctionNotProcessed   = "auction_not_processed"
	CodeBidAlreadyPlaced      = "bid_already_placed"
	CodeWrongBidOrder         = "wrong_bid_order"
	CodeUnauthorizedAccount   = "unauthorized_account"
	CodeAlreadyClaimed        = "already_claimed"
	CodeNoBid                 = "no_bid"
	CodeInvalidTimeWindow     = "invalid_time_window"
	CodeUnknownBid            = "unknown_bid"
	CodeUnknownAuction        = "unknown_auction"
	CodeVerificationPending   = "verification_pending"
	CodeAccessDenied          = "access_denied"
)
