package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudx-io/clearauction/auction"
	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/core"
	"github.com/cloudx-io/clearauction/ledgerapi"
)

// codeErrors maps wire error codes back to the machine sentinels, so
// errors.Is works identically against a remote ledger and an in-process one.
var codeErrors = map[string]error{
	ledgerapi.CodeAuctionAlreadyCreated: auction.ErrAuctionAlreadyCreated,
	ledgerapi.CodeAuctionNotActive:      auction.ErrAuctionNotActive,
	ledgerapi.CodeAuctionNotEnded:       auction.ErrAuctionNotEnded,
	ledgerapi.CodeAuctionNotProcessed:   auction.ErrAuctionNotProcessed,
	ledgerapi.CodeBidAlreadyPlaced:      auction.ErrBidAlreadyPlaced,
	ledgerapi.CodeWrongBidOrder:         auction.ErrWrongBidOrder,
	ledgerapi.CodeUnauthorizedAccount:   auction.ErrUnauthorizedAccount,
	ledgerapi.CodeAlreadyClaimed:        auction.ErrAlreadyClaimed,
	ledgerapi.CodeNoBid:                 auction.ErrNoBid,
	ledgerapi.CodeInvalidTimeWindow:     auction.ErrInvalidTimeWindow,
	ledgerapi.CodeUnknownBid:            auction.ErrUnknownBid,
	ledgerapi.CodeVerificationPending:   auction.ErrVerificationPending,
	ledgerapi.CodeUnknownAuction:        ErrUnknownAuction,
	ledgerapi.CodeAccessDenied:          confidential.ErrAccessDenied,
}

// Client is the HTTP client for the ledger API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the ledger at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ledgerapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("ledger returned status %d", resp.StatusCode)
		}
		if sentinel, ok := codeErrors[apiErr.Code]; ok {
			return sentinel
		}
		return fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, apiErr.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateAuction creates an auction with the sequencer's authorization
// credential.
func (c *Client) CreateAuction(ctx context.Context, auctionID string, params core.AuctionParams, credential []byte) error {
	return c.do(ctx, http.MethodPost, "/api/auctions", ledgerapi.CreateAuctionRequest{
		AuctionID:  auctionID,
		Params:     params,
		Credential: credential,
	}, nil)
}

// AuctionIDs lists auctions in creation order.
func (c *Client) AuctionIDs(ctx context.Context) ([]string, error) {
	var resp ledgerapi.AuctionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/auctions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.AuctionIDs, nil
}

// AuctionData fetches the public auction state.
func (c *Client) AuctionData(ctx context.Context, auctionID string) (core.AuctionData, error) {
	var data core.AuctionData
	err := c.do(ctx, http.MethodGet, "/api/auctions/"+url.PathEscape(auctionID), nil, &data)
	return data, err
}

// PlaceBid submits a sealed bid.
func (c *Client) PlaceBid(ctx context.Context, auctionID, bidder string, encPrice, encAmount *confidential.EncryptedValue) (uint64, error) {
	var resp ledgerapi.PlaceBidResponse
	err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/bids", ledgerapi.PlaceBidRequest{
		Bidder:    bidder,
		EncPrice:  encPrice,
		EncAmount: encAmount,
	}, &resp)
	return resp.BidID, err
}

// Bid fetches the public view of a bid.
func (c *Client) Bid(ctx context.Context, auctionID string, bidID uint64) (ledgerapi.BidInfo, error) {
	var info ledgerapi.BidInfo
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/auctions/%s/bids/%d", url.PathEscape(auctionID), bidID), nil, &info)
	return info, err
}

// BidID resolves a bidder address to its bid id.
func (c *Client) BidID(ctx context.Context, auctionID, bidder string) (uint64, error) {
	var resp ledgerapi.BidIDResponse
	err := c.do(ctx, http.MethodGet,
		"/api/auctions/"+url.PathEscape(auctionID)+"/bid-id?bidder="+url.QueryEscape(bidder), nil, &resp)
	return resp.BidID, err
}

// Claimed reports whether an address has withdrawn settlement.
func (c *Client) Claimed(ctx context.Context, auctionID, addr string) (bool, error) {
	var resp ledgerapi.ClaimedResponse
	err := c.do(ctx, http.MethodGet,
		"/api/auctions/"+url.PathEscape(auctionID)+"/claimed?address="+url.QueryEscape(addr), nil, &resp)
	return resp.Claimed, err
}

// ProcessNextBid starts finalization of the given bid.
func (c *Client) ProcessNextBid(ctx context.Context, auctionID, caller string, bidID uint64) (string, error) {
	var resp ledgerapi.ProcessNextBidResponse
	err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/process", ledgerapi.ProcessNextBidRequest{
		Caller: caller,
		BidID:  bidID,
	}, &resp)
	return resp.RequestID, err
}

// Claim settles the caller's bid.
func (c *Client) Claim(ctx context.Context, auctionID, caller string) (*ledgerapi.ClaimResponse, error) {
	var resp ledgerapi.ClaimResponse
	if err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/claim",
		ledgerapi.ClaimRequest{Caller: caller}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClaimOwner settles the creator's side.
func (c *Client) ClaimOwner(ctx context.Context, auctionID, caller string) (*ledgerapi.ClaimOwnerResponse, error) {
	var resp ledgerapi.ClaimOwnerResponse
	if err := c.do(ctx, http.MethodPost, "/api/auctions/"+url.PathEscape(auctionID)+"/claim-owner",
		ledgerapi.ClaimRequest{Caller: caller}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reencrypt asks the value service to reencrypt a handle's value to the
// requester's RSA public key.
func (c *Client) Reencrypt(ctx context.Context, handle confidential.Handle, requester, publicKeyPEM string) (*confidential.EncryptedValue, error) {
	var ev confidential.EncryptedValue
	if err := c.do(ctx, http.MethodPost, "/api/reencrypt", ledgerapi.ReencryptRequest{
		Handle:       handle,
		Requester:    requester,
		PublicKeyPEM: publicKeyPEM,
	}, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
