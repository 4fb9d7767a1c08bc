package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cloudx-io/clearauction/auction"
	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/ledgerapi"
)

// Server exposes a Ledger over HTTP.
type Server struct {
	ledger *Ledger
}

// NewServer wraps a ledger.
func NewServer(l *Ledger) *Server {
	return &Server{ledger: l}
}

// RegisterRoutes mounts the ledger API on a chi router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/auctions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{auctionID}", func(r chi.Router) {
			r.Get("/", s.handleAuctionData)
			r.Post("/bids", s.handlePlaceBid)
			r.Get("/bids/{bidID}", s.handleBid)
			r.Get("/bid-id", s.handleBidID)
			r.Get("/claimed", s.handleClaimed)
			r.Post("/process", s.handleProcessNextBid)
			r.Post("/claim", s.handleClaim)
			r.Post("/claim-owner", s.handleClaimOwner)
		})
	})
	r.Post("/api/reencrypt", s.handleReencrypt)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ledgerapi.AuctionListResponse{AuctionIDs: s.ledger.AuctionIDs()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.AuctionID == "" {
		writeError(w, http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "missing auction_id"})
		return
	}
	if err := s.ledger.CreateAuction(req.AuctionID, req.Params, req.Credential); err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct{}{})
}

func (s *Server) handleAuctionData(w http.ResponseWriter, r *http.Request) {
	data, err := s.ledger.AuctionData(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Bidder == "" || req.EncPrice == nil || req.EncAmount == nil {
		writeError(w, http.StatusBadRequest, ledgerapi.ErrorResponse{Error: "bidder, enc_price and enc_amount are required"})
		return
	}
	bidID, err := s.ledger.PlaceBid(chi.URLParam(r, "auctionID"), req.Bidder, req.EncPrice, req.EncAmount)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.PlaceBidResponse{BidID: bidID})
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	bidID, err := strconv.ParseUint(chi.URLParam(r, "bidID"), 10, 64)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	bid, err := s.ledger.Bid(chi.URLParam(r, "auctionID"), bidID)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.BidInfo{
		Bidder:             bid.Bidder,
		Index:              bid.Index,
		Price:              bid.Price,
		Amount:             bid.Amount,
		WonAmount:          bid.WonAmount,
		Processed:          bid.Processed,
		OrderingRejections: bid.Rejections,
	})
}

func (s *Server) handleBidID(w http.ResponseWriter, r *http.Request) {
	bidID, err := s.ledger.BidID(chi.URLParam(r, "auctionID"), r.URL.Query().Get("bidder"))
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.BidIDResponse{BidID: bidID})
}

func (s *Server) handleClaimed(w http.ResponseWriter, r *http.Request) {
	claimed, err := s.ledger.Claimed(chi.URLParam(r, "auctionID"), r.URL.Query().Get("address"))
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.ClaimedResponse{Claimed: claimed})
}

func (s *Server) handleProcessNextBid(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.ProcessNextBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	requestID, err := s.ledger.ProcessNextBid(chi.URLParam(r, "auctionID"), req.Caller, req.BidID)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.ProcessNextBidResponse{RequestID: requestID})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	claim, err := s.ledger.Claim(chi.URLParam(r, "auctionID"), req.Caller)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.ClaimResponse{WonAmount: claim.WonAmount, Refund: claim.Refund})
}

func (s *Server) handleClaimOwner(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	claim, err := s.ledger.ClaimOwner(chi.URLParam(r, "auctionID"), req.Caller)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerapi.ClaimOwnerResponse{Proceeds: claim.Proceeds, Unsold: claim.Unsold})
}

func (s *Server) handleReencrypt(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.ReencryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	pub, err := confidential.ParsePublicKeyPEM(req.PublicKeyPEM)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ev, err := s.ledger.Store().Reencrypt(req.Handle, req.Requester, pub)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// machineErrorCodes maps machine policy violations to wire codes and HTTP
// statuses. Anything not listed is an internal fault.
var machineErrorCodes = []struct {
	err    error
	code   string
	status int
}{
	{auction.ErrAuctionAlreadyCreated, ledgerapi.CodeAuctionAlreadyCreated, http.StatusConflict},
	{auction.ErrAuctionNotActive, ledgerapi.CodeAuctionNotActive, http.StatusConflict},
	{auction.ErrAuctionNotEnded, ledgerapi.CodeAuctionNotEnded, http.StatusConflict},
	{auction.ErrAuctionNotProcessed, ledgerapi.CodeAuctionNotProcessed, http.StatusConflict},
	{auction.ErrBidAlreadyPlaced, ledgerapi.CodeBidAlreadyPlaced, http.StatusConflict},
	{auction.ErrWrongBidOrder, ledgerapi.CodeWrongBidOrder, http.StatusConflict},
	{auction.ErrUnauthorizedAccount, ledgerapi.CodeUnauthorizedAccount, http.StatusForbidden},
	{auction.ErrAlreadyClaimed, ledgerapi.CodeAlreadyClaimed, http.StatusConflict},
	{auction.ErrNoBid, ledgerapi.CodeNoBid, http.StatusNotFound},
	{auction.ErrInvalidTimeWindow, ledgerapi.CodeInvalidTimeWindow, http.StatusBadRequest},
	{auction.ErrUnknownBid, ledgerapi.CodeUnknownBid, http.StatusNotFound},
	{auction.ErrVerificationPending, ledgerapi.CodeVerificationPending, http.StatusConflict},
	{ErrUnknownAuction, ledgerapi.CodeUnknownAuction, http.StatusNotFound},
	{confidential.ErrAccessDenied, ledgerapi.CodeAccessDenied, http.StatusForbidden},
	{confidential.ErrUnknownHandle, ledgerapi.CodeUnknownBid, http.StatusNotFound},
}

func writeMachineError(w http.ResponseWriter, err error) {
	for _, m := range machineErrorCodes {
		if errors.Is(err, m.err) {
			writeError(w, m.status, ledgerapi.ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	log.Printf("ERROR: Ledger request failed: %v", err)
	writeError(w, http.StatusBadRequest, ledgerapi.ErrorResponse{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, ledgerapi.ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
}

func writeError(w http.ResponseWriter, status int, resp ledgerapi.ErrorResponse) {
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}
