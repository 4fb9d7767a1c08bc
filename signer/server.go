package signer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cloudx-io/clearauction/core"
)

// SignRequest is the body of POST /api/sign. Numeric fields arrive as strings
// so callers can pass full uint64 ranges without JSON number precision loss.
// FloorPrice is a human-readable decimal string scaled by Decimals.
type SignRequest struct {
	AuctionID    string `json:"auction_id"`
	Token        string `json:"token"`
	TokenAmount  string `json:"token_amount"`
	BidToken     string `json:"bid_token"`
	BidSequencer string `json:"bid_sequencer"`
	FloorPrice   string `json:"floor_price"`
	Decimals     int32  `json:"decimals"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	Creator      string `json:"creator"`
}

// SignResponse carries the base64-encoded COSE_Sign1 credential.
type SignResponse struct {
	Signature string `json:"signature"`
}

// Server exposes the sequencer's signing key over HTTP so auction creators can
// obtain the authorization credential createAuction requires.
type Server struct {
	signer *AuthSigner
}

// NewServer wraps an AuthSigner.
func NewServer(s *AuthSigner) *Server {
	return &Server{signer: s}
}

// RegisterRoutes mounts the signing endpoints on a chi router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/api/address", s.handleAddress)
	r.Post("/api/sign", s.handleSign)
}

func (s *Server) handleAddress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"address": s.signer.Address()})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	params, err := req.toParams()
	if err != nil {
		log.Printf("INFO: Rejecting sign request: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	credential, err := s.signer.Sign(req.AuctionID, params)
	if err != nil {
		if err == ErrSequencerMismatch {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("ERROR: Failed to sign auction parameters: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, SignResponse{
		Signature: base64.StdEncoding.EncodeToString(credential),
	})
}

// toParams validates the request the way the original bid server validated
// incoming parameter tuples: all fields present, sane time window, parseable
// amounts.
func (r *SignRequest) toParams() (core.AuctionParams, error) {
	switch {
	case r.AuctionID == "":
		return core.AuctionParams{}, fmt.Errorf("missing required field: auction_id")
	case r.Token == "":
		return core.AuctionParams{}, fmt.Errorf("missing required field: token")
	case r.BidToken == "":
		return core.AuctionParams{}, fmt.Errorf("missing required field: bid_token")
	case r.BidSequencer == "":
		return core.AuctionParams{}, fmt.Errorf("missing required field: bid_sequencer")
	case r.Creator == "":
		return core.AuctionParams{}, fmt.Errorf("missing required field: creator")
	}

	if r.EndTime <= r.StartTime {
		return core.AuctionParams{}, fmt.Errorf("end time must be after start time")
	}

	tokenAmount, err := strconv.ParseUint(r.TokenAmount, 10, 64)
	if err != nil {
		return core.AuctionParams{}, fmt.Errorf("invalid token_amount %q: %w", r.TokenAmount, err)
	}

	floorPrice, err := core.ParsePrice(r.FloorPrice, r.Decimals)
	if err != nil {
		return core.AuctionParams{}, err
	}

	return core.AuctionParams{
		Token:        r.Token,
		TokenAmount:  tokenAmount,
		BidToken:     r.BidToken,
		BidSequencer: r.BidSequencer,
		FloorPrice:   floorPrice,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Creator:      r.Creator,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
