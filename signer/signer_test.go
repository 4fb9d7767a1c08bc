package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"github.com/google/go-cmp/cmp/cmpopts"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/clearauction/core"
)

func testParams(sequencer string) core.AuctionParams {
	return core.AuctionParams{
		Token:        "0xaaaa",
		TokenAmount:  100,
		BidToken:     "0xbbbb",
		BidSequencer: sequencer,
		FloorPrice:   50,
		StartTime:    1000,
		EndTime:      2000,
		Creator:      "0xcccc",
	}
}

func TestSignAndVerify(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)

	params := testParams(s.Address())
	credential, err := s.Sign("auction-1", params)
	assert.Nil(t, err)

	check.Nil(t, VerifyAuthSignature("auction-1", params, credential))
}

func TestVerify_RejectsTamperedParams(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)

	params := testParams(s.Address())
	credential, err := s.Sign("auction-1", params)
	assert.Nil(t, err)

	tampered := params
	tampered.FloorPrice = 1
	check.Error(t, VerifyAuthSignature("auction-1", tampered, credential))

	// Same parameters bound to a different auction instance
	check.Error(t, VerifyAuthSignature("auction-2", params, credential))
}

func TestVerify_RejectsWrongSequencer(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)
	other, err := GenerateAuthSigner()
	assert.Nil(t, err)

	// Signed by s, but naming other as the sequencer
	params := testParams(s.Address())
	credential, err := s.Sign("auction-1", params)
	assert.Nil(t, err)

	presented := params
	presented.BidSequencer = other.Address()
	check.Error(t, VerifyAuthSignature("auction-1", presented, credential))
}

func TestSign_RefusesForeignSequencer(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)

	params := testParams("0xnotme")
	_, err = s.Sign("auction-1", params)
	check.Equal(t, ErrSequencerMismatch, err, cmpopts.EquateErrors())
}

func TestVerify_RejectsGarbage(t *testing.T) {
	params := testParams("0xwhoever")
	check.Error(t, VerifyAuthSignature("auction-1", params, []byte("not a credential")))
}

func TestServer_SignEndpoint(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)

	r := chi.NewRouter()
	NewServer(s).RegisterRoutes(r)

	body, err := json.Marshal(SignRequest{
		AuctionID:    "auction-1",
		Token:        "0xaaaa",
		TokenAmount:  "100",
		BidToken:     "0xbbbb",
		BidSequencer: s.Address(),
		FloorPrice:   "50",
		Decimals:     0,
		StartTime:    1000,
		EndTime:      2000,
		Creator:      "0xcccc",
	})
	assert.Nil(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/sign", bytes.NewReader(body)))
	assert.Equal(t, 200, rec.Code)

	var resp SignResponse
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	credential, err := base64.StdEncoding.DecodeString(resp.Signature)
	assert.Nil(t, err)

	check.Nil(t, VerifyAuthSignature("auction-1", testParams(s.Address()), credential))
}

func TestServer_SignEndpoint_Validation(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)

	r := chi.NewRouter()
	NewServer(s).RegisterRoutes(r)

	// endTime before startTime
	body, err := json.Marshal(SignRequest{
		AuctionID:    "auction-1",
		Token:        "0xaaaa",
		TokenAmount:  "100",
		BidToken:     "0xbbbb",
		BidSequencer: s.Address(),
		FloorPrice:   "50",
		StartTime:    2000,
		EndTime:      1000,
		Creator:      "0xcccc",
	})
	assert.Nil(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/sign", bytes.NewReader(body)))
	check.Equal(t, 400, rec.Code)
}

func TestServer_AddressEndpoint(t *testing.T) {
	s, err := GenerateAuthSigner()
	assert.Nil(t, err)

	r := chi.NewRouter()
	NewServer(s).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/address", nil))
	assert.Equal(t, 200, rec.Code)

	var resp map[string]string
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	check.Equal(t, s.Address(), resp["address"])
}
