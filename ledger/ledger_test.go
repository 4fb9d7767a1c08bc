package ledger

import (
	"context"
	"github.com/google/go-cmp/cmp/cmpopts"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/clearauction/auction"
	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/core"
	"github.com/cloudx-io/clearauction/signer"
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = unix
}

const (
	testStart = int64(1000)
	testEnd   = int64(2000)
)

type fixture struct {
	ledger    *Ledger
	store     *confidential.Store
	sequencer *signer.AuthSigner
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys, err := confidential.NewKeyManager()
	assert.Nil(t, err)
	seq, err := signer.GenerateAuthSigner()
	assert.Nil(t, err)

	clock := &fakeClock{now: testStart}
	store := confidential.NewStore(keys, 0)
	return &fixture{
		ledger:    New(store, clock.Now),
		store:     store,
		sequencer: seq,
		clock:     clock,
	}
}

func (f *fixture) createAuction(t *testing.T, auctionID string, tokenAmount uint64) core.AuctionParams {
	t.Helper()
	params := core.AuctionParams{
		Token:        "WETH",
		TokenAmount:  tokenAmount,
		BidToken:     "USDC",
		BidSequencer: f.sequencer.Address(),
		FloorPrice:   5,
		StartTime:    testStart,
		EndTime:      testEnd,
		Creator:      "0xcreator",
	}
	credential, err := f.sequencer.Sign(auctionID, params)
	assert.Nil(t, err)
	assert.Nil(t, f.ledger.CreateAuction(auctionID, params, credential))
	return params
}

func (f *fixture) encrypt(t *testing.T, v uint64) *confidential.EncryptedValue {
	t.Helper()
	ev, err := confidential.EncryptValue(v, f.store.Keys().PublicKey, confidential.HashAlgorithmSHA256)
	assert.Nil(t, err)
	return ev
}

func TestLedger_Registry(t *testing.T) {
	f := newFixture(t)
	check.Equal(t, 0, f.ledger.Count())

	f.createAuction(t, "auction-1", 100)
	f.createAuction(t, "auction-2", 200)
	check.Equal(t, 2, f.ledger.Count())

	id, err := f.ledger.AuctionAt(0)
	check.Nil(t, err)
	check.Equal(t, "auction-1", id)
	id, err = f.ledger.AuctionAt(1)
	check.Nil(t, err)
	check.Equal(t, "auction-2", id)
	_, err = f.ledger.AuctionAt(2)
	check.Equal(t, ErrUnknownAuction, err, cmpopts.EquateErrors())

	check.Equal(t, []string{"auction-1", "auction-2"}, f.ledger.AuctionIDs())

	_, err = f.ledger.AuctionData("no-such-auction")
	check.Equal(t, ErrUnknownAuction, err, cmpopts.EquateErrors())
}

func TestLedger_DuplicateAuctionID(t *testing.T) {
	f := newFixture(t)
	params := f.createAuction(t, "auction-1", 100)

	credential, err := f.sequencer.Sign("auction-1", params)
	assert.Nil(t, err)
	check.Equal(t, auction.ErrAuctionAlreadyCreated, f.ledger.CreateAuction("auction-1", params, credential), cmpopts.EquateErrors())
	check.Equal(t, 1, f.ledger.Count())
}

func TestLedger_RejectedCreationNotRegistered(t *testing.T) {
	f := newFixture(t)

	params := core.AuctionParams{
		Token:        "WETH",
		TokenAmount:  100,
		BidToken:     "USDC",
		BidSequencer: f.sequencer.Address(),
		StartTime:    testStart,
		EndTime:      testEnd,
		Creator:      "0xcreator",
	}
	check.Error(t, f.ledger.CreateAuction("auction-1", params, []byte("not a credential")))
	check.Equal(t, 0, f.ledger.Count())
}

func TestEventLog(t *testing.T) {
	l := NewEventLog()
	ch, cancel := l.Subscribe(2)

	l.Append(auction.Event{Type: auction.EventBidPlaced, AuctionID: "a"})
	l.Append(auction.Event{Type: auction.EventBidFinalized, AuctionID: "a"})
	// Buffer full: this one is dropped for the subscriber but still recorded
	l.Append(auction.Event{Type: auction.EventClaimed, AuctionID: "a"})

	check.Equal(t, 3, len(l.Events()))
	check.Equal(t, auction.EventBidPlaced, (<-ch).Type)
	check.Equal(t, auction.EventBidFinalized, (<-ch).Type)

	cancel()
	_, open := <-ch
	check.False(t, open)

	// Appending after cancel must not panic
	l.Append(auction.Event{Type: auction.EventClaimed, AuctionID: "a"})
}

func TestServerClient_EndToEnd(t *testing.T) {
	f := newFixture(t)
	params := f.createAuction(t, "auction-1", 100)

	r := chi.NewRouter()
	NewServer(f.ledger).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx := context.Background()
	client := NewClient(srv.URL)

	ids, err := client.AuctionIDs(ctx)
	assert.Nil(t, err)
	check.Equal(t, []string{"auction-1"}, ids)

	data, err := client.AuctionData(ctx, "auction-1")
	assert.Nil(t, err)
	check.Equal(t, params.TokenAmount, data.TokenAmount)

	aliceID, err := client.PlaceBid(ctx, "auction-1", "alice", f.encrypt(t, 10), f.encrypt(t, 40))
	assert.Nil(t, err)
	check.Equal(t, uint64(1), aliceID)
	bobID, err := client.PlaceBid(ctx, "auction-1", "bob", f.encrypt(t, 8), f.encrypt(t, 70))
	assert.Nil(t, err)

	// Policy violations survive the HTTP round trip as sentinels
	_, err = client.PlaceBid(ctx, "auction-1", "alice", f.encrypt(t, 11), f.encrypt(t, 1))
	check.Equal(t, auction.ErrBidAlreadyPlaced, err, cmpopts.EquateErrors())
	_, err = client.Claim(ctx, "auction-1", "alice")
	check.Equal(t, auction.ErrAuctionNotEnded, err, cmpopts.EquateErrors())
	_, err = client.AuctionData(ctx, "no-such-auction")
	check.Equal(t, ErrUnknownAuction, err, cmpopts.EquateErrors())

	f.clock.Set(testEnd)

	// The sequencer reads bid prices through authorized reencryption
	seqKeys, err := confidential.NewKeyManager()
	assert.Nil(t, err)
	pemStr, err := seqKeys.PublicKeyPEM()
	assert.Nil(t, err)

	info, err := client.Bid(ctx, "auction-1", aliceID)
	assert.Nil(t, err)
	ev, err := client.Reencrypt(ctx, info.Price, f.sequencer.Address(), pemStr)
	assert.Nil(t, err)
	price, err := seqKeys.Decrypt(ev)
	assert.Nil(t, err)
	check.Equal(t, uint64(10), price)

	_, err = client.Reencrypt(ctx, info.Amount, f.sequencer.Address(), pemStr)
	check.Equal(t, confidential.ErrAccessDenied, err, cmpopts.EquateErrors())

	// Drive clearing: alice (10) then bob (8)
	_, err = client.ProcessNextBid(ctx, "auction-1", f.sequencer.Address(), aliceID)
	assert.Nil(t, err)
	f.store.Wait()
	_, err = client.ProcessNextBid(ctx, "auction-1", f.sequencer.Address(), bobID)
	assert.Nil(t, err)
	f.store.Wait()

	data, err = client.AuctionData(ctx, "auction-1")
	assert.Nil(t, err)
	check.True(t, data.Settled())

	claim, err := client.Claim(ctx, "auction-1", "bob")
	assert.Nil(t, err)
	won, err := f.store.Reveal(claim.WonAmount, "bob")
	assert.Nil(t, err)
	check.Equal(t, uint64(60), won)

	claimed, err := client.Claimed(ctx, "auction-1", "bob")
	assert.Nil(t, err)
	check.True(t, claimed)

	owner, err := client.ClaimOwner(ctx, "auction-1", "0xcreator")
	assert.Nil(t, err)
	proceeds, err := f.store.Reveal(owner.Proceeds, "0xcreator")
	assert.Nil(t, err)
	check.Equal(t, uint64(100*8), proceeds)

	bidID, err := client.BidID(ctx, "auction-1", "alice")
	assert.Nil(t, err)
	check.Equal(t, uint64(1), bidID)
}
