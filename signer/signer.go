// Package signer implements authorization signatures for auction creation.
//
// An auction may only be created with the consent of its designated bid
// sequencer: the sequencer signs the full auction parameter tuple off-band and
// the ledger verifies the signature during createAuction. Signatures are
// COSE_Sign1 (ES256) over a deterministic CBOR encoding of the parameters, so
// any byte-level change to the tuple invalidates the credential.
package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/clearauction/core"
)

// ErrSequencerMismatch is returned when the signing key does not belong to the
// bidSequencer named in the auction parameters.
var ErrSequencerMismatch = errors.New("signature not from designated bid sequencer")

// signedAuctionData is the tuple actually signed. The signer's public key
// travels inside the payload so the verifier can check the sequencer binding
// without a key registry.
type signedAuctionData struct {
	AuctionID string `cbor:"auction_id"`
	core.AuctionParams
	PublicKey []byte `cbor:"public_key"` // PKIX DER
}

var canonicalEnc cbor.EncMode

func init() {
	var err error
	canonicalEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor canonical enc mode: %v", err))
	}
}

// AuthSigner signs auction parameter tuples with the sequencer's ECDSA key.
type AuthSigner struct {
	key *ecdsa.PrivateKey
}

// NewAuthSigner wraps an existing P-256 key.
func NewAuthSigner(key *ecdsa.PrivateKey) *AuthSigner {
	return &AuthSigner{key: key}
}

// GenerateAuthSigner creates a signer with a fresh P-256 key.
func GenerateAuthSigner() (*AuthSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sequencer key: %w", err)
	}
	return &AuthSigner{key: key}, nil
}

// Address returns the sequencer address derived from the signing key.
func (s *AuthSigner) Address() string {
	return DeriveAddress(&s.key.PublicKey)
}

// Sign produces a COSE_Sign1 credential binding the auction id and the full
// parameter tuple. Refuses to sign for a bidSequencer other than itself.
func (s *AuthSigner) Sign(auctionID string, params core.AuctionParams) ([]byte, error) {
	if params.BidSequencer != s.Address() {
		return nil, ErrSequencerMismatch
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	payload, err := canonicalEnc.Marshal(signedAuctionData{
		AuctionID:     auctionID,
		AuctionParams: params,
		PublicKey:     pubDER,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode auction data: %w", err)
	}

	coseSigner, err := cose.NewSigner(cose.AlgorithmES256, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, coseSigner); err != nil {
		return nil, fmt.Errorf("failed to sign auction data: %w", err)
	}

	return msg.MarshalCBOR()
}

// VerifyAuthSignature checks a createAuction credential: the COSE_Sign1
// signature must verify under the embedded key, the embedded key must derive
// to params.BidSequencer, and the signed tuple must match the presented
// auction id and parameters exactly.
func VerifyAuthSignature(auctionID string, params core.AuctionParams, credential []byte) error {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(credential); err != nil {
		return fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	var signed signedAuctionData
	if err := cbor.Unmarshal(msg.Payload, &signed); err != nil {
		return fmt.Errorf("parse signed auction data: %w", err)
	}

	pub, err := x509.ParsePKIXPublicKey(signed.PublicKey)
	if err != nil {
		return fmt.Errorf("parse embedded public key: %w", err)
	}
	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("embedded public key is not ECDSA")
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}

	if DeriveAddress(ecdsaKey) != params.BidSequencer {
		return ErrSequencerMismatch
	}

	// The signed tuple must byte-match the parameters being created
	presented, err := canonicalEnc.Marshal(signedAuctionData{
		AuctionID:     auctionID,
		AuctionParams: params,
		PublicKey:     signed.PublicKey,
	})
	if err != nil {
		return fmt.Errorf("failed to encode presented auction data: %w", err)
	}
	if string(presented) != string(msg.Payload) {
		return errors.New("signed auction data does not match presented parameters")
	}

	return nil
}

// DeriveAddress maps an ECDSA public key to its ledger address: hex of the
// first 20 bytes of SHA-256 over the uncompressed point.
func DeriveAddress(pub *ecdsa.PublicKey) string {
	uncompressed := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	sum := sha256.Sum256(uncompressed)
	return "0x" + hex.EncodeToString(sum[:20])
}
