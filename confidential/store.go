// Package confidential is a development implementation of the ledger's
// confidential-value extension. Values live in a handle-addressed store that
// only the service can read in the clear; the ledger operates on handles
// through arithmetic and comparison ops, and plaintext leaves the service only
// via ACL-checked reencryption or an asynchronous decryption callback.
//
// The arithmetic ops are synchronous, mirroring the in-transaction homomorphic
// ops of a real confidential ledger. Decryption is asynchronous with a
// correlation id because it round-trips through an oracle that may take
// unbounded time.
package confidential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies a confidential value. Handles are opaque and unguessable;
// possession of a handle does not grant access to the value.
type Handle string

// ErrAccessDenied is returned when a requester is not on a value's ACL.
var ErrAccessDenied = errors.New("requester not authorized for this value")

// ErrUnknownHandle is returned for handles the store has never issued.
var ErrUnknownHandle = errors.New("unknown value handle")

// Store is the in-process confidential value service.
type Store struct {
	mu      sync.Mutex
	values  map[Handle]uint64
	acl     map[Handle]map[string]bool
	keys    *KeyManager
	pending sync.WaitGroup

	// delay before a decryption callback fires, to surface the asynchronous
	// path in tests and demos
	callbackDelay time.Duration
}

// NewStore creates a store that delivers decryption callbacks after delay.
func NewStore(keys *KeyManager, callbackDelay time.Duration) *Store {
	return &Store{
		values:        make(map[Handle]uint64),
		acl:           make(map[Handle]map[string]bool),
		keys:          keys,
		callbackDelay: callbackDelay,
	}
}

// Keys returns the service key manager, whose public key bidders encrypt
// submissions to.
func (s *Store) Keys() *KeyManager { return s.keys }

// Register stores a plaintext value and returns its handle. The listed
// identities may reencrypt it.
func (s *Store) Register(value uint64, allowed ...string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.register(value, allowed...)
}

// RegisterEncrypted decrypts a submission addressed to the service key and
// stores the carried value.
func (s *Store) RegisterEncrypted(ev *EncryptedValue, allowed ...string) (Handle, error) {
	value, err := s.keys.Decrypt(ev)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt submitted value: %w", err)
	}
	return s.Register(value, allowed...), nil
}

func (s *Store) register(value uint64, allowed ...string) Handle {
	h := Handle(uuid.NewString())
	s.values[h] = value
	grants := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		grants[id] = true
	}
	s.acl[h] = grants
	return h
}

// Allow grants an identity reencryption access to a value.
func (s *Store) Allow(h Handle, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[h]; !ok {
		return ErrUnknownHandle
	}
	s.acl[h][identity] = true
	return nil
}

func (s *Store) get(h Handle) (uint64, error) {
	v, ok := s.values[h]
	if !ok {
		return 0, ErrUnknownHandle
	}
	return v, nil
}

// binaryOp applies f to two handle-valued operands and stores the result.
// Result handles start with an empty ACL; access is granted explicitly.
func (s *Store) binaryOp(a, b Handle, f func(x, y uint64) uint64) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.get(a)
	if err != nil {
		return "", err
	}
	y, err := s.get(b)
	if err != nil {
		return "", err
	}
	return s.register(f(x, y)), nil
}

// Add returns a handle for a + b.
func (s *Store) Add(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 { return x + y })
}

// Sub returns a handle for a - b. Saturates at zero rather than wrapping.
func (s *Store) Sub(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 {
		if y > x {
			return 0
		}
		return x - y
	})
}

// Mul returns a handle for a * b.
func (s *Store) Mul(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 { return x * y })
}

// Min returns a handle for min(a, b).
func (s *Store) Min(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 {
		if x < y {
			return x
		}
		return y
	})
}

// CmpLe returns a 0/1 handle for a <= b.
func (s *Store) CmpLe(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 { return boolBit(x <= y) })
}

// CmpLt returns a 0/1 handle for a < b.
func (s *Store) CmpLt(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 { return boolBit(x < y) })
}

// CmpGeScalar returns a 0/1 handle for a >= v, v public.
func (s *Store) CmpGeScalar(a Handle, v uint64) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.get(a)
	if err != nil {
		return "", err
	}
	return s.register(boolBit(x >= v)), nil
}

// CmpGtScalar returns a 0/1 handle for a > v, v public.
func (s *Store) CmpGtScalar(a Handle, v uint64) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.get(a)
	if err != nil {
		return "", err
	}
	return s.register(boolBit(x > v)), nil
}

// And returns a 0/1 handle for (a != 0) && (b != 0).
func (s *Store) And(a, b Handle) (Handle, error) {
	return s.binaryOp(a, b, func(x, y uint64) uint64 { return boolBit(x != 0 && y != 0) })
}

// Select returns a handle for (cond != 0 ? then : els).
func (s *Store) Select(cond, then, els Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(cond)
	if err != nil {
		return "", err
	}
	t, err := s.get(then)
	if err != nil {
		return "", err
	}
	e, err := s.get(els)
	if err != nil {
		return "", err
	}
	if c != 0 {
		return s.register(t), nil
	}
	return s.register(e), nil
}

// Scalar stores a public constant as a handle so it can enter handle
// arithmetic.
func (s *Store) Scalar(v uint64) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.register(v)
}

// RequestDecryptBool asynchronously decrypts a 0/1 handle and delivers the
// result through the callback, keyed by the returned request id. The caller
// must not assume any upper bound on delivery time.
func (s *Store) RequestDecryptBool(cond Handle, deliver func(requestID string, value bool)) (string, error) {
	s.mu.Lock()
	v, err := s.get(cond)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if s.callbackDelay > 0 {
			time.Sleep(s.callbackDelay)
		}
		deliver(requestID, v != 0)
	}()
	return requestID, nil
}

// Reencrypt returns the value encrypted to the requester's RSA key, if the
// requester is on the value's ACL. This is how the sequencer learns bid
// prices and how bidders inspect their own confidential state.
func (s *Store) Reencrypt(h Handle, requester string, requesterKey *rsa.PublicKey) (*EncryptedValue, error) {
	s.mu.Lock()
	v, err := s.get(h)
	if err == nil && !s.acl[h][requester] {
		err = ErrAccessDenied
	}
	s.mu.Unlock()
	if err != nil {
		log.Printf("WARNING: Reencrypt denied for %s: %v", requester, err)
		return nil, err
	}
	return EncryptValue(v, requesterKey, HashAlgorithmSHA256)
}

// Reveal returns the plaintext value if the requester is on the ACL. Intended
// for in-process callers (e.g. claim responses); remote requesters should use
// Reencrypt.
func (s *Store) Reveal(h Handle, requester string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.get(h)
	if err != nil {
		return 0, err
	}
	if !s.acl[h][requester] {
		return 0, ErrAccessDenied
	}
	return v, nil
}

// Wait blocks until all in-flight decryption callbacks have been delivered.
// Test helper.
func (s *Store) Wait() { s.pending.Wait() }

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
