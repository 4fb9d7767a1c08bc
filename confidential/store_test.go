package confidential

import (
	"github.com/google/go-cmp/cmp/cmpopts"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	keys, err := NewKeyManager()
	assert.Nil(t, err)
	return NewStore(keys, 0)
}

func TestStore_RegisterAndReveal(t *testing.T) {
	s := newTestStore(t)

	h := s.Register(42, "alice")

	v, err := s.Reveal(h, "alice")
	check.Nil(t, err)
	check.Equal(t, uint64(42), v)

	_, err = s.Reveal(h, "mallory")
	check.Equal(t, ErrAccessDenied, err, cmpopts.EquateErrors())

	_, err = s.Reveal(Handle("no-such-handle"), "alice")
	check.Equal(t, ErrUnknownHandle, err, cmpopts.EquateErrors())
}

func TestStore_Allow(t *testing.T) {
	s := newTestStore(t)

	h := s.Register(7)
	_, err := s.Reveal(h, "bob")
	check.Equal(t, ErrAccessDenied, err, cmpopts.EquateErrors())

	check.Nil(t, s.Allow(h, "bob"))
	v, err := s.Reveal(h, "bob")
	check.Nil(t, err)
	check.Equal(t, uint64(7), v)
}

func TestStore_Arithmetic(t *testing.T) {
	s := newTestStore(t)
	a := s.Register(30)
	b := s.Register(12)

	sum, err := s.Add(a, b)
	assert.Nil(t, err)
	diff, err := s.Sub(a, b)
	assert.Nil(t, err)
	underflow, err := s.Sub(b, a)
	assert.Nil(t, err)
	product, err := s.Mul(a, b)
	assert.Nil(t, err)
	minimum, err := s.Min(a, b)
	assert.Nil(t, err)

	check.Equal(t, uint64(42), s.values[sum])
	check.Equal(t, uint64(18), s.values[diff])
	check.Equal(t, uint64(0), s.values[underflow]) // saturates, no wraparound
	check.Equal(t, uint64(360), s.values[product])
	check.Equal(t, uint64(12), s.values[minimum])
}

func TestStore_Comparisons(t *testing.T) {
	s := newTestStore(t)
	a := s.Register(30)
	b := s.Register(30)
	c := s.Register(12)

	le, err := s.CmpLe(a, b)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), s.values[le])

	lt, err := s.CmpLt(a, b)
	assert.Nil(t, err)
	check.Equal(t, uint64(0), s.values[lt])

	ltTrue, err := s.CmpLt(c, a)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), s.values[ltTrue])

	ge, err := s.CmpGeScalar(a, 30)
	assert.Nil(t, err)
	check.Equal(t, uint64(1), s.values[ge])

	gt, err := s.CmpGtScalar(c, 12)
	assert.Nil(t, err)
	check.Equal(t, uint64(0), s.values[gt])

	and, err := s.And(le, lt)
	assert.Nil(t, err)
	check.Equal(t, uint64(0), s.values[and])
}

func TestStore_Select(t *testing.T) {
	s := newTestStore(t)
	then := s.Register(100)
	els := s.Register(200)

	cond := s.Register(1)
	got, err := s.Select(cond, then, els)
	assert.Nil(t, err)
	check.Equal(t, uint64(100), s.values[got])

	cond = s.Register(0)
	got, err = s.Select(cond, then, els)
	assert.Nil(t, err)
	check.Equal(t, uint64(200), s.values[got])
}

func TestStore_DerivedHandlesStartPrivate(t *testing.T) {
	s := newTestStore(t)
	a := s.Register(1, "alice")
	b := s.Register(2, "alice")

	sum, err := s.Add(a, b)
	assert.Nil(t, err)

	// alice's access to the operands does not carry over
	_, err = s.Reveal(sum, "alice")
	check.Equal(t, ErrAccessDenied, err, cmpopts.EquateErrors())
}

func TestStore_RequestDecryptBool(t *testing.T) {
	keys, err := NewKeyManager()
	assert.Nil(t, err)
	s := NewStore(keys, 5*time.Millisecond)

	truthy := s.Register(1)
	falsy := s.Register(0)

	var mu sync.Mutex
	results := make(map[string]bool)
	deliver := func(requestID string, value bool) {
		mu.Lock()
		defer mu.Unlock()
		results[requestID] = value
	}

	id1, err := s.RequestDecryptBool(truthy, deliver)
	assert.Nil(t, err)
	id2, err := s.RequestDecryptBool(falsy, deliver)
	assert.Nil(t, err)
	check.NotEqual(t, id1, id2)

	// Nothing delivered synchronously
	mu.Lock()
	check.Equal(t, 0, len(results))
	mu.Unlock()

	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	check.Equal(t, true, results[id1])
	check.Equal(t, false, results[id2])
}

func TestStore_ReencryptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	h := s.Register(987654321, "sequencer")

	requesterKeys, err := NewKeyManager()
	assert.Nil(t, err)

	ev, err := s.Reencrypt(h, "sequencer", requesterKeys.PublicKey)
	assert.Nil(t, err)

	v, err := requesterKeys.Decrypt(ev)
	assert.Nil(t, err)
	check.Equal(t, uint64(987654321), v)

	_, err = s.Reencrypt(h, "mallory", requesterKeys.PublicKey)
	check.Equal(t, ErrAccessDenied, err, cmpopts.EquateErrors())
}

func TestStore_RegisterEncrypted(t *testing.T) {
	s := newTestStore(t)

	ev, err := EncryptValue(77, s.Keys().PublicKey, HashAlgorithmSHA256)
	assert.Nil(t, err)

	h, err := s.RegisterEncrypted(ev, "bidder")
	assert.Nil(t, err)

	v, err := s.Reveal(h, "bidder")
	check.Nil(t, err)
	check.Equal(t, uint64(77), v)
}
