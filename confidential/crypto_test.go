package confidential

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestHybridRoundTrip(t *testing.T) {
	keys, err := NewKeyManager()
	assert.Nil(t, err)

	plaintext := []byte(`{"value":"12345"}`)

	for _, alg := range []HashAlgorithm{HashAlgorithmSHA256, HashAlgorithmSHA1} {
		ev, err := EncryptHybrid(plaintext, keys.PublicKey, alg)
		assert.Nil(t, err)

		got, err := DecryptHybrid(ev, keys.privateKey)
		assert.Nil(t, err)
		check.Equal(t, plaintext, got)
	}
}

func TestHybrid_UnsupportedAlgorithm(t *testing.T) {
	keys, err := NewKeyManager()
	assert.Nil(t, err)

	_, err = EncryptHybrid([]byte("x"), keys.PublicKey, HashAlgorithm("MD5"))
	check.Error(t, err)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	alice, err := NewKeyManager()
	assert.Nil(t, err)
	bob, err := NewKeyManager()
	assert.Nil(t, err)

	ev, err := EncryptValue(42, alice.PublicKey, HashAlgorithmSHA256)
	assert.Nil(t, err)

	_, err = bob.Decrypt(ev)
	check.Error(t, err)
}

func TestDecrypt_TamperedPayloadFails(t *testing.T) {
	keys, err := NewKeyManager()
	assert.Nil(t, err)

	ev, err := EncryptValue(42, keys.PublicKey, HashAlgorithmSHA256)
	assert.Nil(t, err)

	// Flip the payload; GCM authentication must reject it
	ev.EncryptedPayload = "AAAA" + ev.EncryptedPayload[4:]
	_, err = keys.Decrypt(ev)
	check.Error(t, err)
}

func TestEncryptValue_FullRange(t *testing.T) {
	keys, err := NewKeyManager()
	assert.Nil(t, err)

	// Values above 2^53 must survive the JSON payload encoding
	const big = uint64(1) << 63

	ev, err := EncryptValue(big, keys.PublicKey, HashAlgorithmSHA256)
	assert.Nil(t, err)

	v, err := keys.Decrypt(ev)
	assert.Nil(t, err)
	check.Equal(t, big, v)
}

func TestParsePublicKeyPEM(t *testing.T) {
	keys, err := NewKeyManager()
	assert.Nil(t, err)

	pemStr, err := keys.PublicKeyPEM()
	assert.Nil(t, err)

	pub, err := ParsePublicKeyPEM(pemStr)
	assert.Nil(t, err)
	check.Equal(t, keys.PublicKey.N, pub.N, cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 }))

	_, err = ParsePublicKeyPEM("not a pem")
	check.Error(t, err)
}
