package confidential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
)

// HashAlgorithm selects the hash function used in RSA-OAEP.
type HashAlgorithm string

const (
	// HashAlgorithmSHA256 uses SHA-256 (recommended, default)
	HashAlgorithmSHA256 HashAlgorithm = "SHA-256"
	// HashAlgorithmSHA1 uses SHA-1 (legacy client support)
	HashAlgorithmSHA1 HashAlgorithm = "SHA-1"
)

// EncryptedValue is a confidential value in transit: hybrid RSA-OAEP +
// AES-256-GCM, all fields base64-encoded. Bidders encrypt submissions to the
// service's public key; the service encrypts reencryption responses to the
// requester's key.
type EncryptedValue struct {
	AESKeyEncrypted  string `json:"aes_key_encrypted"`
	EncryptedPayload string `json:"encrypted_payload"`
	Nonce            string `json:"nonce"`
	HashAlgorithm    string `json:"hash_algorithm,omitempty"` // "SHA-256" (default) or "SHA-1"
}

func newHash(hashAlg HashAlgorithm) (hash.Hash, error) {
	switch hashAlg {
	case HashAlgorithmSHA256, "":
		return sha256.New(), nil
	case HashAlgorithmSHA1:
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", hashAlg)
	}
}

// EncryptHybrid encrypts plaintext to the recipient's RSA public key: the
// payload is sealed with a fresh AES-256-GCM key, which is in turn wrapped
// with RSA-OAEP under the given hash algorithm.
func EncryptHybrid(plaintext []byte, recipient *rsa.PublicKey, hashAlg HashAlgorithm) (*EncryptedValue, error) {
	hasher, err := newHash(hashAlg)
	if err != nil {
		return nil, err
	}

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aesgcm.Seal(nil, nonce, plaintext, nil)

	wrappedKey, err := rsa.EncryptOAEP(hasher, rand.Reader, recipient, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt AES key: %w", err)
	}

	return &EncryptedValue{
		AESKeyEncrypted:  base64.StdEncoding.EncodeToString(wrappedKey),
		EncryptedPayload: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:            base64.StdEncoding.EncodeToString(nonce),
		HashAlgorithm:    string(hashAlg),
	}, nil
}

// DecryptHybrid reverses EncryptHybrid with the recipient's private key.
// Returns the decrypted plaintext bytes.
func DecryptHybrid(ev *EncryptedValue, privateKey *rsa.PrivateKey) ([]byte, error) {
	wrappedKey, err := base64.StdEncoding.DecodeString(ev.AESKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted AES key: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ev.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted payload: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(ev.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	hasher, err := newHash(HashAlgorithm(ev.HashAlgorithm))
	if err != nil {
		return nil, err
	}

	aesKey, err := rsa.DecryptOAEP(hasher, rand.Reader, privateKey, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt AES key: %w", err)
	}
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("invalid AES key length: expected 32 bytes, got %d", len(aesKey))
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", aesgcm.NonceSize(), len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}
