package confidential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
)

// KeyManager holds an RSA key pair used on the confidential-value wire: the
// service uses one to receive encrypted submissions, and each reencryption
// requester (the sequencer, bidders) uses its own to receive responses.
// The keypair is process-wide and carries no auction-specific state.
type KeyManager struct {
	privateKey *rsa.PrivateKey // keep private - sensitive!
	PublicKey  *rsa.PublicKey
}

// NewKeyManager generates a fresh RSA-2048 key pair.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}, nil
}

// PublicKeyPEM returns the public key in PEM format.
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}

// Decrypt opens an EncryptedValue addressed to this key and returns the
// carried uint64.
func (km *KeyManager) Decrypt(ev *EncryptedValue) (uint64, error) {
	plaintext, err := DecryptHybrid(ev, km.privateKey)
	if err != nil {
		return 0, err
	}
	var payload valuePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return 0, fmt.Errorf("invalid value payload: %w", err)
	}
	return payload.Value, nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key, e.g. one exported by
// PublicKeyPEM on the other side of the wire.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}

// valuePayload is the plaintext carried inside an EncryptedValue. The value
// is a decimal string so 64-bit range survives JSON number handling.
type valuePayload struct {
	Value uint64 `json:"value,string"`
}

// EncryptValue seals a uint64 for the given recipient key.
func EncryptValue(value uint64, recipient *rsa.PublicKey, hashAlg HashAlgorithm) (*EncryptedValue, error) {
	plaintext, err := json.Marshal(valuePayload{Value: value})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value payload: %w", err)
	}
	return EncryptHybrid(plaintext, recipient, hashAlg)
}
