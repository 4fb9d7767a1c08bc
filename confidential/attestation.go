package confidential

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
)

// Attester abstracts the NSM attestation device for dependency injection and
// testing.
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// GetAttester returns the NSM attester when running inside a Nitro enclave.
// Outside an enclave this fails and callers continue with unattested keys.
func GetAttester() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// keyAttestationUserData is embedded in the attestation document so clients
// can bind the service's reencryption key to the enclave measurements.
type keyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // e.g. "RSA-2048"
	PublicKey    string `json:"public_key"`    // PEM-encoded
}

// AttestServiceKey produces a base64-encoded COSE attestation document over
// the service's public key. Clients that require an enclaved service verify
// this before encrypting bid values to the key.
func AttestServiceKey(attester Attester, keys *KeyManager) (string, error) {
	if attester == nil {
		return "", fmt.Errorf("enclave attester is nil")
	}

	publicKeyPEM, err := keys.PublicKeyPEM()
	if err != nil {
		return "", fmt.Errorf("failed to export public key: %w", err)
	}

	userData, err := json.Marshal(keyAttestationUserData{
		KeyAlgorithm: "RSA-2048",
		PublicKey:    publicKeyPEM,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userData,
		Nonce:    nonce,
	})
	if err != nil {
		log.Printf("ERROR: NSM key attestation failed: %v", err)
		return "", fmt.Errorf("NSM key attestation failed: %w", err)
	}

	log.Printf("INFO: Service key attestation generated: %d bytes", len(attestationCBOR))
	return base64.StdEncoding.EncodeToString(attestationCBOR), nil
}
