// oracled runs the confidential value service standalone, for deployments
// where the store lives inside a confidential VM and is reached over vsock.
// Without a vsock port configured it serves on TCP for local development.
package main

import (
	"log"

	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/config"
)

func main() {
	config.Load()

	maxWorkers, err := config.Int("ORACLE_MAX_WORKERS", 10)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	keys, err := confidential.NewKeyManager()
	if err != nil {
		log.Fatalf("ERROR: Failed to initialize key manager: %v", err)
	}
	store := confidential.NewStore(keys, 0)

	// Attestation is best-effort: outside an enclave the service runs with an
	// unattested key
	attester, err := confidential.GetAttester()
	if err != nil {
		log.Printf("WARNING: NSM not available, serving unattested keys: %v", err)
		attester = nil
	}

	srv := confidential.NewServer(store, attester, maxWorkers)

	vsockPort, err := config.Int("ORACLE_VSOCK_PORT", 0)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	if vsockPort > 0 {
		log.Fatalf("ERROR: Server failed: %v", srv.ListenVsock(uint32(vsockPort)))
	}
	log.Fatalf("ERROR: Server failed: %v", srv.ListenTCP(config.String("ORACLE_LISTEN_ADDR", ":9090")))
}
