// signerd runs the sequencer's auction-authorization signing service.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cloudx-io/clearauction/config"
	"github.com/cloudx-io/clearauction/signer"
)

func main() {
	config.Load()

	addr := config.String("SIGNER_LISTEN_ADDR", ":8081")

	authSigner, err := loadSigner(config.String("SIGNER_KEY_FILE", ""))
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Printf("INFO: Signing as sequencer %s", authSigner.Address())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	signer.NewServer(authSigner).RegisterRoutes(r)

	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: Server shutdown failed: %v", err)
		}
	}()

	log.Printf("INFO: Signer listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("ERROR: Server failed: %v", err)
	}
}

// loadSigner reads an EC private key PEM file, or generates an ephemeral key
// when no file is configured.
func loadSigner(path string) (*signer.AuthSigner, error) {
	if path == "" {
		log.Printf("WARNING: SIGNER_KEY_FILE not set, generating ephemeral signing key")
		return signer.GenerateAuthSigner()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*ecdsa.PrivateKey); !ok {
				err = fmt.Errorf("not an ECDSA key")
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return signer.NewAuthSigner(key), nil
}
