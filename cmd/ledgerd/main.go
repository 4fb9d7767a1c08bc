// ledgerd runs the reference ledger: the confidential value store, the
// auction machine host and the HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/config"
	"github.com/cloudx-io/clearauction/ledger"
)

func main() {
	config.Load()

	addr := config.String("LEDGER_LISTEN_ADDR", ":8080")
	callbackDelay, err := config.Duration("LEDGER_DECRYPT_CALLBACK_DELAY", 2*time.Second)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	keys, err := confidential.NewKeyManager()
	if err != nil {
		log.Fatalf("ERROR: Failed to initialize key manager: %v", err)
	}
	store := confidential.NewStore(keys, callbackDelay)
	l := ledger.New(store, nil)

	// Mirror machine events into the service log
	events, cancelEvents := l.Events().Subscribe(256)
	defer cancelEvents()
	go func() {
		for e := range events {
			log.Printf("INFO: Event %s auction=%s bidder=%s bid=%d", e.Type, e.AuctionID, e.Bidder, e.BidID)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	ledger.NewServer(l).RegisterRoutes(r)

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

	log.Printf("INFO: Ledger listening on %s (decrypt callback delay %s)", addr, callbackDelay)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("ERROR: Server failed: %v", err)
	}
	log.Printf("INFO: Ledger stopped")
}
