// sequencerd runs the bid sequencer orchestrator against a remote ledger.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudx-io/clearauction/confidential"
	"github.com/cloudx-io/clearauction/config"
	"github.com/cloudx-io/clearauction/ledger"
	"github.com/cloudx-io/clearauction/sequencer"
)

func main() {
	config.Load()

	address, err := config.RequiredString("SEQUENCER_ADDRESS")
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	ledgerURL, err := config.RequiredString("LEDGER_URL")
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	tick, err := config.Duration("SEQUENCER_TICK_INTERVAL", 10*time.Second)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	confirmTimeout, err := config.Duration("SEQUENCER_CONFIRM_TIMEOUT", 90*time.Second)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	confirmRetries, err := config.Int("SEQUENCER_CONFIRM_RETRIES", 3)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	keys, err := confidential.NewKeyManager()
	if err != nil {
		log.Fatalf("ERROR: Failed to initialize key manager: %v", err)
	}

	orch, err := sequencer.New(sequencer.Config{
		Address:           address,
		TickInterval:      tick,
		ConfirmTimeout:    confirmTimeout,
		MaxConfirmRetries: confirmRetries,
	}, ledger.NewClient(ledgerURL), keys, nil)
	if err != nil {
		log.Fatalf("ERROR: Failed to create orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ERROR: Orchestrator failed: %v", err)
	}
}
