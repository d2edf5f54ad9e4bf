package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/macjediwizard/crmcalsync/internal/activity"
	"github.com/macjediwizard/crmcalsync/internal/config"
	"github.com/macjediwizard/crmcalsync/internal/jobs"
	"github.com/macjediwizard/crmcalsync/internal/registry"
	"github.com/macjediwizard/crmcalsync/internal/store"
	"github.com/macjediwizard/crmcalsync/internal/sync"
	"github.com/macjediwizard/crmcalsync/internal/validator"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting CRM CalSync...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Initialize account validation and provider registry
	var validatorOpts []validator.Option
	if cfg.Network.AllowPrivateIPs {
		validatorOpts = append(validatorOpts, validator.WithAllowPrivateIPs())
	}
	providers := registry.New(db, validator.New(validatorOpts...),
		cfg.RateLimiting.RPS, cfg.RateLimiting.Burst)

	// Initialize orchestrator and job queue. The queue executes through the
	// orchestrator, and the orchestrator enqueues through the queue, so the
	// queue is attached after construction.
	tracker := activity.NewTracker()
	orchestrator := sync.NewOrchestrator(db, providers, nil, tracker, sync.Options{
		PastDays:                cfg.Sync.PastDays,
		FutureDays:              cfg.Sync.FutureDays,
		MaxOperationsPerAccount: cfg.Sync.MaxOperationsPerAccount,
		AccountBatchLimit:       cfg.Sync.AccountBatchLimit,
		Strategy:                cfg.Sync.Strategy,
	})
	queue := jobs.New(orchestrator, cfg.Jobs.Workers)
	orchestrator.AttachQueue(queue)
	queue.Start()

	// Sweep loop: periodic synchronous sync of all validated accounts.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Duration(cfg.Sync.SweepInterval) * time.Second)
		defer ticker.Stop()

		orchestrator.SweepAccounts(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				orchestrator.SweepAccounts(ctx)
			}
		}
	}()

	log.Printf("Sweep loop running every %ds (batch limit %d, op cap %d, strategy %s)",
		cfg.Sync.SweepInterval, cfg.Sync.AccountBatchLimit,
		cfg.Sync.MaxOperationsPerAccount, cfg.Sync.Strategy)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	cancel()
	<-done
	queue.Stop()

	log.Println("Stopped")
}
