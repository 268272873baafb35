// README: Standalone sweeper: fires durable deadlines and purges expired idempotency records.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yoonu/internal/audit"
	"yoonu/internal/config"
	"yoonu/internal/infra"
	"yoonu/internal/logging"
	"yoonu/internal/maps"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/pricing"
	"yoonu/internal/modules/request"
	"yoonu/internal/modules/timeout"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/notify"
)

const purgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	var notifier notify.Notifier
	if cfg.Firebase.ProjectID != "" {
		messagingClient, err := infra.NewMessaging(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		notifier = notify.NewFCMNotifier(messagingClient, dbPool, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	router, err := maps.NewRouteService("", cfg.Maps.AvgSpeedKmh, logger)
	if err != nil {
		log.Fatal(err)
	}

	timeoutSvc := timeout.NewService(timeout.NewPGStore(dbPool), logger)
	idempotencyStore := idempotency.NewPGStore(dbPool)

	requestSvc := request.NewService(request.Deps{
		Store:     request.NewPGStore(dbPool),
		Pricing:   pricing.NewService(pricing.NewPGStore(dbPool)),
		Router:    router,
		Scheduler: timeoutSvc,
		Wallet:    wallet.NewService(wallet.NewPGStore(dbPool), logger),
		Notifier:  notifier,
		Audit:     audit.NewRecorder(dbPool, logger),
		Timeouts:  cfg.Timeouts,
		Logger:    logger,
	})

	go runPurge(ctx, idempotencyStore, logger)

	timeoutSvc.RunSweeper(ctx, requestSvc, cfg.Timeouts.SweepInterval)
}

func runPurge(ctx context.Context, store *idempotency.PGStore, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx, time.Now())
			if err != nil {
				logger.Error("idempotency purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("idempotency purge", "deleted", n)
			}
		}
	}
}
