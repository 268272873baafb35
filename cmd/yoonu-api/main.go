// README: Entry point; loads config, wires services, starts HTTP server and the timeout sweeper.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"yoonu/internal/audit"
	"yoonu/internal/config"
	httptransport "yoonu/internal/http"
	"yoonu/internal/infra"
	"yoonu/internal/logging"
	"yoonu/internal/maps"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/matching"
	"yoonu/internal/modules/pricing"
	"yoonu/internal/modules/request"
	"yoonu/internal/modules/timeout"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/modules/worker"
	"yoonu/internal/notify"
)

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

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var notifier notify.Notifier
	if cfg.Firebase.ProjectID != "" {
		messagingClient, err := infra.NewMessaging(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		notifier = notify.NewFCMNotifier(messagingClient, dbPool, logger)
	} else {
		logger.Warn("no firebase project configured, notifications go to the log")
		notifier = notify.NewLogNotifier(logger)
	}

	router, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.AvgSpeedKmh, logger)
	if err != nil {
		log.Fatalf("maps init: %v", err)
	}

	auditor := audit.NewRecorder(dbPool, logger)
	pricingSvc := pricing.NewService(pricing.NewPGStore(dbPool))
	timeoutSvc := timeout.NewService(timeout.NewPGStore(dbPool), logger)
	walletSvc := wallet.NewService(wallet.NewPGStore(dbPool), logger)
	guard := idempotency.NewService(idempotency.NewPGStore(dbPool), logger)

	matchingStore := matching.NewRedisStore(redisClient)
	workerSvc := worker.NewService(worker.NewPGStore(dbPool), matchingStore, logger)

	requestSvc := request.NewService(request.Deps{
		Store:     request.NewPGStore(dbPool),
		Pricing:   pricingSvc,
		Router:    router,
		Scheduler: timeoutSvc,
		Wallet:    walletSvc,
		Notifier:  notifier,
		Audit:     auditor,
		Ratings:   workerSvc,
		Timeouts:  cfg.Timeouts,
		Logger:    logger,
	})
	matchingSvc := matching.NewService(matchingStore, requestSvc, workerSvc, notifier, logger)
	requestSvc.SetDispatcher(matchingSvc)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Requests: requestSvc,
		Workers:  workerSvc,
		Wallets:  walletSvc,
		Pricing:  pricingSvc,
		Guard:    guard,
		Logger:   logger,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, handler, logger)

	go timeoutSvc.RunSweeper(ctx, requestSvc, cfg.Timeouts.SweepInterval)

	if err := server.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
