// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unclebandit/smscourier-backend/internal/config"
	"github.com/unclebandit/smscourier-backend/internal/db"
	"github.com/unclebandit/smscourier-backend/internal/gateway"
	"github.com/unclebandit/smscourier-backend/internal/metrics"
	"github.com/unclebandit/smscourier-backend/internal/queue"
	"github.com/unclebandit/smscourier-backend/internal/repository"
	"github.com/unclebandit/smscourier-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()
	logger.Info("connected to database")

	metrics.Init()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	queueRepo := &repository.QueueRepository{DB: conn}
	logRepo := &repository.SmsLogRepository{DB: conn}

	sender := gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayFrom, cfg.GatewayRate, logger)

	dispatcher := service.NewDispatcher(campaignRepo, queueRepo, logRepo, sender, logger)
	dispatcher.BatchSize = cfg.BatchSize
	dispatcher.DailyLimit = cfg.DailyLimit
	dispatcher.StuckGrace = cfg.StuckGrace
	dispatcher.SweepInterval = cfg.SweepInterval

	// The event feed is best effort: without a broker the worker still
	// dispatches, it just skips publishing.
	publisher, err := queue.DialPublisher(cfg.AMQPURL, logger)
	if err != nil {
		logger.Warn("amqp unavailable, send-log events disabled", zap.Error(err))
	} else {
		defer publisher.Close()
		dispatcher.Publisher = publisher
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	dispatcher.Start(ctx, cfg.TickInterval)
	logger.Info("worker shutdown complete")
}
