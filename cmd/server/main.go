// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/smscourier-backend/internal/config"
	"github.com/unclebandit/smscourier-backend/internal/controller"
	"github.com/unclebandit/smscourier-backend/internal/db"
	"github.com/unclebandit/smscourier-backend/internal/gateway"
	"github.com/unclebandit/smscourier-backend/internal/metrics"
	"github.com/unclebandit/smscourier-backend/internal/planner"
	"github.com/unclebandit/smscourier-backend/internal/repository"
	"github.com/unclebandit/smscourier-backend/internal/service"
)

func main() {
	// Load .env
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
	contactRepo := &repository.ContactRepository{DB: conn}

	sender := gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayFrom, cfg.GatewayRate, logger)

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		QueueRepo:    queueRepo,
		Log:          logger,
	}
	smsService := &service.SmsService{
		QueueRepo: queueRepo,
		LogRepo:   logRepo,
		Sender:    sender,
		Now:       time.Now,
		Log:       logger,
	}
	campaignPlanner := planner.New(campaignRepo, logger)

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Log:             logger,
	}
	smsController := &controller.SmsController{
		Planner:     campaignPlanner,
		SmsService:  smsService,
		ContactRepo: contactRepo,
		LogRepo:     logRepo,
		Log:         logger,
	}

	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/sms/bulk", smsController.BulkSend)
		r.Post("/sms/send", smsController.SendSingle)
		r.Post("/sms/test", smsController.TestSend)
		r.Get("/sms/logs", smsController.ListLogs)
		r.Delete("/sms/logs", smsController.ClearLogs)

		r.Get("/campaigns", campaignController.ListCampaigns)
		r.Get("/campaigns/{id}", campaignController.GetCampaign)
		r.Post("/campaigns/{id}/status", campaignController.SetStatus)
		r.Delete("/campaigns/{id}", campaignController.DeleteCampaign)
	})

	apiServer := &http.Server{Addr: ":" + cfg.APIPort, Handler: r}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	logger.Info("server shutdown complete")
}
