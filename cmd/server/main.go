package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"counter-service/config"
	"counter-service/internal/api"
	"counter-service/internal/broker"
	"counter-service/internal/redisclient"
	"counter-service/internal/service"
	"counter-service/internal/store"
	"counter-service/internal/util"
	"counter-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting counter service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer("counter-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Redis is optional: without it reference data is read through and
	// monitoring cycles run without the cross-replica lock.
	var (
		cache  service.ReferenceCache
		locker worker.Locker
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache and monitor lock", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache = redisClient
		locker = redisClient
		logger.Info("Redis connected")
	}

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer orderProducer.Close()
	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlertEvents)
	defer alertProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("order_topic", cfg.Kafka.TopicOrderEvents),
		zap.String("alert_topic", cfg.Kafka.TopicAlertEvents))

	eventPublisher := broker.NewEventPublisher(orderProducer, alertProducer)
	clock := util.SystemClock

	states := service.NewOrderStateStore(db, cache, cfg.Cache.ReferenceTTL)
	thresholds := service.NewThresholdRegistry(db, cache, cfg.Cache.ReferenceTTL, clock)
	pricing := service.NewPriceCalculator(db, db, cache, cfg.Cache.ReferenceTTL)
	orderService := service.NewOrderService(db, states, pricing, eventPublisher, clock)
	alertService := service.NewAlertService(db, eventPublisher, clock)
	paymentService := service.NewPaymentService(db, db, eventPublisher, clock)
	slaMonitor := service.NewSLAMonitor(db, thresholds, eventPublisher, clock)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	monitorWorker := worker.NewMonitorWorker(slaMonitor, alertService, locker, worker.MonitorConfig{
		Interval:     cfg.SLA.MonitorInterval,
		CycleTimeout: cfg.SLA.CycleTimeout,
		LockTTL:      cfg.SLA.LockTTL,
		Retention:    cfg.SLA.AlertRetention,
	})
	go func() {
		if err := monitorWorker.Start(workerCtx); err != nil {
			logger.Error("Monitor worker error", zap.Error(err))
		}
	}()

	orderConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents, cfg.Kafka.ConsumerGroup)
	eventWorker := worker.NewOrderEventWorker(orderConsumer, monitorWorker)
	go func() {
		if err := eventWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Order event worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, alertService, thresholds, pricing, paymentService, monitorWorker)
	handler.AddReadinessCheck("postgres", db.Ping)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient.Ping)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if cfg.Observ.PrometheusPort != "" && cfg.Observ.PrometheusPort != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Observ.PrometheusPort),
			Handler: mux,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("port", cfg.Observ.PrometheusPort))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	monitorWorker.Stop()
	if err := eventWorker.Stop(); err != nil {
		logger.Warn("Error closing consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}
