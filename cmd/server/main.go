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

	"github.com/ErlanBelekov/replenishment/config"
	"github.com/ErlanBelekov/replenishment/internal/clock"
	"github.com/ErlanBelekov/replenishment/internal/health"
	"github.com/ErlanBelekov/replenishment/internal/idgen"
	"github.com/ErlanBelekov/replenishment/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/replenishment/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/replenishment/internal/log"
	"github.com/ErlanBelekov/replenishment/internal/metrics"
	httptransport "github.com/ErlanBelekov/replenishment/internal/transport/http"
	"github.com/ErlanBelekov/replenishment/internal/transport/http/handler"
	"github.com/ErlanBelekov/replenishment/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, "replenishment-api")
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		stop()
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	clk := clock.Real{}
	customerRepo := postgres.NewCustomerRepository(pool)
	replenishmentRepo := postgres.NewReplenishmentRepository(pool, logger)
	queue := postgres.NewQueueRepository(pool, clk, cfg.MaxAttempts)
	payloads := redis.NewPayloadStore(rdb)

	replenishmentUsecase := usecase.NewReplenishmentUsecase(
		customerRepo,
		replenishmentRepo,
		queue,
		payloads,
		postgres.NewTxManager(pool),
		idgen.UUIDv7{},
		clk,
		logger,
	)
	replenishmentHandler := handler.NewReplenishmentHandler(replenishmentUsecase, logger)

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer,
		health.Dependency{Name: "postgres", Pinger: pool},
		health.Dependency{Name: "redis", Pinger: health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})},
	)

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, replenishmentHandler, customerRepo, []byte(cfg.JWTSecret)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}
