package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ErlanBelekov/replenishment/config"
	"github.com/ErlanBelekov/replenishment/internal/clock"
	"github.com/ErlanBelekov/replenishment/internal/email"
	"github.com/ErlanBelekov/replenishment/internal/health"
	"github.com/ErlanBelekov/replenishment/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/replenishment/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/replenishment/internal/log"
	"github.com/ErlanBelekov/replenishment/internal/metrics"
	"github.com/ErlanBelekov/replenishment/internal/payment"
	"github.com/ErlanBelekov/replenishment/internal/scheduler"
	"github.com/ErlanBelekov/replenishment/internal/shipping"
	"github.com/ErlanBelekov/replenishment/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, "replenishment-worker")
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

	logger.Info("db and redis connected")

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer,
		health.Dependency{Name: "postgres", Pinger: pool},
		health.Dependency{Name: "redis", Pinger: health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})},
	)

	clk := clock.Real{}
	replenishmentRepo := postgres.NewReplenishmentRepository(pool, logger)
	queue := postgres.NewQueueRepository(pool, clk, cfg.MaxAttempts)
	payloads := redis.NewPayloadStore(rdb)

	processor := usecase.NewReplenishmentProcessor(usecase.ProcessorDeps{
		Customers:      postgres.NewCustomerRepository(pool),
		Replenishments: replenishmentRepo,
		Products:       postgres.NewProductRepository(pool),
		Orders:         postgres.NewOrderRepository(pool),
		Queue:          queue,
		Payloads:       payloads,
		Tx:             postgres.NewTxManager(pool),
		Gateway:        payment.NewGateway(cfg.Env, cfg.PaymentGatewayURL, cfg.PaymentAPIKey, logger),
		Shipping:       shipping.NewCalculator(),
		Sender:         email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger),
		Clock:          clk,
	}, cfg.Currency, cfg.ShippingMethod, logger)

	var wg sync.WaitGroup

	worker := scheduler.NewWorker(
		queue,
		processor,
		logger,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.RetryBaseSec)*time.Second,
		cfg.WorkerCount,
	)
	wg.Go(func() { worker.Start(ctx) })

	// heartbeat fires every 10s, so 30s means three missed beats before a delivery is stale
	reaper := scheduler.NewReaper(queue, processor, logger, 30*time.Second, 30*time.Second)
	wg.Go(func() { reaper.Start(ctx) })

	reconciler := scheduler.NewReconciler(replenishmentRepo, queue, payloads, logger, cfg.ReconcileCron)
	wg.Go(func() {
		if err := reconciler.Start(ctx); err != nil {
			logger.Error("reconciler", "error", err)
			stop()
		}
	})

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("worker process shut down")
}
