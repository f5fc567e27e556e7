package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orders-service/internal/catalog"
	"orders-service/internal/config"
	"orders-service/internal/database"
	"orders-service/internal/handler"
	"orders-service/internal/messaging"
	"orders-service/internal/metrics"
	"orders-service/internal/middleware"
	"orders-service/internal/payment"
	"orders-service/internal/repository"
	"orders-service/internal/router"
	"orders-service/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logger)
	logger.Info().Msg("starting orders service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Remote collaborators share one transport; each call carries its own deadline.
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, httpClient, logger)
	paymentClient := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.Timeout, httpClient, logger)

	orderRepo := repository.NewOrderRepository(pool, logger)
	orderService := service.NewOrderService(orderRepo, catalogClient, paymentClient, service.Config{
		Currency:       cfg.Payment.Currency,
		CatalogTimeout: cfg.Catalog.Timeout,
		PaymentTimeout: cfg.Payment.Timeout,
	}, m, logger)

	orderHandler := handler.NewOrderHandler(orderService, logger)

	opts := router.Options{
		APIKey:      cfg.Auth.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Health:      pool,
		Metrics:     m,
		Gatherer:    reg,
	}

	if cfg.Redis.Enabled {
		redisClient, err := newRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rate limiting disabled, redis unavailable")
		} else {
			defer redisClient.Close()
			opts.Limiter = middleware.NewRedisLimiter(redisClient, cfg.Redis.RateLimitPerMinute)
			opts.RateLimitLimit = cfg.Redis.RateLimitPerMinute
		}
	}

	mux := router.New(orderHandler, opts, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	consumerErrors := make(chan error, 1)
	consumerDone := make(chan struct{})

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	if cfg.RabbitMQ.Enabled {
		conn, ch, err := messaging.Connect(ctx, cfg.RabbitMQ, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize payment consumer: %w", err)
		}
		defer conn.Close()
		defer ch.Close()

		consumer := messaging.NewPaymentConsumer(ch, cfg.RabbitMQ.Queue, cfg.RabbitMQ.Workers, orderService, m, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(consumerCtx); err != nil {
				consumerErrors <- err
			}
		}()
	} else {
		close(consumerDone)
		logger.Info().Msg("payment consumer disabled")
	}

	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("HTTP server started")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)

	case err := <-consumerErrors:
		runErr = fmt.Errorf("payment consumer error: %w", err)

	case sig := <-shutdown:
		logger.Info().
			Str("signal", sig.String()).
			Msg("shutdown signal received, starting graceful shutdown")
	}

	return gracefulShutdown(server, stopConsumer, consumerDone, logger, runErr)
}

// gracefulShutdown drains HTTP traffic, then lets in-flight payment messages settle.
func gracefulShutdown(server *http.Server, stopConsumer context.CancelFunc, consumerDone <-chan struct{}, logger zerolog.Logger, runErr error) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server gracefully")
		if closeErr := server.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close server")
		}
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	stopConsumer()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("payment consumer did not stop in time")
	}

	logger.Info().Msg("server shutdown completed")
	return runErr
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	return client, nil
}
