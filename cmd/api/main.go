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

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/config"
	"marketplace-checkout/internal/db"
	"marketplace-checkout/internal/delivery"
	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/httpserver"
	"marketplace-checkout/internal/marketplace"
	"marketplace-checkout/internal/migrate"
	sessionrepo "marketplace-checkout/internal/repository/session"
	sessionsvc "marketplace-checkout/internal/service/session"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	if loaded, err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatalf("env: %v", err)
	} else if !loaded {
		logger.Println("no .env file found, using process environment")
	}
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	backend, err := marketplace.New(marketplace.Options{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
		Logger:  log.New(os.Stdout, "[marketplace] ", log.LstdFlags|log.LUTC),
	})
	if err != nil {
		logger.Fatalf("init backend client: %v", err)
	}

	var (
		repo  sessionrepo.Repository
		ready []httpserver.ReadyCheck
	)
	switch cfg.SessionBackend {
	case config.SessionPostgres:
		pool, err := db.Connect(ctx, cfg.DBConnString)
		if err != nil {
			logger.Fatalf("connect to db: %v", err)
		}
		defer pool.Close()
		if err := migrate.Apply(ctx, pool); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
		repo = sessionrepo.NewPostgres(pool)
		ready = append(ready, httpserver.ReadyCheck{Name: "database", Check: pool.Ping})
	case config.SessionRedis:
		client, err := db.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatalf("connect to redis: %v", err)
		}
		defer client.Close()
		repo = sessionrepo.NewRedis(client)
		ready = append(ready, httpserver.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	default:
		repo = sessionrepo.NewMemory()
	}
	logger.Printf("session storage: %s (ttl %s)", cfg.SessionBackend, cfg.SessionTTL)

	sessions := sessionsvc.New(repo, backend, checkout.Settings{
		ShippingFee:     cfg.ShippingFee,
		FallbackGateway: domain.Gateway{Slug: cfg.FallbackGatewaySlug, Name: cfg.FallbackGatewayName},
		DefaultLocation: delivery.Point{Latitude: cfg.DefaultLatitude, Longitude: cfg.DefaultLongitude},
		ReturnURL:       cfg.ReturnURL,
	}, cfg.SessionTTL, logger)
	go sessions.Run(ctx, sweepInterval(cfg.SessionTTL))

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Sessions:    sessions,
		Ready:       ready,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		logger.Fatalf("init server: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("starting http server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	} else {
		logger.Printf("server stopped")
	}
	stop()
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 15*time.Minute {
		interval = 15 * time.Minute
	}
	return interval
}
