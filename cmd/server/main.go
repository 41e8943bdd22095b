// Package main runs the redistribution REST API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/akta-mmi/redistribution_core/internal/app"
	"github.com/akta-mmi/redistribution_core/internal/app/httpapi"
	"github.com/akta-mmi/redistribution_core/internal/app/metrics"
	"github.com/akta-mmi/redistribution_core/internal/app/storage/postgres"
	"github.com/akta-mmi/redistribution_core/internal/config"
	"github.com/akta-mmi/redistribution_core/internal/middleware"
	"github.com/akta-mmi/redistribution_core/internal/platform/database"
	"github.com/akta-mmi/redistribution_core/internal/platform/migrations"
	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}

	var stores app.Stores
	if db != nil {
		defer db.Close()
		if err := migrations.Apply(ctx, db); err != nil {
			log.WithError(err).Fatal("apply migrations failed")
		}
		pg := postgres.New(db)
		stores = app.Stores{
			Redistributions: pg,
			Commands:        pg,
			Transactions:    pg,
			Kiosks:          pg,
			Products:        pg,
			Admins:          pg,
			Roles:           pg,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
	}

	application, err := app.New(cfg, stores, nil, log, app.Options{})
	if err != nil {
		log.WithError(err).Fatal("build application failed")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable; idempotency cache disabled")
			redisClient = nil
		}
	}

	router := httpapi.NewHandler(application, db, cfg.Chain.DemoMode, log)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, log, []string{"/health", "/api/health", "/metrics"})
	ratelimit := middleware.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst, log)
	ratelimit.StartCleanup(10 * time.Minute)
	idempotency := middleware.NewIdempotency(redisClient, cfg.Redis.IdempotencyTTL, log)
	cors := middleware.NewCORSMiddleware(corsOrigins())

	handler := metrics.InstrumentHandler(
		cors.Handler(auth.Handler(ratelimit.Handler(idempotency.Handler(router)))))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("api server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
}

func corsOrigins() []string {
	raw := os.Getenv("CORS_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
