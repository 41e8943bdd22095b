// Package main runs the transaction reconciler and timeout sweeper.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/akta-mmi/redistribution_core/internal/app"
	"github.com/akta-mmi/redistribution_core/internal/app/storage/postgres"
	"github.com/akta-mmi/redistribution_core/internal/config"
	"github.com/akta-mmi/redistribution_core/internal/platform/database"
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
	}).WithField("component", "reconciler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}

	var stores app.Stores
	if db != nil {
		defer db.Close()
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
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
	}

	application, err := app.New(cfg, stores, nil, log, app.Options{RunReconciler: true})
	if err != nil {
		log.WithError(err).Fatal("build application failed")
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start reconciler failed")
	}
	log.Info("reconciler running")

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("stop error")
	}
}
