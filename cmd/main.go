package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/trunov/thumbhub/internal/app"
	"github.com/trunov/thumbhub/internal/config"
)

const file = "config.json"

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

func main() {
	cfg, err := config.Load(file)
	if err != nil {
		log.Fatal(err)
	}

	logger := app.NewLogger(&cfg.Log)
	slog.SetDefault(logger)

	err = initSentry(&cfg.Sentry, "v1")
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}

	// Flush buffered events before the program terminates.
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("stopped", "err", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}
