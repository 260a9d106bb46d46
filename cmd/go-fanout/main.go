package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/deliverly/go-fanout/internal/bridge"
	"github.com/deliverly/go-fanout/internal/hub"
	"github.com/deliverly/go-fanout/internal/ingest"
	"github.com/deliverly/go-fanout/internal/server"
	"github.com/deliverly/go-fanout/pkg/config"
	"github.com/deliverly/go-fanout/pkg/logging"
	"github.com/deliverly/go-fanout/pkg/presence"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.Level(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	tracker := presence.NewTracker()
	h := hub.New(logger, tracker, cfg.Server.ConnectionLimit.MaxPerUser, hub.LimitMode(cfg.Server.ConnectionLimit.Mode))
	router := hub.NewRouter(logger, h)

	if cfg.Redis.Enabled {
		b, err := bridge.New(ctx, logger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, router)
		if err != nil {
			logger.Error("Failed to connect redis bridge", slog.Any("error", err))
			os.Exit(1)
		}
		router.SetPublisher(b)
		b.Run(ctx)
		defer b.Close()
	}

	if cfg.Kafka.Enabled {
		consumer, err := ingest.NewConsumer(logger, cfg.Kafka.Brokers, cfg.Kafka.GroupID, router)
		if err != nil {
			logger.Error("Failed to start kafka ingest", slog.Any("error", err))
			os.Exit(1)
		}
		consumer.Start(ctx)
		defer consumer.Close()
	}

	app := server.NewApp(logger, ctx, cfg, h, router)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
