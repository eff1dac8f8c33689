package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/gem-relay/internal/agent"
	"github.com/rickgao/gem-relay/internal/config"
	"github.com/rickgao/gem-relay/internal/exchange"
	"github.com/rickgao/gem-relay/internal/features"
	"github.com/rickgao/gem-relay/internal/logging"
	"github.com/rickgao/gem-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/oracle.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting oracle",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"core_url", cfg.Agent.CoreURL,
		"symbols", cfg.Exchange.Symbols,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extractor := features.NewExtractor(cfg.Agent.TradeWindow)
	predictor := features.NewPredictor(cfg.Agent.SignalThreshold)

	oracle := agent.New(agent.Config{
		AgentID:            cfg.Agent.ID,
		CoreURL:            cfg.Agent.CoreURL,
		RetryDelay:         cfg.Agent.RetryDelay,
		HeartbeatInterval:  cfg.Agent.HeartbeatInterval,
		ProcessingInterval: cfg.Agent.ProcessingInterval,
		SendQueueSize:      cfg.Agent.SendQueueSize,
	}, extractor, predictor, logger)

	// A fresh session starts from a new snapshot
	feed := exchange.New(exchange.Config{
		URL:          cfg.Exchange.URL,
		Symbols:      cfg.Exchange.Symbols,
		Channels:     cfg.Exchange.Channels,
		InstType:     exchange.InstTypeSpot,
		PingInterval: cfg.Exchange.PingInterval,
		RetryDelay:   cfg.Exchange.RetryDelay,
	}, oracle.HandleMarketFrame, logger, exchange.WithOnSession(extractor.Reset))

	if err := oracle.Run(ctx, feed); err != nil {
		logger.Error("oracle failed", "error", err)
		os.Exit(1)
	}
}
