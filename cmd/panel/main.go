// panel connects to the relay's panel endpoint and logs every frame it fans out.
// Usage: go run ./cmd/panel --url ws://localhost:8765/ws/panel
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/logging"
	"github.com/rickgao/gem-relay/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8765/ws/panel", "relay panel endpoint")
	retry := flag.Duration("retry", 5*time.Second, "delay between connection attempts")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	level := flag.String("log-level", "info", "log level")
	format := flag.String("log-format", "text", "log format (text or json)")
	flag.Parse()

	logger := logging.New(*level, *format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := connection.DefaultClientConfig()
	cfg.URL = *url
	cfg.RetryDelay = *retry

	client := connection.NewClient(cfg, logger,
		connection.WithFrameHandler(func(data []byte) { logFrame(logger, data, *verbose) }),
	)

	logger.Info("tailing relay", "url", *url)
	if err := client.Run(ctx); err != nil {
		logger.Error("panel failed", "error", err)
		os.Exit(1)
	}
	logger.Info("panel stopped", "attempts", client.Attempts())
}

func logFrame(logger *slog.Logger, data []byte, verbose bool) {
	msg, err := protocol.Parse(data)
	if err != nil {
		logger.Warn("unparseable frame", "error", err)
		return
	}
	if verbose {
		logger.Info("frame", "type", msg.Type, "raw", string(msg.Raw))
	}

	switch msg.Type {
	case protocol.TypeHeartbeat:
		var hb protocol.Heartbeat
		if err := json.Unmarshal(msg.Raw, &hb); err != nil {
			logger.Warn("bad heartbeat", "error", err)
			return
		}
		logger.Info("heartbeat", "agent_id", hb.AgentID, "ts", hb.Timestamp)

	case protocol.TypeCoreUpdate:
		var update protocol.CoreUpdate
		if err := json.Unmarshal(msg.Raw, &update); err != nil {
			logger.Warn("bad core_update", "error", err)
			return
		}
		f := update.Features
		logger.Info("core_update",
			"agent_id", update.AgentID,
			"prediction", update.Prediction,
			"wap", f.WAP,
			"spread", f.Spread,
			"mid_price", f.MidPrice,
			"book_imbalance", f.BookImbalance5Levels,
			"trade_imbalance", f.TradeImbalance,
		)

	default:
		logger.Debug("unhandled frame", "type", msg.Type)
	}
}
