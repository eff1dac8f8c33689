package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gem-relay/internal/config"
	"github.com/rickgao/gem-relay/internal/connection"
	"github.com/rickgao/gem-relay/internal/database"
	"github.com/rickgao/gem-relay/internal/journal"
	"github.com/rickgao/gem-relay/internal/logging"
	"github.com/rickgao/gem-relay/internal/metrics"
	"github.com/rickgao/gem-relay/internal/registry"
	"github.com/rickgao/gem-relay/internal/router"
	"github.com/rickgao/gem-relay/internal/server"
	"github.com/rickgao/gem-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func run(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) error {
	promReg := metrics.NewRegistry()
	m := metrics.NewRelay(promReg)

	policy, err := router.ParseOverflowPolicy(cfg.Router.OverflowPolicy)
	if err != nil {
		return err
	}

	reg := registry.New(logger)
	rt := router.New(router.Config{
		ForwardTypes:   cfg.Router.ForwardTypes,
		OverflowPolicy: policy,
	}, reg, logger, router.WithMetrics(m))

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
	}
	health := server.HealthConfig{
		Instance:    cfg.Instance.ID,
		MetricsPath: cfg.Metrics.Path,
		Metrics:     metrics.Handler(promReg),
	}

	// Optional connection journal
	var jw *journal.Writer
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		jw = journal.NewWriter(journal.Config{
			Instance:      cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
			MaxBufferSize: cfg.Journal.MaxBufferSize,
		}, pool, logger, journal.WithMetrics(m))
		if err := jw.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := jw.Stop(stopCtx); err != nil {
				logger.Error("journal stop failed", "error", err)
			}
		}()

		serverOpts = append(serverOpts, server.WithJournal(jw))
		health.Database = pool
		health.Journal = jw
		logger.Info("connection journal enabled")
	}

	srv := server.New(serverConfig(cfg), reg, rt, serverOpts...)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           srv.HealthHandler(health),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// serverConfig maps file config onto the broker's settings.
func serverConfig(cfg *config.RelayConfig) server.Config {
	return server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		AgentPath:       cfg.Server.AgentPath,
		PanelPath:       cfg.Server.PanelPath,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Conn: connection.Config{
			SendQueueSize:  cfg.Connections.SendQueueSize,
			WriteTimeout:   cfg.Connections.WriteTimeout,
			PingInterval:   cfg.Connections.PingInterval,
			PongWait:       cfg.Connections.PongWait,
			MaxMessageSize: cfg.Connections.MaxMessageSize,
		},
		Limits: server.LimitsConfig{
			AcceptRate:     cfg.Limits.AcceptRate,
			AcceptBurst:    cfg.Limits.AcceptBurst,
			MaxConnections: int64(cfg.Limits.MaxConnections),
		},
		Sweep: server.SweepConfig{
			IdleTimeout: cfg.Connections.IdleTimeout,
			Interval:    cfg.Connections.SweepInterval,
		},
	}
}
