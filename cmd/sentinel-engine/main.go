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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/intel"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/repo"
	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/telemetry"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting mirador-sentinel",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
	)

	if err := run(configPath, cfg, logger); err != nil {
		logger.Error("mirador-sentinel exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("mirador-sentinel stopped")
}

func run(configPath string, cfg *config.Config, logger *slog.Logger) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return utils.NewAppError("startup", "register metrics", err)
	}

	store, err := intel.Load(cfg.Intel.Path, logger)
	if err != nil {
		return utils.NewAppError("startup", "load threat intel", err)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			KeyPrefix:    cfg.Cache.KeyPrefix,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable; baselines stay process-local", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	var notifier engine.Notifier = engine.LogNotifier{Logger: logger}
	if cfg.Notifier.WebhookURL != "" {
		notifier = repo.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout, cacheProvider, logger)
	}

	var events engine.EventLog = repo.LogEventLog{Logger: logger}
	var source telemetry.Source
	if cfg.Kafka.Enabled {
		eventLog, err := repo.NewKafkaEventLog(repo.KafkaEventLogConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.EventsTopic}, logger)
		if err != nil {
			return utils.NewAppError("startup", "kafka event log", err)
		}
		defer eventLog.Close()
		events = eventLog

		consumer, err := telemetry.NewKafkaSource(telemetry.KafkaSourceConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TelemetryTopic,
			GroupID: cfg.Kafka.GroupID,
		}, logger)
		if err != nil {
			return utils.NewAppError("startup", "kafka telemetry consumer", err)
		}
		defer consumer.Close()
		source = consumer
	} else if cfg.Synthetic.Enabled {
		source = telemetry.NewGenerator(cfg.Synthetic.Seed, cfg.Monitoring.SamplingInterval, nil, logger)
	}

	responseCfg := engine.ResponseConfigFrom(cfg.Response, logger)
	monitor := engine.NewMonitor(engine.Options{
		Monitoring:  cfg.Monitoring,
		Response:    &responseCfg,
		Intel:       store,
		Cache:       cacheProvider,
		BaselineTTL: cfg.Cache.BaselineTTL,
		Notifier:    notifier,
		Events:      events,
		Source:      source,
		Logger:      logger,
	})
	defer monitor.Close()

	service := services.NewSentinelService(logger, monitor)

	grpcServer, err := api.NewServer(cfg.Server, api.NewGRPCHandler(service, logger))
	if err != nil {
		return utils.NewAppError("startup", "create gRPC server", err)
	}
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddress,
		Handler: api.NewRouter(service, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Gatherer:       prometheus.DefaultGatherer,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return monitor.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
		if err := grpcServer.Start(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		watchReload(ctx, configPath, monitor, logger)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		grpcServer.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
		return nil
	})

	return g.Wait()
}

// watchReload re-reads configuration and the intel feed on SIGHUP.
func watchReload(ctx context.Context, configPath string, monitor *engine.Monitor, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("config reload rejected", slog.Any("error", err))
				continue
			}
			monitor.ApplyConfig(cfg.Monitoring, engine.ResponseConfigFrom(cfg.Response, logger))

			feed, err := intel.ReadFeed(cfg.Intel.Path)
			if err != nil {
				logger.Error("threat intel reload failed", slog.Any("error", err))
				continue
			}
			monitor.Intel().Replace(feed)
			logger.Info("configuration reloaded", slog.String("path", configPath))
		}
	}
}
