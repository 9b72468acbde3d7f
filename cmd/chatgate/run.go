package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/hehbot/chatgate/internal/archive"
	"github.com/hehbot/chatgate/internal/cache"
	"github.com/hehbot/chatgate/internal/config"
	"github.com/hehbot/chatgate/internal/database"
	"github.com/hehbot/chatgate/internal/dispatch"
	"github.com/hehbot/chatgate/internal/gateway"
	"github.com/hehbot/chatgate/internal/model"
	"github.com/hehbot/chatgate/internal/relay"
	"github.com/hehbot/chatgate/internal/snipe"
	"github.com/hehbot/chatgate/internal/version"
)

const shutdownTimeout = 30 * time.Second

// run wires every component from the config file and blocks until a signal
// arrives or the gateway loop ends on its own.
func run(parent context.Context, configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	logger.Info("starting chatgate",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Writer and dispatcher drain on Stop, so they must outlive the signal
	workCtx := context.WithoutCancel(ctx)

	// Message cache and snipe history
	msgCache, err := cache.New[int64, model.Message](cfg.Cache.Capacity)
	if err != nil {
		return fmt.Errorf("create message cache: %w", err)
	}
	snipes, err := snipe.New(snipe.Config{
		Limit:       cfg.Snipe.Limit,
		MaxChannels: cfg.Snipe.MaxChannels,
	})
	if err != nil {
		return fmt.Errorf("create snipe store: %w", err)
	}

	handlers := []dispatch.Handler{snipes, logHandler(logger)}
	deps := healthDeps{cache: msgCache, snipes: snipes}

	// Archive (optional)
	var writer *archive.Writer
	if cfg.Archive.Enabled {
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

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			QueueLimit:    cfg.Dispatch.QueueLimit,
		}, pool, logger.With("component", "archive"))
		if err := writer.Start(workCtx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}
		handlers = append(handlers, writer)
		deps.db = pool
		deps.archive = writer
		logger.Info("archive enabled")
	}

	// Relay (optional)
	if cfg.Relay.AMQPURL != "" {
		amqpCfg := amqp.NewDurablePubSubConfig(cfg.Relay.AMQPURL, amqp.GenerateQueueNameTopicName)
		publisher, err := amqp.NewPublisher(amqpCfg, watermill.NewSlogLogger(logger.With("component", "amqp")))
		if err != nil {
			return fmt.Errorf("create amqp publisher: %w", err)
		}
		defer publisher.Close()

		rl := relay.New(publisher, relay.Config{
			TopicPrefix:     cfg.Relay.TopicPrefix,
			BreakerFailures: cfg.Relay.BreakerFailures,
			BreakerTimeout:  cfg.Relay.BreakerTimeout,
		}, logger.With("component", "relay"))
		handlers = append(handlers, rl)
		deps.relay = rl
		logger.Info("relay enabled", "topic_prefix", cfg.Relay.TopicPrefix)
	}

	// Dispatcher
	dispatcher := dispatch.New(dispatch.Config{
		QueueSize:  cfg.Dispatch.QueueSize,
		QueueLimit: cfg.Dispatch.QueueLimit,
	}, msgCache, dispatch.Multi(handlers...), logger.With("component", "dispatch"))
	if err := dispatcher.Start(workCtx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	deps.dispatcher = dispatcher

	// Gateway
	gw := gateway.New(gatewayConfig(cfg), dispatcher, logger.With("component", "gateway"))
	deps.gateway = gw

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHealthHandler(deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case <-gw.Done():
			return gw.Err()
		case <-gctx.Done():
			return nil
		}
	})

	logger.Info("chatgate running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("chatgate stopping on error", "error", runErr)
	} else {
		logger.Info("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway stop", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stop", "error", err)
	}
	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop", "error", err)
		}
	}

	stats := dispatcher.Stats()
	logger.Info("chatgate stopped",
		"creates", stats.Creates,
		"updates", stats.Updates,
		"deletes", stats.Deletes,
		"dropped", stats.Dropped,
	)
	return runErr
}

// gatewayConfig maps file configuration onto gateway.Config.
func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		URL:   cfg.Gateway.URL,
		Token: cfg.Gateway.Token,
		Properties: gateway.IdentifyProperties{
			OS:      cfg.Gateway.OS,
			Browser: cfg.Gateway.Browser,
			Device:  cfg.Gateway.Device,
		},
		WriteTimeout:          cfg.Gateway.WriteTimeout,
		HandshakeTimeout:      cfg.Gateway.HandshakeTimeout,
		InvalidSessionDelay:   cfg.Gateway.InvalidSessionDelay,
		StopTimeout:           cfg.Gateway.StopTimeout,
		MaxIdentifyRejections: cfg.Gateway.MaxIdentifyRejections,
		Backoff: gateway.BackoffConfig{
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
			Jitter:      cfg.Reconnect.Jitter,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
	}
}
