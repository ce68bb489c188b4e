// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Command lifemap runs the location journaling node: local capture and
// storage, encrypted sync to a remote endpoint, and optionally the
// remote endpoint itself.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lifemap-app/lifemap/internal/config"
	"github.com/lifemap-app/lifemap/internal/coordinator"
	"github.com/lifemap-app/lifemap/internal/cryptocodec"
	"github.com/lifemap-app/lifemap/internal/httpapi"
	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/sampler"
	"github.com/lifemap-app/lifemap/internal/store"
	"github.com/lifemap-app/lifemap/internal/supervisor"
	"github.com/lifemap-app/lifemap/internal/supervisor/services"
	"github.com/lifemap-app/lifemap/internal/syncengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("store", cfg.Store.Path).
		Bool("sync", cfg.Sync.Enabled).
		Bool("server", cfg.Server.Enabled).
		Msg("Starting LifeMap")

	storeCfg := store.DefaultConfig(cfg.Store.Path)
	storeCfg.SyncWrites = cfg.Store.SyncWrites
	if cfg.Store.GCInterval > 0 {
		storeCfg.GCInterval = cfg.Store.GCInterval
	}
	if cfg.Store.CloseTimeout > 0 {
		storeCfg.CloseTimeout = cfg.Store.CloseTimeout
	}
	points, err := store.Open(storeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open point store")
	}
	defer func() {
		if err := points.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing point store")
		}
	}()

	codec := cryptocodec.New()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddCaptureService(&services.Maintenance{
		Store:         points,
		GCInterval:    cfg.Store.GCInterval,
		RetentionDays: cfg.Store.RetentionDays,
	})

	if src := buildSource(cfg.Sampler); src != nil {
		smp := sampler.New(src, points)
		tree.AddCaptureService(&services.Capture{
			Sampler: smp,
			Options: sampler.Options{
				EnableHighAccuracy: cfg.Sampler.EnableHighAccuracy,
				Timeout:            cfg.Sampler.Timeout,
				MaxSampleAge:       cfg.Sampler.MaxSampleAge,
				MinDistanceMeters:  cfg.Sampler.MinDistanceMeters,
			},
			OwnerID: cfg.OwnerID,
		})
		logging.Info().Str("source", cfg.Sampler.Source).Msg("Location capture enabled")
	}

	if cfg.Sync.Enabled {
		client := syncengine.NewClient(cfg.Sync.Endpoint, syncengine.StaticToken(cfg.Sync.Token), cfg.Sync.Timeout)
		engine := syncengine.New(points, codec, client, nil)

		tree.AddSyncService(&syncengine.AutoSync{
			Engine:   engine,
			OwnerID:  cfg.OwnerID,
			Interval: cfg.Sync.Interval,
		})

		inbox := coordinator.NewBus()
		foreground := coordinator.NewBus()
		tree.AddSyncService(coordinator.New(coordinator.Config{
			OwnerID:           cfg.OwnerID,
			ThresholdCount:    cfg.Coordinator.ThresholdCount,
			ThresholdInterval: cfg.Coordinator.ThresholdInterval,
			WakeInterval:      cfg.Coordinator.WakeInterval,
		}, engine, points, codec, client, foreground, inbox))
		logging.Info().Str("endpoint", cfg.Sync.Endpoint).Msg("Sync enabled")
	}

	if cfg.Server.Enabled {
		envelopes, err := store.OpenEnvelopeStore(cfg.Server.EnvelopePath)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open envelope store")
		}
		defer func() {
			if err := envelopes.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing envelope store")
			}
		}()

		tokens, err := httpapi.NewTokenManager(cfg.Server.JWTSecret, cfg.Server.SessionTimeout)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize token manager")
		}
		serverCfg := httpapi.DefaultServerConfig()
		serverCfg.Addr = cfg.Server.Addr
		serverCfg.RateLimitRequests = cfg.Server.RateLimitRequests
		serverCfg.RateLimitWindow = cfg.Server.RateLimitWindow
		tree.AddAPIService(httpapi.NewServer(serverCfg, httpapi.NewHandler(envelopes), tokens))
		logging.Info().Str("addr", cfg.Server.Addr).Msg("Remote sync server enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	logging.Info().Msg("Stopped")
}

// buildSource returns the configured position feed, or nil when capture
// is disabled.
func buildSource(cfg config.SamplerConfig) sampler.Source {
	switch cfg.Source {
	case "replay":
		return &sampler.ReplaySource{
			Path:     cfg.ReplayPath,
			Interval: cfg.ReplayInterval,
			Loop:     cfg.ReplayLoop,
		}
	default:
		return nil
	}
}
