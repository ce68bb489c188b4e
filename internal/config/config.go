// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package config loads the layered application configuration:
// built-in defaults, an optional YAML file, then environment variables,
// each layer overriding the one before it.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	// OwnerID identifies whose journal this process captures and syncs.
	OwnerID string `koanf:"owner_id" validate:"required"`

	Store       StoreConfig       `koanf:"store"`
	Sampler     SamplerConfig     `koanf:"sampler"`
	Sync        SyncConfig        `koanf:"sync"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// StoreConfig configures local point storage.
type StoreConfig struct {
	Path         string        `koanf:"path" validate:"required"`
	SyncWrites   bool          `koanf:"sync_writes"`
	GCInterval   time.Duration `koanf:"gc_interval" validate:"min=0"`
	CloseTimeout time.Duration `koanf:"close_timeout" validate:"min=0"`

	// RetentionDays prunes points older than this many days; 0 keeps
	// everything.
	RetentionDays int `koanf:"retention_days" validate:"min=0"`
}

// SamplerConfig configures location capture.
type SamplerConfig struct {
	EnableHighAccuracy bool          `koanf:"enable_high_accuracy"`
	Timeout            time.Duration `koanf:"timeout" validate:"min=0"`
	MaxSampleAge       time.Duration `koanf:"max_sample_age" validate:"min=0"`
	MinDistanceMeters  float64       `koanf:"min_distance_meters" validate:"min=0"`

	// Source selects the position feed: "replay" reads a trace file,
	// "none" disables continuous capture.
	Source         string        `koanf:"source" validate:"oneof=none replay"`
	ReplayPath     string        `koanf:"replay_path"`
	ReplayInterval time.Duration `koanf:"replay_interval" validate:"min=0"`
	ReplayLoop     bool          `koanf:"replay_loop"`
}

// SyncConfig configures the upload engine and remote client.
type SyncConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	Token    string        `koanf:"token"`
	Interval time.Duration `koanf:"interval" validate:"min=0"`
	Timeout  time.Duration `koanf:"timeout" validate:"min=0"`
}

// CoordinatorConfig configures background wake scheduling.
type CoordinatorConfig struct {
	ThresholdCount    int           `koanf:"threshold_count" validate:"min=1"`
	ThresholdInterval time.Duration `koanf:"threshold_interval" validate:"min=0"`

	// WakeInterval is clamped to a 15 minute floor at construction time.
	WakeInterval time.Duration `koanf:"wake_interval" validate:"min=0"`
}

// ServerConfig configures the optional remote sync HTTP server.
type ServerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Addr              string        `koanf:"addr"`
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout" validate:"min=0"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=0"`
	EnvelopePath      string        `koanf:"envelope_path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults; file and environment
// layers override them.
func defaultConfig() *Config {
	return &Config{
		OwnerID: "",
		Store: StoreConfig{
			Path:          "/data/lifemap/points",
			SyncWrites:    false,
			GCInterval:    10 * time.Minute,
			CloseTimeout:  30 * time.Second,
			RetentionDays: 0,
		},
		Sampler: SamplerConfig{
			EnableHighAccuracy: true,
			Timeout:            10 * time.Second,
			MaxSampleAge:       0,
			MinDistanceMeters:  10,
			Source:             "none",
			ReplayPath:         "",
			ReplayInterval:     time.Second,
			ReplayLoop:         false,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Endpoint: "",
			Token:    "",
			Interval: 30 * time.Second,
			Timeout:  30 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			ThresholdCount:    50,
			ThresholdInterval: time.Minute,
			WakeInterval:      15 * time.Minute,
		},
		Server: ServerConfig{
			Enabled:           false,
			Addr:              ":8420",
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			RateLimitRequests: 10,
			RateLimitWindow:   time.Minute,
			EnvelopePath:      "/data/lifemap/envelopes",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the assembled configuration plus the cross-field rules
// struct tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("invalid configuration: field %s failed rule %q",
				errs[0].Namespace(), errs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Sync.Enabled && c.Sync.Endpoint == "" {
		return fmt.Errorf("sync.endpoint is required when sync is enabled")
	}
	if c.Sampler.Source == "replay" && c.Sampler.ReplayPath == "" {
		return fmt.Errorf("sampler.replay_path is required when sampler.source is replay")
	}
	if c.Server.Enabled && len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("server.jwt_secret must be at least 32 characters when the server is enabled")
	}
	return nil
}
