// Package config loads the coordinator's configuration from a YAML file
// and the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/mapsync/internal/collab"
	"github.com/dreamware/mapsync/internal/scene"
)

// Environment variables that override the file.
const (
	EnvListen = "MAPSYNC_LISTEN"
	EnvAdmin  = "MAPSYNC_ADMIN"
	EnvRedis  = "MAPSYNC_REDIS"
)

// Config is the top-level mapsync.yml configuration.
type Config struct {
	Listen         string          `yaml:"listen"`           // Agent stream address
	Admin          string          `yaml:"admin"`            // Admin HTTP address, empty disables
	IOTimeout      time.Duration   `yaml:"io_timeout"`       // Per-message I/O bound, 0 = none
	ReapInterval   time.Duration   `yaml:"reap_interval"`    // How often closed clients are collected
	MaxFramePixels int             `yaml:"max_frame_pixels"` // Largest calibrated image an agent may declare
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	Clustering     ClusterConfig   `yaml:"clustering"`
	Redis          RedisConfig     `yaml:"redis"`
}

// SchedulerConfig mirrors collab.Config plus the tick period.
type SchedulerConfig struct {
	TickPeriod      time.Duration `yaml:"tick_period"`
	Interval        int           `yaml:"interval"`
	SolvedThreshold int           `yaml:"solved_threshold"`
	PenaltyStep     float64       `yaml:"penalty_step"`
	WeightByPenalty bool          `yaml:"weight_by_penalty"`
	MaxPenalty      float64       `yaml:"max_penalty"` // 0 = never abandon a pair
	Seed            *int64        `yaml:"seed,omitempty"`
}

// ClusterConfig sets when two relative-pose samples agree.
type ClusterConfig struct {
	RotationDegrees   float64 `yaml:"rotation_degrees"`
	TranslationMetres float64 `yaml:"translation_metres"`
}

// RedisConfig enables sample persistence when Addr is set.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
	DB     int    `yaml:"db"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:         ":7851",
		Admin:          ":8080",
		IOTimeout:      30 * time.Second,
		ReapInterval:   5 * time.Second,
		MaxFramePixels: 1 << 23, // 8 megapixels
		Scheduler: SchedulerConfig{
			TickPeriod:      10 * time.Millisecond,
			Interval:        100,
			SolvedThreshold: 3,
			PenaltyStep:     1,
		},
		Clustering: ClusterConfig{
			RotationDegrees:   20,
			TranslationMetres: 0.05,
		},
		Redis: RedisConfig{Prefix: "mapsync"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides addresses from MAPSYNC_LISTEN, MAPSYNC_ADMIN and
// MAPSYNC_REDIS.
func (c *Config) ApplyEnv() {
	c.Listen = getenv(EnvListen, c.Listen)
	c.Admin = getenv(EnvAdmin, c.Admin)
	c.Redis.Addr = getenv(EnvRedis, c.Redis.Addr)
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.IOTimeout < 0 {
		return fmt.Errorf("io_timeout must be >= 0, got %v", c.IOTimeout)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive, got %v", c.ReapInterval)
	}
	if c.MaxFramePixels <= 0 {
		return fmt.Errorf("max_frame_pixels must be positive, got %d", c.MaxFramePixels)
	}
	if c.Scheduler.TickPeriod <= 0 {
		return fmt.Errorf("scheduler.tick_period must be positive, got %v", c.Scheduler.TickPeriod)
	}
	if err := c.CollabConfig().Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.Clustering.RotationDegrees <= 0 || c.Clustering.RotationDegrees > 180 {
		return fmt.Errorf("clustering.rotation_degrees must be in (0, 180], got %g", c.Clustering.RotationDegrees)
	}
	if c.Clustering.TranslationMetres <= 0 {
		return fmt.Errorf("clustering.translation_metres must be positive, got %g", c.Clustering.TranslationMetres)
	}
	if c.Redis.Addr != "" && c.Redis.Prefix == "" {
		return fmt.Errorf("redis.prefix is required when redis.addr is set")
	}
	return nil
}

// CollabConfig converts the scheduler section. Without a configured seed
// the scheduler is seeded from the clock.
func (c *Config) CollabConfig() collab.Config {
	cc := collab.DefaultConfig()
	cc.Interval = c.Scheduler.Interval
	cc.SolvedThreshold = c.Scheduler.SolvedThreshold
	cc.PenaltyStep = c.Scheduler.PenaltyStep
	cc.WeightByPenalty = c.Scheduler.WeightByPenalty
	cc.MaxPenalty = c.Scheduler.MaxPenalty
	if c.Scheduler.Seed != nil {
		cc.Seed = *c.Scheduler.Seed
	}
	return cc
}

// SceneOptions converts the clustering section. The sample store is left
// for the caller to attach.
func (c *Config) SceneOptions() scene.Options {
	return scene.Options{
		RotationThreshold:    c.Clustering.RotationDegrees * math.Pi / 180,
		TranslationThreshold: c.Clustering.TranslationMetres,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
