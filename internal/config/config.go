// Package config loads engine configuration from .ouro/config.yaml.
// Every section has defaults so a missing or partial file still yields a
// usable config; secrets come from the environment, never from the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Reasoner  ReasonerConfig  `yaml:"reasoner"`
	Store     StoreConfig     `yaml:"store"`
}

// LoggingConfig controls the category file loggers.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// CacheConfig controls the decision cache.
type CacheConfig struct {
	Capacity      int           `yaml:"capacity"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SchedulerConfig controls batch execution.
type SchedulerConfig struct {
	MaxConcurrentSteps int     `yaml:"max_concurrent_steps"`
	SpeedupThreshold   float64 `yaml:"speedup_threshold"`
}

// EvolutionConfig controls the strategy evolver.
type EvolutionConfig struct {
	PopulationSize     int     `yaml:"population_size"`
	Generations        int     `yaml:"generations"`
	MutationRate       float64 `yaml:"mutation_rate"`
	PromotionThreshold float64 `yaml:"promotion_threshold"`
	MinExperiences     int     `yaml:"min_experiences"`
}

// ReasonerConfig controls the LLM client.
type ReasonerConfig struct {
	Provider string        `yaml:"provider"` // "gemini" or "mock"
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// StoreConfig controls the experience store.
type StoreConfig struct {
	Path       string `yaml:"path"`
	QueueSize  int    `yaml:"queue_size"`
	Synchronous bool  `yaml:"synchronous"` // Bypass the autosave worker
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			Capacity:      256,
			DefaultTTL:    10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentSteps: 4,
			SpeedupThreshold:   1.5,
		},
		Evolution: EvolutionConfig{
			PopulationSize:     10,
			Generations:        5,
			MutationRate:       0.2,
			PromotionThreshold: 0.6,
			MinExperiences:     5,
		},
		Reasoner: ReasonerConfig{
			Provider: "mock",
			Model:    "gemini-3-flash-preview",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  2 * time.Minute,
			Retries:  2,
		},
		Store: StoreConfig{
			Path:      filepath.Join(".ouro", "experience.db"),
			QueueSize: 64,
		},
	}
}

// Load reads config.yaml from the workspace, falling back to defaults for
// anything missing. A missing file is not an error.
func Load(workspace string) (Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".ouro", "config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults backfills zero values left by a partial file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = def.Cache.Capacity
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = def.Cache.DefaultTTL
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = def.Cache.SweepInterval
	}
	if c.Scheduler.MaxConcurrentSteps <= 0 {
		c.Scheduler.MaxConcurrentSteps = def.Scheduler.MaxConcurrentSteps
	}
	if c.Scheduler.SpeedupThreshold <= 0 {
		c.Scheduler.SpeedupThreshold = def.Scheduler.SpeedupThreshold
	}
	if c.Evolution.PopulationSize <= 0 {
		c.Evolution.PopulationSize = def.Evolution.PopulationSize
	}
	if c.Evolution.Generations <= 0 {
		c.Evolution.Generations = def.Evolution.Generations
	}
	if c.Evolution.MutationRate <= 0 {
		c.Evolution.MutationRate = def.Evolution.MutationRate
	}
	if c.Evolution.PromotionThreshold <= 0 {
		c.Evolution.PromotionThreshold = def.Evolution.PromotionThreshold
	}
	if c.Evolution.MinExperiences <= 0 {
		c.Evolution.MinExperiences = def.Evolution.MinExperiences
	}
	if c.Reasoner.Provider == "" {
		c.Reasoner.Provider = def.Reasoner.Provider
	}
	if c.Reasoner.Model == "" {
		c.Reasoner.Model = def.Reasoner.Model
	}
	if c.Reasoner.BaseURL == "" {
		c.Reasoner.BaseURL = def.Reasoner.BaseURL
	}
	if c.Reasoner.Timeout <= 0 {
		c.Reasoner.Timeout = def.Reasoner.Timeout
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.QueueSize <= 0 {
		c.Store.QueueSize = def.Store.QueueSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// APIKey returns the reasoner API key from the environment.
// OURO_API_KEY wins over GEMINI_API_KEY.
func APIKey() string {
	if k := os.Getenv("OURO_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("GEMINI_API_KEY")
}
