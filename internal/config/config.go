// Package config handles configuration loading for loom.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for loom.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Review     ReviewConfig     `mapstructure:"review"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
}

// AnthropicConfig holds agent API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
	MaxTokens     int    `mapstructure:"max_tokens"`
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	// MaxBatchSize caps how many tasks run concurrently in one batch.
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// ProceedOnFailedDependency runs dependent tasks even when a dependency
	// failed. When false, dependents are recorded as skipped.
	ProceedOnFailedDependency bool `mapstructure:"proceed_on_failed_dependency"`
	// HeartbeatInterval is the liveness signal cadence for in-flight tasks.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ResilienceConfig holds circuit breaker and retry settings.
type ResilienceConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialInterval  time.Duration `mapstructure:"initial_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	TimeoutCeiling   time.Duration `mapstructure:"timeout_ceiling"`
}

// ReviewConfig holds review gate settings.
type ReviewConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// ModerationConfig holds content policy settings.
type ModerationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BlockSeverity string `mapstructure:"block_severity"`
}

// CheckpointConfig holds checkpoint persistence settings.
type CheckpointConfig struct {
	// Path is the SQLite database location. Empty means the XDG data dir.
	Path string `mapstructure:"path"`
	// TTL is how long checkpoints stay resumable.
	TTL time.Duration `mapstructure:"ttl"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, LOOM_*)
// 2. Project config (.loom.yaml in current directory or parent)
// 3. User config (~/.config/loom/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("LOOM")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.use_aws_bedrock", "CLAUDE_CODE_USE_BEDROCK")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("engine.max_batch_size", cfg.Engine.MaxBatchSize)
	v.Set("engine.proceed_on_failed_dependency", cfg.Engine.ProceedOnFailedDependency)
	v.Set("engine.heartbeat_interval", cfg.Engine.HeartbeatInterval.String())
	v.Set("resilience.failure_threshold", cfg.Resilience.FailureThreshold)
	v.Set("resilience.recovery_timeout", cfg.Resilience.RecoveryTimeout.String())
	v.Set("resilience.max_attempts", cfg.Resilience.MaxAttempts)
	v.Set("review.enabled", cfg.Review.Enabled)
	v.Set("review.confidence_threshold", cfg.Review.ConfidenceThreshold)
	v.Set("moderation.enabled", cfg.Moderation.Enabled)
	v.Set("moderation.block_severity", cfg.Moderation.BlockSeverity)
	v.Set("checkpoint.path", cfg.Checkpoint.Path)
	v.Set("checkpoint.ttl", cfg.Checkpoint.TTL.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// CheckpointDBPath returns the checkpoint database path, defaulting to the
// XDG data directory.
func (c *Config) CheckpointDBPath() string {
	if c.Checkpoint.Path != "" {
		return c.Checkpoint.Path
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "loom", "state.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "loom", "state.db")
	}
	return filepath.Join(home, ".local", "share", "loom", "state.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)
	v.SetDefault("anthropic.max_tokens", 8192)

	v.SetDefault("engine.max_batch_size", 5)
	v.SetDefault("engine.proceed_on_failed_dependency", false)
	v.SetDefault("engine.heartbeat_interval", "15s")

	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.recovery_timeout", "30s")
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_interval", "500ms")
	v.SetDefault("resilience.max_interval", "15s")
	v.SetDefault("resilience.timeout_ceiling", "180m")

	v.SetDefault("review.enabled", true)
	v.SetDefault("review.confidence_threshold", 0.7)

	v.SetDefault("moderation.enabled", true)
	v.SetDefault("moderation.block_severity", "high")

	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.ttl", "2h")
}

// getUserConfigDir returns the XDG config directory for loom.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "loom")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "loom")
	}
	return filepath.Join(home, ".config", "loom")
}

// findProjectConfig searches for .loom.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".loom.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			MaxTokens: 8192,
		},
		Engine: EngineConfig{
			MaxBatchSize:              5,
			ProceedOnFailedDependency: false,
			HeartbeatInterval:         15 * time.Second,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			MaxAttempts:      3,
			InitialInterval:  500 * time.Millisecond,
			MaxInterval:      15 * time.Second,
			TimeoutCeiling:   180 * time.Minute,
		},
		Review: ReviewConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.7,
		},
		Moderation: ModerationConfig{
			Enabled:       true,
			BlockSeverity: "high",
		},
		Checkpoint: CheckpointConfig{
			TTL: 2 * time.Hour,
		},
	}
}
