package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify loom configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/loom/config.yaml
Project-specific overrides can be placed in .loom.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("anthropic.max_tokens: %d\n", cfg.Anthropic.MaxTokens)
	fmt.Printf("engine.max_batch_size: %d\n", cfg.Engine.MaxBatchSize)
	fmt.Printf("engine.proceed_on_failed_dependency: %t\n", cfg.Engine.ProceedOnFailedDependency)
	fmt.Printf("engine.heartbeat_interval: %s\n", cfg.Engine.HeartbeatInterval)
	fmt.Printf("resilience.failure_threshold: %d\n", cfg.Resilience.FailureThreshold)
	fmt.Printf("resilience.recovery_timeout: %s\n", cfg.Resilience.RecoveryTimeout)
	fmt.Printf("resilience.max_attempts: %d\n", cfg.Resilience.MaxAttempts)
	fmt.Printf("resilience.timeout_ceiling: %s\n", cfg.Resilience.TimeoutCeiling)
	fmt.Printf("review.enabled: %t\n", cfg.Review.Enabled)
	fmt.Printf("review.confidence_threshold: %.2f\n", cfg.Review.ConfidenceThreshold)
	fmt.Printf("moderation.enabled: %t\n", cfg.Moderation.Enabled)
	fmt.Printf("moderation.block_severity: %s\n", cfg.Moderation.BlockSeverity)
	fmt.Printf("checkpoint.path: %s\n", cfg.CheckpointDBPath())
	fmt.Printf("checkpoint.ttl: %s\n", cfg.Checkpoint.TTL)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.max_tokens":
		return strconv.Itoa(cfg.Anthropic.MaxTokens), nil
	case "engine.max_batch_size":
		return strconv.Itoa(cfg.Engine.MaxBatchSize), nil
	case "engine.proceed_on_failed_dependency":
		return strconv.FormatBool(cfg.Engine.ProceedOnFailedDependency), nil
	case "review.enabled":
		return strconv.FormatBool(cfg.Review.Enabled), nil
	case "review.confidence_threshold":
		return strconv.FormatFloat(cfg.Review.ConfidenceThreshold, 'f', 2, 64), nil
	case "moderation.enabled":
		return strconv.FormatBool(cfg.Moderation.Enabled), nil
	case "moderation.block_severity":
		return cfg.Moderation.BlockSeverity, nil
	case "checkpoint.ttl":
		return cfg.Checkpoint.TTL.String(), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.max_tokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %s", value)
		}
		cfg.Anthropic.MaxTokens = n
	case "engine.max_batch_size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid batch size: %s", value)
		}
		cfg.Engine.MaxBatchSize = n
	case "engine.proceed_on_failed_dependency":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		cfg.Engine.ProceedOnFailedDependency = b
	case "review.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		cfg.Review.Enabled = b
	case "review.confidence_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("invalid threshold (want 0..1): %s", value)
		}
		cfg.Review.ConfidenceThreshold = f
	case "moderation.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		cfg.Moderation.Enabled = b
	case "moderation.block_severity":
		switch value {
		case "low", "medium", "high", "critical":
			cfg.Moderation.BlockSeverity = value
		default:
			return fmt.Errorf("invalid severity (want low|medium|high|critical): %s", value)
		}
	case "checkpoint.ttl":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid duration: %s", value)
		}
		cfg.Checkpoint.TTL = d
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
