// Package config handles configuration loading for muster. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds all configuration for muster.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Execution ExecutionConfig `mapstructure:"execution"`
}

// AnthropicConfig holds model provider settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the model used for workers and audits.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes requests through AWS Bedrock.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// BudgetConfig holds session budget limits. Zero means unlimited.
type BudgetConfig struct {
	// CostLimit is the dollar ceiling for a session.
	CostLimit float64 `mapstructure:"cost_limit"`
	// IterationLimit is the total agent iteration ceiling.
	IterationLimit int `mapstructure:"iteration_limit"`
	// WarningThreshold is the usage fraction that triggers a warning.
	WarningThreshold float64 `mapstructure:"warning_threshold"`
}

// AuditConfig holds audit engine tunables.
type AuditConfig struct {
	// EscalationThreshold is the consecutive-failure count that fails a
	// group permanently.
	EscalationThreshold int `mapstructure:"escalation_threshold"`
	// MaxVerdictRetries bounds re-requests after malformed verdicts.
	MaxVerdictRetries int `mapstructure:"max_verdict_retries"`
}

// ExecutionConfig holds scheduling settings.
type ExecutionConfig struct {
	// Mode is "sequential" or "parallel".
	Mode string `mapstructure:"mode"`
	// MaxAgents caps a parallel phase. Zero means unbounded.
	MaxAgents int `mapstructure:"max_agents"`
	// GroupTimeout bounds one group's execution including audit rounds.
	GroupTimeout time.Duration `mapstructure:"group_timeout"`
}

// Load loads configuration with the following precedence, highest first:
// environment variables, project config (.muster.yaml in the current
// directory or a parent), user config under the XDG config home, and
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
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
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the coordinator cannot honor.
func (c *Config) Validate() error {
	if c.Execution.Mode != "sequential" && c.Execution.Mode != "parallel" {
		return fmt.Errorf("execution.mode must be sequential or parallel, got %q", c.Execution.Mode)
	}
	if c.Budget.CostLimit < 0 {
		return fmt.Errorf("budget.cost_limit must not be negative")
	}
	if c.Budget.IterationLimit < 0 {
		return fmt.Errorf("budget.iteration_limit must not be negative")
	}
	if c.Budget.WarningThreshold < 0 || c.Budget.WarningThreshold > 1 {
		return fmt.Errorf("budget.warning_threshold must be between 0 and 1")
	}
	if c.Audit.EscalationThreshold < 1 {
		return fmt.Errorf("audit.escalation_threshold must be at least 1")
	}
	return nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Budget: BudgetConfig{
			WarningThreshold: 0.80,
		},
		Audit: AuditConfig{
			EscalationThreshold: 3,
			MaxVerdictRetries:   2,
		},
		Execution: ExecutionConfig{
			Mode:         "sequential",
			GroupTimeout: 15 * time.Minute,
		},
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("budget.cost_limit", 0.0)
	v.SetDefault("budget.iteration_limit", 0)
	v.SetDefault("budget.warning_threshold", 0.80)

	v.SetDefault("audit.escalation_threshold", 3)
	v.SetDefault("audit.max_verdict_retries", 2)

	v.SetDefault("execution.mode", "sequential")
	v.SetDefault("execution.max_agents", 0)
	v.SetDefault("execution.group_timeout", "15m")
}

// userConfigDir returns the XDG config directory for muster.
func userConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "muster")
}

// findProjectConfig searches for .muster.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".muster.yaml")
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
