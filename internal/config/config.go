// Package config handles configuration loading and management for ordino.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Config holds all configuration for ordino.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	TUI        TUIConfig        `mapstructure:"tui"`
	Tiers      TiersConfig      `mapstructure:"tiers"`
}

// AnthropicConfig holds settings for the secondary classifier model.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values for task submission.
type DefaultsConfig struct {
	// RoutingStrategy is the worker selection strategy name.
	RoutingStrategy string `mapstructure:"routing_strategy"`
	// AggregationStrategy is the result merge strategy name.
	AggregationStrategy string `mapstructure:"aggregation_strategy"`
	// MaxRetries is the per-task retry budget.
	MaxRetries int `mapstructure:"max_retries"`
	// SlotWaitTimeout bounds waiting for an admission slot.
	SlotWaitTimeout time.Duration `mapstructure:"slot_wait_timeout"`
	// ConfirmGracePeriod is how long the confirm gate may stall before
	// the task proceeds implicitly.
	ConfirmGracePeriod time.Duration `mapstructure:"confirm_grace_period"`
}

// ClassifierConfig holds rule-based classifier tuning.
type ClassifierConfig struct {
	// ConfidenceThreshold gates the secondary classifier.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// MaxBatchSubtasks caps batch fan-out.
	MaxBatchSubtasks int `mapstructure:"max_batch_subtasks"`
}

// MonitorConfig holds execution monitor tuning.
type MonitorConfig struct {
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Path overrides the default database location. Empty uses the
	// global XDG path.
	Path string `mapstructure:"path"`
	// Disabled turns persistence off entirely; history falls back to
	// static defaults.
	Disabled bool `mapstructure:"disabled"`
}

// TUIConfig holds watch-view display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// TierConfig holds overrides for a single tier's execution constraints.
type TierConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	CostWeight    float64       `mapstructure:"cost_weight"`
}

// TiersConfig holds per-tier overrides. The tier set is closed; config can
// tune a tier but never add one.
type TiersConfig struct {
	Simple       TierConfig `mapstructure:"simple"`
	Standard     TierConfig `mapstructure:"standard"`
	Batch        TierConfig `mapstructure:"batch"`
	Orchestrator TierConfig `mapstructure:"orchestrator"`
	Deep         TierConfig `mapstructure:"deep"`
}

// TierSpecs merges the per-tier overrides over the built-in defaults.
// Zero fields keep the default value.
func (c *Config) TierSpecs() map[models.Tier]models.TierSpec {
	specs := models.DefaultTierSpecs()
	overrides := map[models.Tier]TierConfig{
		models.TierSimple:       c.Tiers.Simple,
		models.TierStandard:     c.Tiers.Standard,
		models.TierBatch:        c.Tiers.Batch,
		models.TierOrchestrator: c.Tiers.Orchestrator,
		models.TierDeep:         c.Tiers.Deep,
	}
	for tier, o := range overrides {
		spec := specs[tier]
		if o.MaxConcurrent > 0 {
			spec.MaxConcurrent = o.MaxConcurrent
		}
		if o.Timeout > 0 {
			spec.Timeout = o.Timeout
		}
		if o.MaxRetries > 0 {
			spec.MaxRetries = o.MaxRetries
		}
		if o.CostWeight > 0 {
			spec.CostWeight = o.CostWeight
		}
		specs[tier] = spec
	}
	return specs
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.ordino.yaml in current directory or parent)
// 3. User config (~/.config/ordino/config.yaml)
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

	projectConfig := FindProjectConfig()
	if projectConfig != "" {
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

	if err := cfg.validate(); err != nil {
		return nil, err
	}
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

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations that would fail later in obscure ways.
func (c *Config) validate() error {
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("classifier.confidence_threshold %v out of range [0,1]", c.Classifier.ConfidenceThreshold)
	}
	if c.Classifier.MaxBatchSubtasks < 1 {
		return fmt.Errorf("classifier.max_batch_subtasks %d must be positive", c.Classifier.MaxBatchSubtasks)
	}
	return nil
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
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("defaults.routing_strategy", cfg.Defaults.RoutingStrategy)
	v.Set("defaults.aggregation_strategy", cfg.Defaults.AggregationStrategy)
	v.Set("defaults.max_retries", cfg.Defaults.MaxRetries)
	v.Set("defaults.slot_wait_timeout", cfg.Defaults.SlotWaitTimeout.String())
	v.Set("defaults.confirm_grace_period", cfg.Defaults.ConfirmGracePeriod.String())
	v.Set("classifier.confidence_threshold", cfg.Classifier.ConfidenceThreshold)
	v.Set("classifier.max_batch_subtasks", cfg.Classifier.MaxBatchSubtasks)
	v.Set("monitor.stall_threshold", cfg.Monitor.StallThreshold.String())
	v.Set("monitor.check_interval", cfg.Monitor.CheckInterval.String())
	v.Set("storage.path", cfg.Storage.Path)
	v.Set("storage.disabled", cfg.Storage.Disabled)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("defaults.routing_strategy", "load_balance")
	v.SetDefault("defaults.aggregation_strategy", "smart_merge")
	v.SetDefault("defaults.max_retries", 3)
	v.SetDefault("defaults.slot_wait_timeout", "30s")
	v.SetDefault("defaults.confirm_grace_period", "15s")

	v.SetDefault("classifier.confidence_threshold", 0.6)
	v.SetDefault("classifier.max_batch_subtasks", 20)

	v.SetDefault("monitor.stall_threshold", "2m")
	v.SetDefault("monitor.check_interval", "15s")

	v.SetDefault("storage.path", "")
	v.SetDefault("storage.disabled", false)

	v.SetDefault("tui.refresh_rate", "100ms")

	for tier, spec := range models.DefaultTierSpecs() {
		prefix := "tiers." + string(tier)
		v.SetDefault(prefix+".max_concurrent", spec.MaxConcurrent)
		v.SetDefault(prefix+".timeout", spec.Timeout.String())
		v.SetDefault(prefix+".max_retries", spec.MaxRetries)
		v.SetDefault(prefix+".cost_weight", spec.CostWeight)
	}
}

// getUserConfigDir returns the XDG config directory for ordino.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ordino")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ordino")
	}
	return filepath.Join(home, ".config", "ordino")
}

// FindProjectConfig searches for .ordino.yaml in the current directory and parents.
func FindProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".ordino.yaml")
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

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			RoutingStrategy:     "load_balance",
			AggregationStrategy: "smart_merge",
			MaxRetries:          3,
			SlotWaitTimeout:     30 * time.Second,
			ConfirmGracePeriod:  15 * time.Second,
		},
		Classifier: ClassifierConfig{
			ConfidenceThreshold: 0.6,
			MaxBatchSubtasks:    20,
		},
		Monitor: MonitorConfig{
			StallThreshold: 2 * time.Minute,
			CheckInterval:  15 * time.Second,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
