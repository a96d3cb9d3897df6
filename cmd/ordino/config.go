package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ordino-dev/ordino/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify ordino configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/ordino/config.yaml
Project-specific overrides can be placed in .ordino.yaml`,
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

func configValues(cfg *config.Config) map[string]string {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = config.MaskAPIKey(cfg.Anthropic.APIKey)
	}
	return map[string]string{
		"anthropic.api_key":               apiKeyDisplay,
		"anthropic.model":                 cfg.Anthropic.Model,
		"defaults.routing_strategy":       cfg.Defaults.RoutingStrategy,
		"defaults.aggregation_strategy":   cfg.Defaults.AggregationStrategy,
		"defaults.max_retries":            strconv.Itoa(cfg.Defaults.MaxRetries),
		"defaults.slot_wait_timeout":      cfg.Defaults.SlotWaitTimeout.String(),
		"defaults.confirm_grace_period":   cfg.Defaults.ConfirmGracePeriod.String(),
		"classifier.confidence_threshold": fmt.Sprintf("%.2f", cfg.Classifier.ConfidenceThreshold),
		"classifier.max_batch_subtasks":   strconv.Itoa(cfg.Classifier.MaxBatchSubtasks),
		"monitor.stall_threshold":         cfg.Monitor.StallThreshold.String(),
		"monitor.check_interval":          cfg.Monitor.CheckInterval.String(),
		"storage.path":                    cfg.Storage.Path,
		"storage.disabled":                strconv.FormatBool(cfg.Storage.Disabled),
		"tui.refresh_rate":                cfg.TUI.RefreshRate.String(),
	}
}

var configKeyOrder = []string{
	"anthropic.api_key",
	"anthropic.model",
	"defaults.routing_strategy",
	"defaults.aggregation_strategy",
	"defaults.max_retries",
	"defaults.slot_wait_timeout",
	"defaults.confirm_grace_period",
	"classifier.confidence_threshold",
	"classifier.max_batch_subtasks",
	"monitor.stall_threshold",
	"monitor.check_interval",
	"storage.path",
	"storage.disabled",
	"tui.refresh_rate",
}

func displayAllConfig(cfg *config.Config) {
	values := configValues(cfg)
	for _, key := range configKeyOrder {
		fmt.Printf("%s: %s\n", key, values[key])
	}
}

func displayConfigKey(cfg *config.Config, key string) {
	values := configValues(cfg)
	val, ok := values[key]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	fmt.Println(val)
}

func setConfigKey(cfg *config.Config, key, value string) {
	var err error
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "defaults.routing_strategy":
		cfg.Defaults.RoutingStrategy = value
	case "defaults.aggregation_strategy":
		cfg.Defaults.AggregationStrategy = value
	case "defaults.max_retries":
		cfg.Defaults.MaxRetries, err = strconv.Atoi(value)
	case "defaults.slot_wait_timeout":
		cfg.Defaults.SlotWaitTimeout, err = time.ParseDuration(value)
	case "defaults.confirm_grace_period":
		cfg.Defaults.ConfirmGracePeriod, err = time.ParseDuration(value)
	case "classifier.confidence_threshold":
		cfg.Classifier.ConfidenceThreshold, err = strconv.ParseFloat(value, 64)
	case "classifier.max_batch_subtasks":
		cfg.Classifier.MaxBatchSubtasks, err = strconv.Atoi(value)
	case "monitor.stall_threshold":
		cfg.Monitor.StallThreshold, err = time.ParseDuration(value)
	case "monitor.check_interval":
		cfg.Monitor.CheckInterval, err = time.ParseDuration(value)
	case "storage.path":
		cfg.Storage.Path = value
	case "storage.disabled":
		cfg.Storage.Disabled, err = strconv.ParseBool(value)
	case "tui.refresh_rate":
		cfg.TUI.RefreshRate, err = time.ParseDuration(value)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid value for %s: %v\n", key, err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}
