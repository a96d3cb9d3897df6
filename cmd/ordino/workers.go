package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ordino-dev/ordino/internal/config"
	"github.com/ordino-dev/ordino/internal/registry"
	"github.com/ordino-dev/ordino/pkg/models"
)

var workersCount int

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Show the worker fleet and tier capacity",
	Long: `Show the simulated worker fleet the run command uses, with
capabilities and cost, followed by the per-tier concurrency limits in
effect under the current configuration.`,
	RunE: showWorkers,
}

func init() {
	workersCmd.Flags().IntVar(&workersCount, "workers", 4, "Number of simulated workers")
}

func showWorkers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	reg := registry.New(registry.DefaultConfig())
	if err := registerSimulatedWorkers(reg, workersCount); err != nil {
		return err
	}

	fmt.Println("Workers:")
	for _, w := range reg.Discover(registry.Requirements{}) {
		fmt.Printf("  %s %-16s caps=%s max=%d cost=%.2f\n",
			color.GreenString("●"), w.Name, strings.Join(w.Capabilities, ","), w.MaxConcurrent, w.CostPerUnit)
	}

	fmt.Println("\nTier capacity:")
	specs := cfg.TierSpecs()
	for _, tier := range []models.Tier{models.TierSimple, models.TierStandard, models.TierBatch, models.TierOrchestrator, models.TierDeep} {
		spec := specs[tier]
		fmt.Printf("  %-14s %d concurrent, timeout %s, %d retries, weight %.1f\n",
			tier, spec.MaxConcurrent, spec.Timeout, spec.MaxRetries, spec.CostWeight)
	}
	return nil
}
