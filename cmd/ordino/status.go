package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ordino-dev/ordino/internal/config"
	"github.com/ordino-dev/ordino/internal/state"
	"github.com/ordino-dev/ordino/pkg/models"
)

var statusWindowDays int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-tier history and recent tasks",
	Long: `Show success rates and average durations per execution tier,
followed by the most recent task outcomes. Data comes from the local
state store; a missing store just means nothing has run yet.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusWindowDays, "window", 30, "History window in days (0 for all time)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = state.GlobalDBPath()
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Println("No task history yet.")
		return nil
	}

	db, err := state.Open(path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer db.Close()

	fmt.Printf("Tier history (last %d days):\n\n", statusWindowDays)
	for _, tier := range []models.Tier{models.TierSimple, models.TierStandard, models.TierBatch, models.TierOrchestrator, models.TierDeep} {
		h, err := db.TierStats(tier, statusWindowDays)
		if err != nil {
			return err
		}
		if h.Total == 0 {
			fmt.Printf("  %-14s %s\n", tier, color.HiBlackString("no runs"))
			continue
		}
		rate := fmt.Sprintf("%.0f%%", h.SuccessRate*100)
		if h.SuccessRate >= 0.9 {
			rate = color.GreenString(rate)
		} else if h.SuccessRate < 0.5 {
			rate = color.RedString(rate)
		}
		fmt.Printf("  %-14s %3d runs  %s success  avg %s  avg %.1f subtasks\n",
			tier, h.Total, rate, h.AvgDuration.Round(time.Millisecond), h.AvgSubtasks)
	}

	recent, err := db.RecentOutcomes(10)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Printf("\nRecent tasks:\n\n")
	for _, o := range recent {
		mark := color.GreenString("✓")
		detail := ""
		if !o.Success {
			mark = color.RedString("✗")
			detail = " " + color.RedString(o.ErrorKind)
		}
		fmt.Printf("  %s %s  %-12s %s%s\n", mark, o.TaskID, o.Tier, o.Duration.Round(time.Millisecond), detail)
	}
	return nil
}
