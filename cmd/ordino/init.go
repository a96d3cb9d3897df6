package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initForce bool

const exampleProjectConfig = `# Project-level ordino overrides. Merged over ~/.config/ordino/config.yaml.
defaults:
  routing_strategy: load_balance
  aggregation_strategy: smart_merge

classifier:
  confidence_threshold: 0.6
  # markers:
  #   deep:
  #     - "forensic review"

tiers:
  deep:
    max_concurrent: 1
    timeout: 30m
`

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a project for ordino",
	Long: `Set up a directory for use with ordino:
  - Creates the .ordino directory with the signals subdirectory
  - Creates an example .ordino.yaml project config

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProjectInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
}

func runProjectInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}

	ordinoDir := filepath.Join(absPath, ".ordino")
	if _, err := os.Stat(ordinoDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if err := os.MkdirAll(filepath.Join(ordinoDir, "signals"), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", ordinoDir, err)
	}
	printStatus("✓", ".ordino directory created", color.FgGreen)

	configPath := filepath.Join(absPath, ".ordino.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) || initForce {
		if err := os.WriteFile(configPath, []byte(exampleProjectConfig), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", configPath, err)
		}
		printStatus("✓", ".ordino.yaml example config created", color.FgGreen)
	} else {
		printStatus("-", ".ordino.yaml already exists, kept", color.FgYellow)
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("!", "ANTHROPIC_API_KEY not set; the secondary classifier stays disabled", color.FgYellow)
	}

	fmt.Printf("\nInitialized ordino in %s\n", absPath)
	return nil
}

func printStatus(mark, message string, attr color.Attribute) {
	c := color.New(attr)
	fmt.Printf("  %s %s\n", c.Sprint(mark), message)
}
