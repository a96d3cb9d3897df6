package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ordino-dev/ordino/internal/aggregate"
	"github.com/ordino-dev/ordino/internal/classify"
	"github.com/ordino-dev/ordino/internal/config"
	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/internal/llm"
	"github.com/ordino-dev/ordino/internal/monitor"
	"github.com/ordino-dev/ordino/internal/orchestrator"
	"github.com/ordino-dev/ordino/internal/registry"
	"github.com/ordino-dev/ordino/internal/router"
	"github.com/ordino-dev/ordino/internal/runner"
	"github.com/ordino-dev/ordino/internal/state"
	"github.com/ordino-dev/ordino/internal/tui"
	"github.com/ordino-dev/ordino/pkg/models"
)

var (
	runTier        string
	runMultiAgent  bool
	runRetries     int
	runTimeout     time.Duration
	runAggregation string
	runStrategy    string
	runWorkers     int
	runFailEvery   int
	runYes         bool
	runWatch       bool
	runEach        bool
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Submit a task and print the result",
	Long: `Submit a task through classification, decomposition, routing,
execution and aggregation.

Without --tier the classifier picks the execution tier. Heavy tiers ask
for confirmation first unless --yes is given; a silent prompt proceeds
after the grace period.

Workers are simulated in this build; the runner endpoint is injected, so
swapping in a real fleet changes no orchestration behavior.

Examples:
  ordino run "summarize this file"
  ordino run --multi-agent "process all 10 files and merge the findings"
  ordino run --tier deep --watch "thorough analysis of the dataset"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runTier, "tier", "", "Force an execution tier (simple|standard|batch|orchestrator|deep)")
	runCmd.Flags().BoolVar(&runMultiAgent, "multi-agent", true, "Allow decomposition into a subtask graph")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "Override the retry budget")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Bound the whole submission")
	runCmd.Flags().StringVar(&runAggregation, "aggregation", "", "Result merge strategy (concat|smart_merge|vote|priority|summarize)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Worker routing strategy (round_robin|load_balance|capability|cost|performance)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 4, "Number of simulated workers")
	runCmd.Flags().IntVar(&runFailEvery, "fail-every", 0, "Fail every Nth simulated subtask (demo)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Skip the confirmation prompt")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show the live watch view while running")
	runCmd.Flags().BoolVar(&runEach, "each", false, "Treat every argument as its own task and run them concurrently")
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	taskText := strings.Join(args, " ")

	reg := registry.New(registry.DefaultConfig())
	if err := registerSimulatedWorkers(reg, runWorkers); err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	ctx := context.Background()
	mon := monitor.New(bus, monitor.NewMetricsCollector(), monitorConfig(cfg))
	mon.Start(ctx)

	opts, cleanup, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := orchestrator.New(reg, &runner.Simulated{FailEvery: runFailEvery}, bus, opts...)
	if err != nil {
		return err
	}
	reg.Start(ctx)

	submitOpts := orchestrator.SubmitOptions{
		ForceTier:   models.Tier(runTier),
		MultiAgent:  runMultiAgent,
		MaxRetries:  runRetries,
		Timeout:     runTimeout,
		Aggregation: aggregate.Strategy(runAggregation),
	}

	// A stop file dropped into .ordino/signals cancels everything in flight.
	if cw, werr := orchestrator.NewControlWatcher("."); werr == nil {
		defer cw.Close()
		stopPoll := time.NewTicker(500 * time.Millisecond)
		defer stopPoll.Stop()
		go func() {
			for range stopPoll.C {
				if cw.ShouldStop() {
					orch.CancelAll()
					return
				}
			}
		}()
	}

	if runEach && len(args) > 1 {
		return runEachTask(orch, args, submitOpts)
	}

	if runWatch {
		return runWithWatch(ctx, orch, bus, taskText, submitOpts)
	}

	res, err := orch.Submit(ctx, taskText, submitOpts)
	printResult(res, err)
	if err != nil {
		os.Exit(1)
	}
	return nil
}

// runEachTask fans the arguments out as independent tasks over the pool.
func runEachTask(orch *orchestrator.Orchestrator, tasks []string, opts orchestrator.SubmitOptions) error {
	pool := orchestrator.NewPool(orch)
	for _, task := range tasks {
		if _, err := pool.Submit(task, opts); err != nil {
			return err
		}
	}

	failed := 0
	for i := 0; i < len(tasks); i++ {
		pr := <-pool.Results()
		printResult(pr.Result, pr.Err)
		if pr.Err != nil {
			failed++
		}
	}
	pool.Drain()

	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	}
	return nil
}

// buildOptions assembles orchestrator options from configuration: tier
// specs, strategies, durable history, and the secondary classifier when
// credentials are present. The returned cleanup closes whatever was opened.
func buildOptions(cfg *config.Config) ([]orchestrator.Option, func(), error) {
	cleanup := func() {}

	ccfg := classify.DefaultConfig()
	if cfg.Classifier.ConfidenceThreshold > 0 {
		ccfg.ConfidenceThreshold = cfg.Classifier.ConfidenceThreshold
	}
	if cfg.Classifier.MaxBatchSubtasks > 0 {
		ccfg.MaxBatchSubtasks = cfg.Classifier.MaxBatchSubtasks
	}
	if markers, priority, err := config.LoadMarkers(".ordino.yaml"); err == nil {
		ccfg.Markers = markers
		ccfg.Priority = priority
	}

	opts := []orchestrator.Option{
		orchestrator.WithClassifyConfig(ccfg),
		orchestrator.WithTierSpecs(cfg.TierSpecs()),
		orchestrator.WithSlotWait(cfg.Defaults.SlotWaitTimeout),
		orchestrator.WithConfirmGrace(cfg.Defaults.ConfirmGracePeriod),
	}
	if cfg.Classifier.MaxBatchSubtasks > 0 {
		opts = append(opts, orchestrator.WithMaxSubtasks(cfg.Classifier.MaxBatchSubtasks+2))
	}

	strategy := cfg.Defaults.RoutingStrategy
	if runStrategy != "" {
		strategy = runStrategy
	}
	if strategy != "" {
		opts = append(opts, orchestrator.WithRoutingStrategy(router.Strategy(strategy)))
	}
	if cfg.Defaults.AggregationStrategy != "" {
		opts = append(opts, orchestrator.WithAggregationStrategy(aggregate.Strategy(cfg.Defaults.AggregationStrategy)))
	}

	if !cfg.Storage.Disabled {
		path := cfg.Storage.Path
		if path == "" {
			path = state.GlobalDBPath()
		}
		db, err := state.Open(path)
		if err != nil {
			log.Printf("[ordino] state store unavailable, running without history: %v", err)
		} else {
			opts = append(opts, orchestrator.WithHistory(db), orchestrator.WithCheckpoints(db))
			cleanup = func() { db.Close() }
		}
	}

	if key, err := config.GetAPIKey(cfg); err == nil || cfg.Anthropic.UseAWSBedrock {
		cls, cerr := llm.NewClassifier(llm.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        key,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if cerr != nil {
			log.Printf("[ordino] secondary classifier unavailable: %v", cerr)
		} else {
			opts = append(opts, orchestrator.WithSecondaryClassifier(cls))
		}
	}

	if !runYes {
		opts = append(opts, orchestrator.WithConfirmGate(&stdinGate{}))
	}

	return opts, cleanup, nil
}

func monitorConfig(cfg *config.Config) monitor.Config {
	mc := monitor.DefaultConfig()
	if cfg.Monitor.StallThreshold > 0 {
		mc.StallThreshold = cfg.Monitor.StallThreshold
	}
	if cfg.Monitor.CheckInterval > 0 {
		mc.CheckInterval = cfg.Monitor.CheckInterval
	}
	return mc
}

func registerSimulatedWorkers(reg *registry.Registry, n int) error {
	if n < 1 {
		n = 1
	}
	caps := []string{"execute", "search", "process", "summarize", "analysis"}
	for i := 1; i <= n; i++ {
		info := registry.WorkerInfo{
			Name:          fmt.Sprintf("sim-%d", i),
			Capabilities:  caps,
			MaxConcurrent: 4,
			CostPerUnit:   1.0 + float64(i)*0.25,
		}
		if _, err := reg.Register(info); err != nil {
			return fmt.Errorf("register worker %s: %w", info.Name, err)
		}
	}
	return nil
}

// stdinGate asks on the terminal before a heavy tier runs.
type stdinGate struct{}

func (g *stdinGate) Confirm(ctx context.Context, taskID string, est orchestrator.Estimate) (orchestrator.Decision, error) {
	fmt.Printf("\nTask %s classified as %s: ~%d subtasks, ~%s, cost %.2f\n",
		taskID, color.MagentaString(string(est.Tier)), est.Subtasks, est.Duration.Round(time.Second), est.Cost)
	fmt.Print("Proceed? [Y]es / [d]owngrade / [c]ancel: ")

	answers := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answers <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return orchestrator.DecisionProceed, ctx.Err()
	case line := <-answers:
		switch line {
		case "d", "downgrade":
			return orchestrator.DecisionDowngrade, nil
		case "c", "cancel", "n", "no":
			return orchestrator.DecisionCancel, nil
		default:
			return orchestrator.DecisionProceed, nil
		}
	}
}

func runWithWatch(ctx context.Context, orch *orchestrator.Orchestrator, bus *events.Bus, taskText string, opts orchestrator.SubmitOptions) error {
	p, _ := tui.NewProgram(bus)

	type outcome struct {
		res models.TaskResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Submit(ctx, taskText, opts)
		done <- outcome{res, err}
		// Leave the final state on screen briefly before closing.
		time.Sleep(1500 * time.Millisecond)
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch view: %w", err)
	}

	out := <-done
	printResult(out.res, out.err)
	if out.err != nil {
		os.Exit(1)
	}
	return nil
}

func printResult(res models.TaskResult, err error) {
	fmt.Println()
	if res.Success {
		color.Green("✓ task %s completed in %s", res.TaskID, res.Duration.Round(time.Millisecond))
	} else {
		color.Red("✗ task %s failed", res.TaskID)
	}

	tiers := make([]string, len(res.TiersUsed))
	for i, t := range res.TiersUsed {
		tiers[i] = string(t)
	}
	fmt.Printf("  tiers: %s\n", strings.Join(tiers, " -> "))
	if res.DAG != nil {
		fmt.Printf("  graph: %d subtasks in %d groups\n", res.DAG.SubtaskCount, res.DAG.GroupCount)
	}

	if res.Failure != nil {
		color.Red("  kind: %s (tier %s, %d retries)", res.Failure.Kind, res.Failure.Tier, res.Failure.Retries)
		if res.Failure.LastError != "" {
			fmt.Printf("  last error: %s\n", res.Failure.LastError)
		}
	}
	if err != nil && res.Failure == nil {
		color.Red("  error: %v", err)
	}

	if res.Payload != "" {
		fmt.Println()
		fmt.Println(res.Payload)
	}
}
