package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ouroboros/internal/config"
	"ouroboros/internal/cycle"
	"ouroboros/internal/evolution"
	"ouroboros/internal/logging"
	"ouroboros/internal/reasoner"
	"ouroboros/internal/selfmodel"
	"ouroboros/internal/store"
	"ouroboros/internal/tools"
	"ouroboros/internal/types"
	"ouroboros/internal/verification"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration
	cycles    int

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ouro",
	Short: "ouroboros - autonomous improvement-cycle engine",
	Long: `ouroboros runs goals through a four-phase improvement cycle:

  1. Plan:    decompose the goal into steps via the reasoner
  2. Execute: run steps in dependency-ordered parallel batches
  3. Verify:  check the plan against a Datalog policy
  4. Learn:   record the experience and evolve the strategy genes

Each cycle updates a persistent self-model of capabilities and limitations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Run improvement cycles for a goal",
	Long: `Runs the goal through one or more full improvement cycles and prints
each cycle's outcome. Use --cycles to let the engine iterate and evolve
its strategy across attempts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGoal,
}

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Print the self-model assessment from stored experiences",
	RunE:  runReflect,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print experience store statistics",
	RunE:  runStats,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "reasoner API key (default: OURO_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall run timeout")
	runCmd.Flags().IntVar(&cycles, "cycles", 1, "number of improvement cycles to run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reflectCmd)
	rootCmd.AddCommand(statsCmd)
}

func storePath(ws string, cfg config.Config) string {
	if filepath.IsAbs(cfg.Store.Path) {
		return cfg.Store.Path
	}
	return filepath.Join(ws, cfg.Store.Path)
}

func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

// buildReasoner picks the client by config: a Gemini REST client when a key
// is available, otherwise the scripted mock so offline runs still work.
func buildReasoner(cfg config.Config, goal string) types.Reasoner {
	key := apiKey
	if key == "" {
		key = config.APIKey()
	}
	if cfg.Reasoner.Provider == "gemini" && key != "" {
		logger.Debug("Using Gemini reasoner", zap.String("model", cfg.Reasoner.Model))
		return reasoner.NewGemini(cfg.Reasoner, key)
	}
	logger.Debug("Using mock reasoner")
	return reasoner.NewMock(fmt.Sprintf("echo(goal=%s) -> goal acknowledged [0.9]", goal))
}

func runGoal(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ws := resolveWorkspace()
	if err := logging.Initialize(ws); err != nil {
		logger.Warn("File logging unavailable", zap.Error(err))
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}

	goal := strings.Join(args, " ")
	logger.Info("Running improvement cycles",
		zap.String("goal", goal), zap.Int("cycles", cycles))

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)

	sqlStore, err := store.Open(storePath(ws, cfg))
	if err != nil {
		return fmt.Errorf("failed to open experience store: %w", err)
	}
	defer sqlStore.Close()

	var expStore types.ExperienceStore = sqlStore
	if !cfg.Store.Synchronous {
		async := store.NewAsync(sqlStore, cfg.Store.QueueSize)
		defer async.Close()
		expStore = async
	}

	runner := cycle.New(cycle.Options{
		Reasoner:  buildReasoner(cfg, goal),
		Executor:  registry,
		Verifier:  verification.New(nil),
		Store:     expStore,
		Scheduler: cfg.Scheduler,
		Cache:     cfg.Cache,
		Evolution: evolutionConfig(cfg),
	})
	defer runner.Close()

	for i := 0; i < cycles; i++ {
		res, err := runner.RunCycle(ctx, goal)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", i+1, err)
		}
		printCycle(res)
		if res.Cancelled {
			break
		}
	}

	snap := runner.Metrics()
	fmt.Printf("\nTotals: %d cycles (%d failed), %d steps (%d failed, %d denied), cache hit rate %.0f%%\n",
		snap.CyclesCompleted, snap.CyclesFailed, snap.StepsExecuted, snap.StepsFailed,
		snap.StepsDenied, runner.CacheStats().HitRate*100)
	return nil
}

func printCycle(res *types.CycleResult) {
	status := "ok"
	if res.Cancelled {
		status = "cancelled"
	} else if !res.Success {
		status = "failed"
	}
	fmt.Printf("cycle %d: %s (%d steps, verdict %s, %v)\n",
		res.CycleNumber, status, len(res.Results), res.Verdict, res.Duration.Round(time.Millisecond))
	for _, r := range res.Results {
		mark := "+"
		if !r.Success {
			mark = "-"
		}
		action := ""
		if r.Step != nil {
			action = r.Step.Action
		}
		fmt.Printf("  %s %s", mark, action)
		if r.Error != "" {
			fmt.Printf(": %s", r.Error)
		}
		fmt.Println()
	}
	if res.Promoted {
		fmt.Println("  strategy promoted")
	}
}

// runReflect rebuilds a self-model from the stored experiences and prints
// its assessment.
func runReflect(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ws := resolveWorkspace()
	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}
	sqlStore, err := store.Open(storePath(ws, cfg))
	if err != nil {
		return fmt.Errorf("failed to open experience store: %w", err)
	}
	defer sqlStore.Close()

	exps, err := sqlStore.Recent(ctx, 100)
	if err != nil {
		return err
	}

	model := selfmodel.New()
	// Recent returns newest first; replay oldest first.
	for i := len(exps) - 1; i >= 0; i-- {
		model.RecordExperience(exps[i])
	}
	fmt.Println(model.SelfReflect())
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ws := resolveWorkspace()
	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}
	sqlStore, err := store.Open(storePath(ws, cfg))
	if err != nil {
		return fmt.Errorf("failed to open experience store: %w", err)
	}
	defer sqlStore.Close()

	count, err := sqlStore.Count(ctx)
	if err != nil {
		return err
	}
	rate, err := sqlStore.SuccessRate(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("experiences: %d\nsuccess rate: %.1f%%\nstore: %s\n",
		count, rate*100, cfg.Store.Path)
	return nil
}

func evolutionConfig(cfg config.Config) evolution.Config {
	return evolution.Config{
		PopulationSize:     cfg.Evolution.PopulationSize,
		Generations:        cfg.Evolution.Generations,
		MutationRate:       cfg.Evolution.MutationRate,
		PromotionThreshold: cfg.Evolution.PromotionThreshold,
		MinExperiences:     cfg.Evolution.MinExperiences,
	}
}
