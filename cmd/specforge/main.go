package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"specforge/internal/compliance"
	"specforge/internal/config"
	"specforge/internal/engine"
	"specforge/internal/logging"
	"specforge/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "specforge",
	Short: "specforge - spec-driven code generation with compliance repair",
	Long: `specforge builds a canonical IR from a structured requirements document,
generates application code from it, scores the output for structural and
semantic compliance, and repairs gaps through a bounded repair loop.

The loop terminates on one of three conditions: the score clears the
convergence threshold, the score stops improving (plateau), or the
iteration budget runs out.`,
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

		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logging.Initialize(resolveWorkspace(), cfg.Logging.Settings()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes the full pipeline for one requirements document
var runCmd = &cobra.Command{
	Use:   "run [requirements.yaml]",
	Short: "Generate, score, and repair code for a requirements document",
	Long: `Runs the full pipeline against a requirements document:
  1. Build (or load from cache) the canonical IR
  2. Generate application code into the output directory
  3. Score the output for structural and semantic compliance
  4. Repair gaps until convergence, plateau, or budget exhaustion

An already-populated output directory is repaired in place rather than
regenerated.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

// scoreCmd evaluates an existing tree without repairing it
var scoreCmd = &cobra.Command{
	Use:   "score [requirements.yaml]",
	Short: "Score an existing output tree without repairing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

// reportCmd prints the last stored compliance report
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the most recent compliance report from the run store",
	RunE:  showReport,
}

// initCmd writes the default configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Creates .specforge/config.yaml in the workspace, pre-filled with
defaults. Edit it to point the judge and embedding engine at your
providers; both default to remote services and degrade to lexical
matching when set to "none".`,
	RunE: runInit,
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the specforge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("specforge %s\n", config.DefaultConfig().Version)
	},
}

var (
	outDir       string
	forceRefresh bool
	watchTree    bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.specforge/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	runCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: <spec>_generated)")
	runCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "Rebuild the IR even when cached")
	runCmd.Flags().BoolVar(&watchTree, "watch", false, "Invalidate tree cache entries on external edits during the run")

	scoreCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: <spec>_generated)")
	scoreCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "Rebuild the IR even when cached")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	specPath := args[0]
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	opts := engine.RunOptions{
		SpecPath:     specPath,
		OutDir:       resolveOutDir(specPath),
		ForceRefresh: forceRefresh,
		Watch:        watchTree,
	}
	logger.Info("Starting pipeline",
		zap.String("spec", specPath),
		zap.String("out", opts.OutDir))

	result, err := eng.Run(ctx, opts)
	if err != nil {
		return err
	}

	if result.GenerationFailed {
		logger.Warn("Generation failed upstream; repaired from a skeleton")
	}
	for path, detail := range result.ArtifactFailures {
		logger.Warn("Artifact failed interpreter check",
			zap.String("file", path),
			zap.String("detail", detail))
	}

	printReport(result.Repair.Final)
	fmt.Printf("\nTerminal: %s after %d iteration(s)\n",
		result.Repair.Terminal, len(result.Repair.Iterations))
	for _, a := range result.Repair.Unresolved {
		fmt.Printf("  unresolved: %s (%s)\n", a.Signature, a.SkipReason)
	}
	if result.Promotable {
		fmt.Printf("\nPromotable: yes (>= %.0f)\n", cfg.Compliance.PromotionThreshold)
	} else {
		fmt.Printf("\nPromotable: no (threshold %.0f)\n", cfg.Compliance.PromotionThreshold)
	}
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	specPath := args[0]
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.Score(ctx, engine.RunOptions{
		SpecPath:     specPath,
		OutDir:       resolveOutDir(specPath),
		ForceRefresh: forceRefresh,
	})
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func showReport(cmd *cobra.Command, args []string) error {
	s, err := store.NewRunStore(cfg.StorePath, "report-view")
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.LatestReport()
	if err != nil {
		return err
	}
	if report == nil {
		fmt.Println("No reports recorded yet. Run `specforge run` first.")
		return nil
	}
	printReport(report)
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func printReport(r *compliance.Report) {
	fmt.Printf("Compliance report (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("  Overall:              %6.1f\n", r.Overall)
	fmt.Printf("  Entities:             %6.1f  (%d/%d)\n", r.EntityScore(), r.Entities.Present, r.Entities.Total)
	fmt.Printf("  Endpoints:            %6.1f  (%d/%d)\n", r.EndpointScore(), r.Endpoints.Present, r.Endpoints.Total)
	fmt.Printf("  Constraints (strict): %6.1f  (%d/%d)\n", r.StrictScore(), r.ConstraintsStrict.Present, r.ConstraintsStrict.Total)
	fmt.Printf("  Constraints (relax):  %6.1f  (%d/%d)\n", r.RelaxedScore(), r.ConstraintsRelax.Present, r.ConstraintsRelax.Total)
	if r.InferredEndpoints.Total > 0 {
		fmt.Printf("  Inferred endpoints:   %6.1f  (%d/%d)\n",
			r.InferredEndpoints.Score(), r.InferredEndpoints.Present, r.InferredEndpoints.Total)
	}

	if len(r.Gaps) == 0 {
		return
	}
	fmt.Printf("\nGaps (%d):\n", len(r.Gaps))
	gaps := make([]compliance.Gap, len(r.Gaps))
	copy(gaps, r.Gaps)
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Signature() < gaps[j].Signature() })
	for _, g := range gaps {
		fmt.Printf("  %s\n", g.String())
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
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

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return resolveWorkspace() + "/.specforge/config.yaml"
}

func resolveOutDir(specPath string) string {
	if outDir != "" {
		return outDir
	}
	return engine.DefaultOutDir(specPath)
}
