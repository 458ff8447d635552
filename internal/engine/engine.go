// Package engine wires the full pipeline: spec to IR, IR to generated
// code, then the score-and-repair loop over the output tree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"specforge/internal/compliance"
	"specforge/internal/config"
	"specforge/internal/embedding"
	"specforge/internal/extract"
	"specforge/internal/generate"
	"specforge/internal/ir"
	"specforge/internal/ircache"
	"specforge/internal/llm"
	"specforge/internal/logging"
	"specforge/internal/matcher"
	"specforge/internal/repair"
	"specforge/internal/store"
	"specforge/internal/tree"
)

// ErrIRIncomplete marks a spec whose IR lacks required sections. It is
// fatal: no generation or repair is attempted against a partial IR.
var ErrIRIncomplete = errors.New("ir incomplete")

// Engine runs the compliance-and-repair pipeline.
type Engine struct {
	cfg       *config.Config
	provider  ircache.Provider
	cache     *ircache.Cache
	generator generate.Generator
	runStore  *store.RunStore
}

// Option configures the Engine.
type Option func(*Engine)

// WithGenerator overrides the default template generator.
func WithGenerator(g generate.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithProvider overrides the IR provider.
func WithProvider(p ircache.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// New creates an Engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "engine.New")
	defer timer.Stop()

	e := &Engine{
		cfg:       cfg,
		generator: generate.NewTemplateGenerator(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.provider == nil {
		if cfg.Cache.Enabled {
			cache, err := ircache.New(cfg.Cache.Dir, cfg.Cache.TTLDuration())
			if err != nil {
				return nil, fmt.Errorf("failed to open ir cache: %w", err)
			}
			e.cache = cache
		}
		// A nil cache makes the provider build the IR on every call.
		e.provider = ircache.NewProvider(e.cache)
	}

	if cfg.StorePath != "" {
		runStore, err := store.NewRunStore(cfg.StorePath, uuid.NewString())
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		e.runStore = runStore
	}

	return e, nil
}

// RunStore exposes the run history store. Nil when no store path is
// configured.
func (e *Engine) RunStore() *store.RunStore {
	return e.runStore
}

// Close releases the engine's persistent resources.
func (e *Engine) Close() error {
	if e.runStore != nil {
		return e.runStore.Close()
	}
	return nil
}

// RunOptions parameterizes one pipeline run.
type RunOptions struct {
	SpecPath     string
	OutDir       string
	ForceRefresh bool
	// Watch enables invalidation of tree cache entries on external
	// edits to the output directory during the run.
	Watch bool
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	IR         *ir.ApplicationIR
	Repair     *repair.Result
	Promotable bool
	// GenerationFailed is set when the generator errored and the run
	// proceeded from a synthesized skeleton instead.
	GenerationFailed bool
	// ArtifactFailures maps generated files to interpreter check
	// diagnostics.
	ArtifactFailures map[string]string
}

// Run executes the pipeline.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	app, err := e.provider.IR(ctx, opts.SpecPath, opts.ForceRefresh)
	if err != nil {
		return nil, err
	}
	if err := app.Complete(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIRIncomplete, err)
	}

	ft, err := tree.New(opts.OutDir)
	if err != nil {
		return nil, err
	}

	if opts.Watch {
		watcher, err := tree.Watch(ft)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("failed to start tree watcher: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	result := &RunResult{IR: app}

	if err := e.populate(ctx, app, ft, result); err != nil {
		return nil, err
	}

	checker := tree.NewChecker(ft)
	result.ArtifactFailures = e.checkArtifacts(ctx, ft, checker)

	validator, err := e.newValidator(ft)
	if err != nil {
		return nil, err
	}

	loopOpts := []repair.Option{repair.WithIRInvalidation(e.irInvalidator(opts.SpecPath))}
	if e.runStore != nil {
		loopOpts = append(loopOpts, repair.WithRecorder(e.runStore))
	}
	loop := repair.NewLoop(validator, ft, e.cfg.Repair, loopOpts...)

	repairResult, err := loop.Run(ctx, app)
	result.Repair = repairResult
	if err != nil {
		return result, err
	}

	// The gate reads the final report only. A run that produced no
	// report never promotes.
	result.Promotable = compliance.Promotable(repairResult.Final, e.cfg.Compliance.PromotionThreshold)

	logging.Boot("run finished: terminal=%s overall=%.1f promotable=%v",
		repairResult.Terminal, repairResult.Final.Overall, result.Promotable)
	return result, nil
}

// Score evaluates the tree at outDir against the requirements IR without
// repairing anything. The tree must already hold generated sources.
func (e *Engine) Score(ctx context.Context, opts RunOptions) (*compliance.Report, error) {
	app, err := e.provider.IR(ctx, opts.SpecPath, opts.ForceRefresh)
	if err != nil {
		return nil, err
	}
	if err := app.Complete(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIRIncomplete, err)
	}

	ft, err := tree.New(opts.OutDir)
	if err != nil {
		return nil, err
	}
	files, err := ft.Files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to score: %s holds no Go sources", opts.OutDir)
	}

	validator, err := e.newValidator(ft)
	if err != nil {
		return nil, err
	}
	report, err := validator.Evaluate(ctx, app)
	if err != nil {
		return nil, err
	}
	if e.runStore != nil {
		if err := e.runStore.RecordReport(report); err != nil {
			logging.Get(logging.CategoryStore).Warn("failed to persist report: %v", err)
		}
	}
	return report, nil
}

func (e *Engine) newValidator(ft *tree.FileTree) (*compliance.Validator, error) {
	judge := llm.NewJudge(e.newLLMClient(), e.cfg.LLM.JudgeTimeout())
	engine, err := embedding.NewEngine(e.cfg.Embedding)
	if err != nil {
		return nil, err
	}
	m := matcher.New(engine, judge, e.cfg.Compliance.MatchHighThreshold, e.cfg.Compliance.MatchLowThreshold)

	return compliance.NewValidator(ft, extract.New(ft), m, compliance.Weights{
		Entity:     e.cfg.Compliance.EntityWeight,
		Endpoint:   e.cfg.Compliance.EndpointWeight,
		Constraint: e.cfg.Compliance.ConstraintWeight,
	}), nil
}

// populate generates the initial tree when the output directory holds
// no Go sources yet. A generator failure is degraded to a skeleton so
// scoring and repair have something real to operate on; the error text
// itself is never written into the tree.
func (e *Engine) populate(ctx context.Context, app *ir.ApplicationIR, ft *tree.FileTree, result *RunResult) error {
	existing, err := ft.Files()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logging.Generation("output dir already populated (%d files), skipping generation", len(existing))
		return nil
	}

	files, err := e.generator.Generate(ctx, app)
	if err != nil {
		logging.Get(logging.CategoryGeneration).Error("generation failed, synthesizing skeleton: %v", err)
		result.GenerationFailed = true
		files = generate.SynthesizeSkeleton(app)
	}

	for path, content := range files {
		if err := ft.Write(path, content); err != nil {
			return err
		}
		if err := ft.Invalidate(path); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkArtifacts(ctx context.Context, ft *tree.FileTree, checker *tree.Checker) map[string]string {
	files, err := ft.Files()
	if err != nil {
		logging.Get(logging.CategoryTree).Warn("artifact check skipped: %v", err)
		return nil
	}

	failures := make(map[string]string)
	for _, path := range files {
		res, err := checker.Check(ctx, path)
		if err != nil {
			failures[path] = err.Error()
			continue
		}
		if !res.OK {
			failures[path] = res.Detail
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

func (e *Engine) newLLMClient() llm.Client {
	client, err := llm.NewClient(e.cfg.LLM)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("llm client unavailable, ambiguous matches resolve to no-match: %v", err)
		return nil
	}
	return client
}

// irInvalidator returns the repair loop's hook for clearing the
// on-disk IR cache entry derived from the current spec.
func (e *Engine) irInvalidator(specPath string) func() {
	return func() {
		if e.cache == nil {
			return
		}
		content, err := os.ReadFile(specPath)
		if err != nil {
			logging.Get(logging.CategoryCache).Warn("could not re-read spec for invalidation: %v", err)
			return
		}
		e.cache.Invalidate(ir.CacheKey(content))
	}
}

// DefaultOutDir returns the conventional output directory for a spec.
func DefaultOutDir(specPath string) string {
	base := filepath.Base(specPath)
	ext := filepath.Ext(base)
	return filepath.Join(filepath.Dir(specPath), base[:len(base)-len(ext)]+"_generated")
}
