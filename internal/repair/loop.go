package repair

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"specforge/internal/compliance"
	"specforge/internal/config"
	"specforge/internal/ir"
	"specforge/internal/logging"
	"specforge/internal/tree"
)

// Terminal is the state the loop ended in.
type Terminal string

const (
	Converged Terminal = "converged"
	Plateau   Terminal = "plateau"
	Exhausted Terminal = "exhausted"
)

// IterationLog records one iteration for observability.
type IterationLog struct {
	Index     int       `json:"index"`
	Before    float64   `json:"before"`
	After     float64   `json:"after"`
	Delta     float64   `json:"delta"`
	GapsFound int       `json:"gaps_found"`
	Applied   int       `json:"applied"`
	Skipped   int       `json:"skipped"`
	Diffs     []string  `json:"diffs,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder persists loop progress. Implementations must be safe for
// concurrent use; attempts are recorded from parallel apply workers.
type Recorder interface {
	RecordAttempt(Attempt) error
	RecordIteration(IterationLog) error
	RecordReport(*compliance.Report) error
}

// Result is the outcome of a full loop run.
type Result struct {
	Terminal   Terminal           `json:"terminal"`
	Iterations []IterationLog     `json:"iterations"`
	Final      *compliance.Report `json:"final"`
	Attempts   []Attempt          `json:"attempts"`
	Unresolved []Attempt          `json:"unresolved"`
}

// Loop drives score, select, apply, invalidate until a terminal state.
type Loop struct {
	validator    *compliance.Validator
	tree         *tree.FileTree
	cfg          config.RepairConfig
	ledger       *Ledger
	recorder     Recorder
	invalidateIR func()
}

// Option configures a Loop.
type Option func(*Loop)

// WithRecorder attaches a persistent recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

// WithIRInvalidation attaches a hook that clears the on-disk IR cache
// entry during the invalidate phase.
func WithIRInvalidation(fn func()) Option {
	return func(l *Loop) { l.invalidateIR = fn }
}

// NewLoop creates a Loop.
func NewLoop(v *compliance.Validator, t *tree.FileTree, cfg config.RepairConfig, opts ...Option) *Loop {
	l := &Loop{
		validator: v,
		tree:      t,
		cfg:       cfg,
		ledger:    NewLedger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the loop. The returned Result is valid even when err is
// non-nil, carrying whatever progress was made before the failure.
func (l *Loop) Run(ctx context.Context, app *ir.ApplicationIR) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryRepair, "Run")
	defer timer.Stop()

	result := &Result{}

	report, err := l.validator.Evaluate(ctx, app)
	if err != nil {
		return result, err
	}
	l.recordReport(report)
	result.Final = report

	noImprovement := 0
	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		if report.Overall >= l.cfg.ConvergenceThreshold {
			result.Terminal = Converged
			return l.finish(result), nil
		}

		// Cancellation is honored between iterations only. Attempts are
		// recorded as they are applied, so stopping here never loses a
		// change already on disk.
		if err := ctx.Err(); err != nil {
			return l.finish(result), err
		}

		logging.Repair("iteration %d: score=%.1f gaps=%d", iter, report.Overall, len(report.Gaps))

		groups := l.selectRepairs(report)
		before := l.snapshotFiles(groups)

		appliedCount, skippedCount, mutated, err := l.applyGroups(ctx, app, groups, iter)
		if err != nil {
			return l.finish(result), err
		}

		if err := l.invalidate(mutated); err != nil {
			return l.finish(result), err
		}

		prev := report.Overall
		report, err = l.validator.Evaluate(ctx, app)
		if err != nil {
			return l.finish(result), err
		}
		l.recordReport(report)
		result.Final = report

		iteration := IterationLog{
			Index:     iter,
			Before:    prev,
			After:     report.Overall,
			Delta:     report.Overall - prev,
			GapsFound: len(report.Gaps),
			Applied:   appliedCount,
			Skipped:   skippedCount,
			Diffs:     l.diffs(before, mutated),
			At:        time.Now(),
		}
		result.Iterations = append(result.Iterations, iteration)
		if l.recorder != nil {
			if err := l.recorder.RecordIteration(iteration); err != nil {
				logging.Get(logging.CategoryRepair).Warn("failed to record iteration: %v", err)
			}
		}
		logging.Repair("iteration %d done: %.1f -> %.1f (applied=%d skipped=%d)",
			iter, prev, report.Overall, appliedCount, skippedCount)

		if iteration.Delta <= 0 {
			noImprovement++
		} else {
			noImprovement = 0
		}
		if noImprovement >= l.cfg.PlateauWindow {
			result.Terminal = Plateau
			return l.finish(result), nil
		}
	}

	if report.Overall >= l.cfg.ConvergenceThreshold {
		result.Terminal = Converged
	} else {
		result.Terminal = Exhausted
	}
	return l.finish(result), nil
}

func (l *Loop) finish(result *Result) *Result {
	result.Attempts = l.ledger.Attempts()
	result.Unresolved = l.ledger.Unresolved()
	return result
}

// repairGroup is the work planned against one target file. Gaps for the
// same file are serialized; groups run on independent workers.
type repairGroup struct {
	file string
	gaps []compliance.Gap
}

// selectRepairs groups the report's gaps by target file, with
// structural repairs ordered ahead of constraint repairs inside each
// group since the latter may target code the former just created.
func (l *Loop) selectRepairs(report *compliance.Report) []repairGroup {
	byFile := make(map[string][]compliance.Gap)
	for _, gap := range report.Gaps {
		byFile[targetFile(gap)] = append(byFile[targetFile(gap)], gap)
	}

	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	groups := make([]repairGroup, 0, len(files))
	for _, f := range files {
		gaps := byFile[f]
		sort.SliceStable(gaps, func(i, j int) bool {
			return structural(gaps[i].Kind) && !structural(gaps[j].Kind)
		})
		groups = append(groups, repairGroup{file: f, gaps: gaps})
	}
	return groups
}

func targetFile(gap compliance.Gap) string {
	if gap.Kind == compliance.GapMissingEndpoint {
		return routesFile
	}
	return modelPath(gap.Entity)
}

// applyGroups runs all planned repairs. Workers handle disjoint files;
// within a file the gaps run in order, with the tree cache refreshed
// after each write so a later edit sees the earlier one.
func (l *Loop) applyGroups(ctx context.Context, app *ir.ApplicationIR, groups []repairGroup, iter int) (appliedCount, skippedCount int, mutated []string, err error) {
	var mu sync.Mutex
	touched := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.ApplyParallelism)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, gap := range group.gaps {
				outcome, attempted, err := l.applyOne(gctx, app, gap, iter)
				if err != nil {
					return err
				}

				mu.Lock()
				if attempted {
					if outcome.Applied {
						appliedCount++
					} else {
						skippedCount++
					}
				}
				for _, f := range outcome.Files {
					touched[f] = true
				}
				mu.Unlock()

				// Refresh the cache right away so a later edit in this
				// group reads the one before it.
				for _, f := range outcome.Files {
					if err := l.tree.Invalidate(f); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, nil, err
	}

	for f := range touched {
		mutated = append(mutated, f)
	}
	sort.Strings(mutated)
	return appliedCount, skippedCount, mutated, nil
}

// applyOne runs the single strategy mapped to the gap's kind, honoring
// the ledger. attempted is false when the gap was passed over without a
// fresh ledger entry.
func (l *Loop) applyOne(ctx context.Context, app *ir.ApplicationIR, gap compliance.Gap, iter int) (Outcome, bool, error) {
	sig := gap.Signature()

	strategy, ok := StrategyFor(gap.Kind)
	if !ok {
		if l.ledger.SkippedBefore(sig, "none") {
			return Outcome{}, false, nil
		}
		l.record(Attempt{
			Gap: gap, Signature: sig, Strategy: "none",
			SkipReason: fmt.Sprintf("no repair strategy for gap kind %s", gap.Kind),
			Iteration:  iter, At: time.Now(),
		})
		return skipped("no strategy"), true, nil
	}

	if l.ledger.AppliedBefore(sig) {
		l.record(Attempt{
			Gap: gap, Signature: sig, Strategy: strategy.Name(),
			SkipReason: "a repair for this signature was already applied in this run",
			Iteration:  iter, At: time.Now(),
		})
		return skipped("already applied"), true, nil
	}
	if l.ledger.SkippedBefore(sig, strategy.Name()) {
		// Declined earlier in this run; surfaced as unresolved, not
		// retried.
		return Outcome{}, false, nil
	}

	outcome, err := strategy.Apply(ctx, app, gap, l.tree)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("%s failed for %s: %w", strategy.Name(), sig, err)
	}

	// Recorded before any cancellation surfaces, so an edit on disk is
	// always in the ledger.
	l.record(Attempt{
		Gap: gap, Signature: sig, Strategy: strategy.Name(),
		Applied: outcome.Applied, SkipReason: outcome.SkipReason,
		Iteration: iter, At: time.Now(),
	})
	if outcome.SkipReason != "" {
		logging.Repair("%s skipped %s: %s", strategy.Name(), sig, outcome.SkipReason)
	}
	return outcome, true, nil
}

func (l *Loop) record(a Attempt) {
	l.ledger.Record(a)
	if l.recorder != nil {
		if err := l.recorder.RecordAttempt(a); err != nil {
			logging.Get(logging.CategoryRepair).Warn("failed to persist attempt: %v", err)
		}
	}
}

// invalidate clears every layer that could serve a stale read of the
// mutated files: the tree cache plus, through the hook, the on-disk IR
// cache keyed by the repair logic's hash.
func (l *Loop) invalidate(mutated []string) error {
	for _, path := range mutated {
		if err := l.tree.Invalidate(path); err != nil {
			return fmt.Errorf("invalidation failed, edit visibility not guaranteed: %w", err)
		}
	}
	if l.invalidateIR != nil {
		l.invalidateIR()
	}
	return nil
}

func (l *Loop) recordReport(report *compliance.Report) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordReport(report); err != nil {
		logging.Get(logging.CategoryRepair).Warn("failed to persist report: %v", err)
	}
}

// snapshotFiles captures pre-repair content of every file the planned
// repairs may touch, for the iteration diff log.
func (l *Loop) snapshotFiles(groups []repairGroup) map[string]string {
	before := make(map[string]string)
	for _, group := range groups {
		if content, err := l.tree.Read(group.file); err == nil {
			before[group.file] = string(content)
		} else {
			before[group.file] = ""
		}
	}
	return before
}

func (l *Loop) diffs(before map[string]string, mutated []string) []string {
	dmp := diffmatchpatch.New()
	var out []string
	for _, path := range mutated {
		after, err := l.tree.Read(path)
		if err != nil {
			continue
		}
		patches := dmp.PatchMake(before[path], string(after))
		if len(patches) == 0 {
			continue
		}
		out = append(out, fmt.Sprintf("--- %s\n%s", path, dmp.PatchToText(patches)))
	}
	return out
}
