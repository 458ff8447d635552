package tree

import (
	"context"
	"fmt"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"specforge/internal/logging"
)

// CheckResult is the outcome of evaluating a generated artifact.
type CheckResult struct {
	OK     bool
	Detail string
}

// Checker evaluates generated Go files in a yaegi interpreter instead of
// shelling out to the compiler. Results are memoized by content hash, so
// an unchanged file is never re-evaluated; invalidating a file's cache
// entry changes its hash lookup and forces a fresh evaluation.
type Checker struct {
	tree *FileTree

	mu   sync.Mutex
	memo map[string]CheckResult
}

// NewChecker creates a Checker over the given tree.
func NewChecker(t *FileTree) *Checker {
	return &Checker{
		tree: t,
		memo: make(map[string]CheckResult),
	}
}

// Check evaluates the file at path. The interpreter is created fresh per
// evaluation so one file's declarations never leak into another's.
func (c *Checker) Check(ctx context.Context, path string) (CheckResult, error) {
	hash, err := c.tree.Hash(path)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	key := path + "@" + hash
	c.mu.Lock()
	if result, ok := c.memo[key]; ok {
		c.mu.Unlock()
		logging.TreeDebug("check memo hit: %s", key)
		return result, nil
	}
	c.mu.Unlock()

	content, err := c.tree.Read(path)
	if err != nil {
		return CheckResult{}, err
	}

	result := evaluate(ctx, string(content))
	if !result.OK {
		logging.Tree("check failed for %s: %s", path, result.Detail)
	}

	c.mu.Lock()
	c.memo[key] = result
	c.mu.Unlock()
	return result, nil
}

// MemoSize returns the number of memoized check results.
func (c *Checker) MemoSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.memo)
}

// evaluate runs the source through yaegi. Evaluation runs in a goroutine
// so a pathological artifact cannot wedge the run past the context
// deadline.
func evaluate(ctx context.Context, source string) CheckResult {
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Detail: fmt.Sprintf("interpreter panic: %v", r)}
			}
		}()
		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- CheckResult{Detail: fmt.Sprintf("failed to load stdlib: %v", err)}
			return
		}
		if _, err := i.Eval(source); err != nil {
			done <- CheckResult{Detail: err.Error()}
			return
		}
		done <- CheckResult{OK: true}
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return CheckResult{Detail: fmt.Sprintf("check timed out: %v", ctx.Err())}
	}
}
