package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"specforge/internal/logging"
)

const judgeSystemPrompt = `You compare a specification requirement against a code artifact and decide whether the code satisfies the requirement's intent. Answer with exactly one word: YES or NO. Do not explain.`

// Judge resolves ambiguous spec/code pairs to a binary verdict.
// Verdicts are memoized per (spec, code) pair so a pair is never
// judged twice within a run.
type Judge struct {
	client  Client
	timeout time.Duration

	mu   sync.Mutex
	memo map[string]bool
}

// NewJudge creates a Judge backed by the given client. A nil client is
// allowed; every judgment then fails with ErrNoJudge.
func NewJudge(client Client, timeout time.Duration) *Judge {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Judge{
		client:  client,
		timeout: timeout,
		memo:    make(map[string]bool),
	}
}

// ErrNoJudge is returned when no LLM provider is configured.
var ErrNoJudge = fmt.Errorf("no llm judge configured")

// JudgeEquivalence reports whether codeText satisfies the intent of specText.
func (j *Judge) JudgeEquivalence(ctx context.Context, specText, codeText string) (bool, error) {
	if j.client == nil {
		return false, ErrNoJudge
	}

	key := specText + "\x00" + codeText
	j.mu.Lock()
	if verdict, ok := j.memo[key]; ok {
		j.mu.Unlock()
		logging.MatcherDebug("judge memo hit: spec=%q", truncate(specText, 60))
		return verdict, nil
	}
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Requirement:\n%s\n\nCode artifact:\n%s\n\nDoes the code artifact satisfy the requirement's intent?", specText, codeText)
	raw, err := j.client.CompleteWithSystem(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return false, fmt.Errorf("equivalence judgment failed: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return false, err
	}

	j.mu.Lock()
	j.memo[key] = verdict
	j.mu.Unlock()

	logging.Matcher("judge verdict=%v spec=%q", verdict, truncate(specText, 60))
	return verdict, nil
}

// MemoSize returns the number of memoized verdicts.
func (j *Judge) MemoSize() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.memo)
}

func parseVerdict(raw string) (bool, error) {
	answer := strings.ToUpper(strings.TrimSpace(raw))
	answer = strings.Trim(answer, ".!\"'` ")
	switch {
	case strings.HasPrefix(answer, "YES"):
		return true, nil
	case strings.HasPrefix(answer, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("unparseable judge response: %q", truncate(raw, 120))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
