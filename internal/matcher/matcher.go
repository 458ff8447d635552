// Package matcher scores spec requirements against code artifacts.
// Scores of at least the high threshold are matches, scores at or below
// the low threshold are non-matches, and the band between them goes to
// the LLM judge. An unavailable or failing judge or embedding backend
// yields Uncertain, which callers must treat as no-match.
package matcher

import (
	"context"
	"strings"
	"sync"

	"specforge/internal/embedding"
	"specforge/internal/llm"
	"specforge/internal/logging"
)

// Verdict is the outcome of comparing a spec requirement to a code artifact.
type Verdict int

const (
	NoMatch Verdict = iota
	Match
	Uncertain
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case NoMatch:
		return "no_match"
	case Uncertain:
		return "uncertain"
	default:
		return "unknown"
	}
}

// Result carries the verdict and the similarity score that produced it.
type Result struct {
	Verdict Verdict
	Score   float64
}

// Satisfied reports whether the verdict counts toward compliance.
// Uncertain never does.
func (r Result) Satisfied() bool {
	return r.Verdict == Match
}

// Matcher compares spec text against code text. Embeddings are memoized
// per text within a run so repeated scoring passes stay cheap.
type Matcher struct {
	engine        embedding.Engine
	judge         *llm.Judge
	highThreshold float64
	lowThreshold  float64

	mu      sync.Mutex
	vectors map[string][]float32
}

// New creates a Matcher. Both engine and judge may be nil: a nil engine
// degrades to lexical scoring, a nil judge resolves the ambiguous band
// to Uncertain.
func New(engine embedding.Engine, judge *llm.Judge, highThreshold, lowThreshold float64) *Matcher {
	if highThreshold == 0 {
		highThreshold = 0.8
	}
	if lowThreshold == 0 {
		lowThreshold = 0.5
	}
	return &Matcher{
		engine:        engine,
		judge:         judge,
		highThreshold: highThreshold,
		lowThreshold:  lowThreshold,
		vectors:       make(map[string][]float32),
	}
}

// Match scores specText against codeText and resolves it to a verdict.
func (m *Matcher) Match(ctx context.Context, specText, codeText string) (Result, error) {
	score, err := m.similarity(ctx, specText, codeText)
	if err != nil {
		// A failing embedding backend degrades the pair, not the run.
		// Uncertain counts as unmet downstream.
		logging.Get(logging.CategoryMatcher).Warn("similarity failed, resolving to uncertain: %v", err)
		return Result{Verdict: Uncertain}, nil
	}

	switch {
	case score >= m.highThreshold:
		logging.MatcherDebug("match by score %.3f: %q", score, specText)
		return Result{Verdict: Match, Score: score}, nil
	case score <= m.lowThreshold:
		logging.MatcherDebug("no-match by score %.3f: %q", score, specText)
		return Result{Verdict: NoMatch, Score: score}, nil
	}

	// Ambiguous band. The judge decides; without one the pair stays
	// uncertain and the caller counts it as unmet.
	if m.judge == nil {
		logging.Matcher("ambiguous score %.3f with no judge: %q", score, specText)
		return Result{Verdict: Uncertain, Score: score}, nil
	}

	equivalent, err := m.judge.JudgeEquivalence(ctx, specText, codeText)
	if err != nil {
		logging.Get(logging.CategoryMatcher).Warn("judge failed, resolving to uncertain: %v", err)
		return Result{Verdict: Uncertain, Score: score}, nil
	}
	if equivalent {
		return Result{Verdict: Match, Score: score}, nil
	}
	return Result{Verdict: NoMatch, Score: score}, nil
}

func (m *Matcher) similarity(ctx context.Context, a, b string) (float64, error) {
	if m.engine == nil {
		return lexicalSimilarity(a, b), nil
	}

	va, err := m.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := m.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return embedding.CosineSimilarity(va, vb)
}

func (m *Matcher) vector(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	if v, ok := m.vectors[text]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	v, err := m.engine.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.vectors[text] = v
	m.mu.Unlock()
	return v, nil
}

// lexicalSimilarity is the degraded scoring path when no embedding
// engine is configured. Jaccard overlap over lowercased tokens.
func lexicalSimilarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		tokens[tok] = struct{}{}
	}
	return tokens
}
