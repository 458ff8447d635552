package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/ir"
	"specforge/internal/llm"
)

// fakeEngine returns canned vectors keyed by text.
type fakeEngine struct {
	vectors map[string][]float32
	embeds  int
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embeds++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

type scriptedLLM struct {
	response string
	calls    int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	s.calls++
	return s.response, nil
}

func TestMatchAboveHighThreshold(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"price must be positive": {1, 0, 0},
		`validate:"gt=0"`:        {0.95, 0.05, 0},
	}}
	m := New(engine, nil, 0.8, 0.5)

	result, err := m.Match(context.Background(), "price must be positive", `validate:"gt=0"`)
	require.NoError(t, err)
	assert.Equal(t, Match, result.Verdict)
	assert.True(t, result.Satisfied())
}

func TestMatchBelowLowThreshold(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"email format": {1, 0, 0},
		"a route":      {0, 1, 0},
	}}
	m := New(engine, nil, 0.8, 0.5)

	result, err := m.Match(context.Background(), "email format", "a route")
	require.NoError(t, err)
	assert.Equal(t, NoMatch, result.Verdict)
	assert.False(t, result.Satisfied())
}

func TestAmbiguousBandGoesToJudge(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"quantity at least one": {1, 0.5, 0},
		`validate:"min=1"`:      {1, 1, 0},
	}}
	fake := &scriptedLLM{response: "YES"}
	m := New(engine, llm.NewJudge(fake, time.Second), 0.95, 0.5)

	result, err := m.Match(context.Background(), "quantity at least one", `validate:"min=1"`)
	require.NoError(t, err)
	assert.Equal(t, Match, result.Verdict)
	assert.Equal(t, 1, fake.calls)
}

func TestAmbiguousBandWithoutJudgeIsUncertain(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"a": {1, 0.5, 0},
		"b": {1, 1, 0},
	}}
	m := New(engine, nil, 0.95, 0.5)

	result, err := m.Match(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, Uncertain, result.Verdict)
	assert.False(t, result.Satisfied(), "uncertain must not count as satisfied")
}

func TestJudgeFailureResolvesToUncertain(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"a": {1, 0.5, 0},
		"b": {1, 1, 0},
	}}
	fake := &scriptedLLM{response: "maybe, hard to say"}
	m := New(engine, llm.NewJudge(fake, time.Second), 0.95, 0.5)

	result, err := m.Match(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, Uncertain, result.Verdict)
}

// failingEngine simulates an unreachable embedding backend.
type failingEngine struct{}

func (f *failingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("ollama: connection refused")
}

func (f *failingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("ollama: connection refused")
}

func (f *failingEngine) Dimensions() int { return 3 }
func (f *failingEngine) Name() string    { return "failing" }

func TestEmbeddingFailureResolvesToUncertain(t *testing.T) {
	m := New(&failingEngine{}, nil, 0.8, 0.5)

	result, err := m.Match(context.Background(), "price must be positive", `validate:"gt=0"`)
	require.NoError(t, err, "a dead backend degrades the pair, it does not abort scoring")
	assert.Equal(t, Uncertain, result.Verdict)
	assert.False(t, result.Satisfied())
}

func TestMatchConstraintSurvivesEmbeddingFailure(t *testing.T) {
	m := New(&failingEngine{}, nil, 0.8, 0.5)

	spec := ir.Constraint{Kind: ir.KindImmutable}
	found := []ir.Constraint{{Kind: ir.KindRequired}}

	result, err := m.MatchConstraint(context.Background(), spec, found)
	require.NoError(t, err)
	assert.False(t, result.Strict)
	assert.False(t, result.Relaxed, "uncertain semantic fallback counts as unmet")
}

func TestEmbeddingMemoization(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{}}
	m := New(engine, nil, 0.8, 0.5)

	ctx := context.Background()
	_, err := m.Match(ctx, "same text", "other text")
	require.NoError(t, err)
	_, err = m.Match(ctx, "same text", "third text")
	require.NoError(t, err)

	// 4 distinct texts would be 4 embeds; "same text" is reused.
	assert.Equal(t, 3, engine.embeds)
}

func TestLexicalFallbackWithoutEngine(t *testing.T) {
	m := New(nil, nil, 0.8, 0.5)

	result, err := m.Match(context.Background(), "unique email required", "email unique required")
	require.NoError(t, err)
	assert.Equal(t, Match, result.Verdict)

	result, err = m.Match(context.Background(), "unique email required", "cart checkout flow")
	require.NoError(t, err)
	assert.Equal(t, NoMatch, result.Verdict)
}

func TestMatchConstraintStrict(t *testing.T) {
	m := New(nil, nil, 0.8, 0.5)
	spec := ir.Constraint{Kind: ir.KindGT, Param: "0"}
	found := []ir.Constraint{{Kind: ir.KindRequired}, {Kind: ir.KindGT, Param: "0"}}

	res, err := m.MatchConstraint(context.Background(), spec, found)
	require.NoError(t, err)
	assert.True(t, res.Strict)
	assert.True(t, res.Relaxed)
}

func TestMatchConstraintNumericParamEquality(t *testing.T) {
	m := New(nil, nil, 0.8, 0.5)
	spec := ir.Constraint{Kind: ir.KindGTE, Param: "0"}
	found := []ir.Constraint{{Kind: ir.KindGTE, Param: "0.0"}}

	res, err := m.MatchConstraint(context.Background(), spec, found)
	require.NoError(t, err)
	assert.True(t, res.Strict, "0 and 0.0 are the same bound")
}

func TestMatchConstraintRelaxedCompatibleKind(t *testing.T) {
	m := New(nil, nil, 0.8, 0.5)
	spec := ir.Constraint{Kind: ir.KindMin, Param: "1"}
	found := []ir.Constraint{{Kind: ir.KindGTE, Param: "1"}}

	res, err := m.MatchConstraint(context.Background(), spec, found)
	require.NoError(t, err)
	assert.False(t, res.Strict, "min and gte differ under strict scoring")
	assert.True(t, res.Relaxed)
	assert.Equal(t, "compat", res.Via)
}

func TestMatchConstraintSameKindDifferentParamRelaxedOnly(t *testing.T) {
	m := New(nil, nil, 0.8, 0.5)
	spec := ir.Constraint{Kind: ir.KindMax, Param: "100"}
	found := []ir.Constraint{{Kind: ir.KindMax, Param: "50"}}

	res, err := m.MatchConstraint(context.Background(), spec, found)
	require.NoError(t, err)
	assert.False(t, res.Strict)
	assert.True(t, res.Relaxed)
	assert.Equal(t, "kind", res.Via)
}

func TestMatchConstraintNothingFound(t *testing.T) {
	m := New(nil, nil, 0.8, 0.5)
	spec := ir.Constraint{Kind: ir.KindEmail}

	res, err := m.MatchConstraint(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.False(t, res.Strict)
	assert.False(t, res.Relaxed)
}
