package similarity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslhub/dslhub/internal/canonicaljson"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store/memory"
)

func pipelineDoc(name string) map[string]any {
	return map[string]any{
		"name": name,
		"stages": []any{
			map[string]any{"name": "load", "type": "source"},
			map[string]any{"name": "transform", "type": "map"},
			map[string]any{"name": "save", "type": "sink"},
		},
	}
}

func mustHash(t *testing.T, v any) []byte {
	t.Helper()
	h, err := canonicaljson.Hash(v)
	require.NoError(t, err)
	return h
}

func seed(t *testing.T, s *memory.Store, id string, content map[string]any) model.Pipeline {
	t.Helper()
	ctx := context.Background()
	p := model.Pipeline{
		ID: id, FlowID: "f1", Version: "1.0." + id, SchemaDefID: "sd1",
		Status: model.PipelineDraft, Content: content,
		ContentHash: mustHash(t, content),
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.Pipelines().Create(ctx, p))
	return p
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Flows().Create(ctx, model.Flow{ID: "f1", Slug: "f1"}))
	require.NoError(t, s.Schemas().CreateDefinition(ctx, model.SchemaDefinition{
		ID: "sd1", Name: "pipeline", Version: "1.0.0", Status: model.SchemaActive,
		Schema: map[string]any{"type": "object"},
	}))
	return s
}

func TestExactHashMatchScoresOne(t *testing.T) {
	s := newStore(t)
	doc := pipelineDoc("orders")
	existing := seed(t, s, "1", doc)

	m := New(s.Pipelines(), 0)
	// Key order must not matter for the exact match.
	candidate := map[string]any{
		"stages": doc["stages"],
		"name":   "orders",
	}
	match, err := m.FindExisting(context.Background(), "f1", candidate)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.True(t, match.Exact)
	assert.Equal(t, 1.0, match.Score)
	assert.Equal(t, existing.ID, match.Pipeline.ID)
}

func TestFuzzyMatchAboveThreshold(t *testing.T) {
	s := newStore(t)
	seed(t, s, "1", pipelineDoc("orders-sync"))

	m := New(s.Pipelines(), 0.75)
	// Same structure, slightly different name.
	match, err := m.FindExisting(context.Background(), "f1", pipelineDoc("orders-sink"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.False(t, match.Exact)
	assert.GreaterOrEqual(t, match.Score, 0.75)
	assert.Less(t, match.Score, 1.0)
}

func TestNoMatchBelowThreshold(t *testing.T) {
	s := newStore(t)
	seed(t, s, "1", pipelineDoc("orders"))

	m := New(s.Pipelines(), 0.75)
	candidate := map[string]any{
		"name": "completely different",
		"jobs": []any{map[string]any{"cmd": "make"}},
	}
	match, err := m.FindExisting(context.Background(), "f1", candidate)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestTextPromptMatchesNearDuplicate(t *testing.T) {
	s := newStore(t)
	existing := seed(t, s, "1", pipelineDoc("orders-sync"))

	m := New(s.Pipelines(), 0.75)
	prompt := canonicaljson.Text(pipelineDoc("orders-sink"))
	match, err := m.FindSimilarText(context.Background(), "f1", prompt)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.False(t, match.Exact)
	assert.GreaterOrEqual(t, match.Score, 0.75)
	assert.Less(t, match.Score, 1.0)
	assert.Equal(t, existing.ID, match.Pipeline.ID)
}

func TestTextPromptBelowThresholdMatchesNothing(t *testing.T) {
	s := newStore(t)
	seed(t, s, "1", pipelineDoc("orders"))

	m := New(s.Pipelines(), 0.75)
	match, err := m.FindSimilarText(context.Background(), "f1", "make me a completely different thing")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestEmptyCandidateMatchesNothing(t *testing.T) {
	s := newStore(t)
	m := New(s.Pipelines(), 0.75)
	match, err := m.FindExisting(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestExtractCandidate(t *testing.T) {
	doc := pipelineDoc("orders")

	assert.Equal(t, doc, ExtractCandidate(map[string]any{"pipeline": doc}))
	assert.Equal(t, doc, ExtractCandidate(doc))
	assert.Nil(t, ExtractCandidate("build me a pipeline"))
	assert.Nil(t, ExtractCandidate(map[string]any{"text": "hello"}))
}
