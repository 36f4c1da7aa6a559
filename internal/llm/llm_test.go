package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslhub/dslhub/internal/model"
)

func TestParseJSONObjectPlain(t *testing.T) {
	obj, err := ParseJSONObject(`{"name": "p", "stages": []}`)
	require.NoError(t, err)
	assert.Equal(t, "p", obj["name"])
}

func TestParseJSONObjectStripsFences(t *testing.T) {
	raw := "```json\n{\"name\": \"p\"}\n```"
	obj, err := ParseJSONObject(raw)
	require.NoError(t, err)
	assert.Equal(t, "p", obj["name"])
}

func TestParseJSONObjectExtractsFromProse(t *testing.T) {
	raw := "Here is your pipeline:\n{\"name\": \"p\"}\nLet me know if you need changes."
	obj, err := ParseJSONObject(raw)
	require.NoError(t, err)
	assert.Equal(t, "p", obj["name"])
}

func TestParseJSONObjectRejectsGarbage(t *testing.T) {
	_, err := ParseJSONObject("no json here")
	assert.Error(t, err)
}

func TestDecodeInto(t *testing.T) {
	var out CheckResult
	require.NoError(t, DecodeInto(`{"notes": ["a"], "risks": ["b"]}`, &out))
	assert.Equal(t, []string{"a"}, out.Notes)
	assert.Equal(t, []string{"b"}, out.Risks)
}

func TestStaticGeneratesConformingPipeline(t *testing.T) {
	c := NewStatic()
	doc, err := c.GeneratePipeline(context.Background(), "orders", Context{})
	require.NoError(t, err)
	assert.Equal(t, "orders", doc["name"])
	stages, ok := doc["stages"].([]any)
	require.True(t, ok)
	assert.Len(t, stages, 3)

	doc, err = c.GeneratePipeline(context.Background(), "build me something nice", Context{})
	require.NoError(t, err)
	assert.Equal(t, "example-pipeline", doc["name"])
}

type flakyClient struct {
	fails int
	calls int
}

func (f *flakyClient) Name() string { return "flaky" }

func (f *flakyClient) GeneratePipeline(context.Context, string, Context) (map[string]any, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("upstream unavailable")
	}
	return map[string]any{"name": "real"}, nil
}

func (f *flakyClient) SelfCheck(context.Context, map[string]any, Context) (CheckResult, error) {
	return CheckResult{}, errors.New("upstream unavailable")
}

func (f *flakyClient) Summarize(context.Context, []model.Message, *model.FlowSummary) (Summary, error) {
	return Summary{}, errors.New("upstream unavailable")
}

func newResilient(inner Client) *Resilient {
	return NewResilient(inner, ResilientOptions{Timeout: time.Second, Retries: 2})
}

func TestResilientRetriesThenSucceeds(t *testing.T) {
	inner := &flakyClient{fails: 2}
	r := newResilient(inner)
	doc, err := r.GeneratePipeline(context.Background(), "orders", Context{})
	require.NoError(t, err)
	assert.Equal(t, "real", doc["name"])
	assert.Equal(t, 3, inner.calls)
}

func TestResilientFallsBackAfterExhaustion(t *testing.T) {
	inner := &flakyClient{fails: 100}
	r := newResilient(inner)

	doc, err := r.GeneratePipeline(context.Background(), "orders", Context{})
	require.NoError(t, err)
	assert.Equal(t, "orders", doc["name"], "static fallback answered")

	check, err := r.SelfCheck(context.Background(), doc, Context{})
	require.NoError(t, err)
	assert.NotEmpty(t, check.Notes)
}

func TestResilientStopsOnCanceledContext(t *testing.T) {
	inner := &flakyClient{fails: 100}
	r := newResilient(inner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.GeneratePipeline(ctx, "orders", Context{})
	assert.Error(t, err)
}
