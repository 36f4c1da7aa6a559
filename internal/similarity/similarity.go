// Package similarity finds existing pipelines that match a candidate
// document before a new one is generated. Exact matches compare canonical
// content hashes; fuzzy matches score trigram overlap of the canonical JSON
// text.
package similarity

import (
	"context"
	"errors"
	"strings"

	"github.com/dslhub/dslhub/internal/canonicaljson"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

// DefaultThreshold is the minimum fuzzy score considered a match.
const DefaultThreshold = 0.75

// maxTextLen bounds the canonical text used for trigram scoring.
const maxTextLen = 4000

// Match is a pipeline considered equivalent to the candidate document.
type Match struct {
	Pipeline model.Pipeline
	Score    float64
	Exact    bool
}

// Matcher scores candidate pipeline documents against a flow's existing
// pipelines.
type Matcher struct {
	pipelines store.Pipelines
	threshold float64
}

// New constructs a Matcher. A non-positive threshold falls back to
// DefaultThreshold.
func New(pipelines store.Pipelines, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{pipelines: pipelines, threshold: threshold}
}

// FindExisting returns the best match for candidate among the flow's
// pipelines, or nil when nothing reaches the threshold. An exact canonical
// hash hit scores 1.0 and wins outright.
func (m *Matcher) FindExisting(ctx context.Context, flowID string, candidate map[string]any) (*Match, error) {
	if len(candidate) == 0 {
		return nil, nil
	}
	if hash, err := canonicaljson.Hash(candidate); err == nil && len(hash) > 0 {
		p, err := m.pipelines.FindByHash(ctx, flowID, hash)
		switch {
		case err == nil:
			return &Match{Pipeline: p, Score: 1.0, Exact: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	return m.FindSimilarText(ctx, flowID, canonicaljson.Text(candidate))
}

// FindSimilarText scores the serialized request text against the flow's
// pipelines and returns the best fuzzy match, or nil when nothing reaches the
// threshold. Used for plain-text requests where no structured candidate is
// available.
func (m *Matcher) FindSimilarText(ctx context.Context, flowID, text string) (*Match, error) {
	want := trigrams(truncate(text, maxTextLen))
	if len(want) == 0 {
		return nil, nil
	}

	all, err := m.pipelines.ListForFlow(ctx, flowID, nil)
	if err != nil {
		return nil, err
	}
	var best *Match
	for _, p := range all {
		got := trigrams(truncate(canonicaljson.Text(p.Content), maxTextLen))
		score := jaccard(want, got)
		if score < m.threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{Pipeline: p, Score: score}
		}
	}
	return best, nil
}

// ExtractCandidate pulls a candidate pipeline document out of a user message
// content value: either an explicit "pipeline" field or a content object that
// itself looks like a pipeline.
func ExtractCandidate(content any) map[string]any {
	obj, ok := content.(map[string]any)
	if !ok {
		return nil
	}
	if p, ok := obj["pipeline"].(map[string]any); ok {
		return p
	}
	if _, ok := obj["stages"]; ok {
		return obj
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// trigrams returns the set of 3-grams of the normalized text.
func trigrams(s string) map[string]struct{} {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for g := range small {
		if _, ok := large[g]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
