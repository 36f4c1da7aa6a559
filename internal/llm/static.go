package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dslhub/dslhub/internal/model"
)

// Static is the deterministic model client. It backs the "static" provider
// setting and serves as the fallback when a real provider keeps failing, so
// the agent loop always completes.
type Static struct{}

var _ Client = Static{}

// NewStatic returns the deterministic client.
func NewStatic() Static { return Static{} }

// Name implements Client.
func (Static) Name() string { return "static" }

// GeneratePipeline returns a minimal three-stage pipeline. The requested name
// is derived from the prompt when it looks like a single token, otherwise the
// example name is used.
func (Static) GeneratePipeline(_ context.Context, prompt string, _ Context) (map[string]any, error) {
	return map[string]any{
		"name": pipelineName(prompt),
		"stages": []any{
			map[string]any{"name": "load", "type": "source"},
			map[string]any{"name": "transform", "type": "map"},
			map[string]any{"name": "save", "type": "sink"},
		},
	}, nil
}

// SelfCheck implements Client with a fixed advisory note.
func (Static) SelfCheck(_ context.Context, pipeline map[string]any, _ Context) (CheckResult, error) {
	notes := []string{"generated without model review"}
	if stages, ok := pipeline["stages"].([]any); ok && len(stages) == 0 {
		notes = append(notes, "pipeline has no stages")
	}
	return CheckResult{Notes: notes}, nil
}

// Summarize implements Client by compacting the conversation mechanically.
func (Static) Summarize(_ context.Context, messages []model.Message, prior *model.FlowSummary) (Summary, error) {
	var bullets []string
	for _, m := range messages {
		if m.Role != model.RoleUser {
			continue
		}
		text := renderContent(m.Content)
		if text == "" {
			continue
		}
		if len(text) > 120 {
			text = text[:120]
		}
		bullets = append(bullets, text)
		if len(bullets) == 5 {
			break
		}
	}
	summary := fmt.Sprintf("Conversation with %d messages.", len(messages))
	if prior != nil {
		summary = "Continues earlier work. " + summary
	}
	return Summary{Summary: summary, Bullets: bullets}, nil
}

// pipelineName guesses a slug-like name from the prompt, defaulting to the
// example name.
func pipelineName(prompt string) string {
	fields := strings.Fields(strings.TrimSpace(prompt))
	if len(fields) == 1 {
		name := strings.ToLower(fields[0])
		ok := name != ""
		for _, r := range name {
			if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
				ok = false
				break
			}
		}
		if ok {
			return name
		}
	}
	return "example-pipeline"
}
