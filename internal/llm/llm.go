// Package llm defines the port the agent uses to talk to language models:
// pipeline generation, self-checking and summarization. Provider adapters
// live in subpackages; Static is the deterministic fallback used when no
// provider is configured or every retry failed.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dslhub/dslhub/internal/canonicaljson"
	"github.com/dslhub/dslhub/internal/model"
)

// Context carries the authoring context assembled for a model call.
type Context struct {
	SchemaDef      model.SchemaDefinition
	FlowSummary    *model.FlowSummary
	ActivePipeline *model.Pipeline
	Messages       []model.Message
}

// CheckResult is the outcome of a self-check pass over a generated pipeline.
type CheckResult struct {
	Notes []string `json:"notes"`
	Risks []string `json:"risks"`
}

// Summary is a model-produced digest of a conversation.
type Summary struct {
	Summary string   `json:"summary"`
	Bullets []string `json:"bullets"`
}

// Client is the model port. Implementations must honor ctx cancellation.
type Client interface {
	// Name identifies the provider ("openai", "anthropic", "static").
	Name() string
	// GeneratePipeline produces a pipeline document for the prompt that
	// should conform to lctx.SchemaDef.
	GeneratePipeline(ctx context.Context, prompt string, lctx Context) (map[string]any, error)
	// SelfCheck reviews a generated pipeline for soft issues.
	SelfCheck(ctx context.Context, pipeline map[string]any, lctx Context) (CheckResult, error)
	// Summarize digests a conversation, folding in the prior flow summary
	// when present.
	Summarize(ctx context.Context, messages []model.Message, prior *model.FlowSummary) (Summary, error)
}

// GeneratePrompt renders the user prompt for pipeline generation.
func GeneratePrompt(prompt string, lctx Context) string {
	var b strings.Builder
	b.WriteString("Produce a pipeline document as a single JSON object conforming to this JSON schema:\n")
	b.WriteString(canonicaljson.Text(lctx.SchemaDef.Schema))
	b.WriteString("\n")
	if lctx.FlowSummary != nil {
		b.WriteString("\nContext from earlier work on this flow:\n")
		b.WriteString(canonicaljson.Text(lctx.FlowSummary.Content))
		b.WriteString("\n")
	}
	if lctx.ActivePipeline != nil {
		fmt.Fprintf(&b, "\nThe currently published pipeline (version %s):\n", lctx.ActivePipeline.Version)
		b.WriteString(canonicaljson.Text(lctx.ActivePipeline.Content))
		b.WriteString("\n")
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nRespond with the JSON object only.")
	return b.String()
}

// SelfCheckPrompt renders the user prompt for the self-check pass.
func SelfCheckPrompt(pipeline map[string]any, lctx Context) string {
	var b strings.Builder
	b.WriteString("Review this pipeline document against the schema and list concerns.\n")
	b.WriteString("Schema:\n")
	b.WriteString(canonicaljson.Text(lctx.SchemaDef.Schema))
	b.WriteString("\nPipeline:\n")
	b.WriteString(canonicaljson.Text(pipeline))
	b.WriteString("\n\nRespond with a JSON object {\"notes\": [...], \"risks\": [...]} only.")
	return b.String()
}

// SummarizePrompt renders the user prompt for conversation summarization.
func SummarizePrompt(messages []model.Message, prior *model.FlowSummary) string {
	var b strings.Builder
	b.WriteString("Summarize this authoring conversation.\n")
	if prior != nil {
		b.WriteString("Prior summary:\n")
		b.WriteString(canonicaljson.Text(prior.Content))
		b.WriteString("\n")
	}
	b.WriteString("Conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, renderContent(m.Content))
	}
	b.WriteString("\nRespond with a JSON object {\"summary\": \"...\", \"bullets\": [...]} only.")
	return b.String()
}

func renderContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
		return canonicaljson.Text(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SystemPrompt is shared by provider adapters.
const SystemPrompt = "You are a pipeline authoring assistant. You output strict JSON with no surrounding prose."
