// Package anthropic adapts the Anthropic Messages API to the llm.Client
// port.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/model"
)

const defaultMaxTokens = 4096

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. It is satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements llm.Client on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	modelID   string
	maxTokens int64
}

var _ llm.Client = (*Client)(nil)

// New builds an adapter from a messages client and model identifier.
func New(msg MessagesClient, modelID string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if modelID == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{msg: msg, modelID: modelID, maxTokens: defaultMaxTokens}, nil
}

// NewFromAPIKey constructs an adapter using the default SDK HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, modelID)
}

// Name implements llm.Client.
func (c *Client) Name() string { return "anthropic" }

// GeneratePipeline implements llm.Client.
func (c *Client) GeneratePipeline(ctx context.Context, prompt string, lctx llm.Context) (map[string]any, error) {
	raw, err := c.complete(ctx, llm.GeneratePrompt(prompt, lctx))
	if err != nil {
		return nil, err
	}
	return llm.ParseJSONObject(raw)
}

// SelfCheck implements llm.Client.
func (c *Client) SelfCheck(ctx context.Context, pipeline map[string]any, lctx llm.Context) (llm.CheckResult, error) {
	raw, err := c.complete(ctx, llm.SelfCheckPrompt(pipeline, lctx))
	if err != nil {
		return llm.CheckResult{}, err
	}
	var out llm.CheckResult
	if err := llm.DecodeInto(raw, &out); err != nil {
		return llm.CheckResult{}, err
	}
	return out, nil
}

// Summarize implements llm.Client.
func (c *Client) Summarize(ctx context.Context, messages []model.Message, prior *model.FlowSummary) (llm.Summary, error) {
	raw, err := c.complete(ctx, llm.SummarizePrompt(messages, prior))
	if err != nil {
		return llm.Summary{}, err
	}
	var out llm.Summary
	if err := llm.DecodeInto(raw, &out); err != nil {
		return llm.Summary{}, err
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.modelID),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: llm.SystemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Text != "" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic completion returned no text")
	}
	return b.String(), nil
}
