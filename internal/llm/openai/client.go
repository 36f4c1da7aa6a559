// Package openai adapts the OpenAI chat completions API to the llm.Client
// port.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/model"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter. It is
// satisfied by the SDK's chat completion service so tests can pass a mock.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Client implements llm.Client on top of OpenAI chat completions.
type Client struct {
	chat    ChatClient
	modelID string
}

var _ llm.Client = (*Client)(nil)

// New builds an adapter from a chat client and model identifier.
func New(chat ChatClient, modelID string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai chat client is required")
	}
	if modelID == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{chat: chat, modelID: modelID}, nil
}

// NewFromAPIKey constructs an adapter using the default SDK HTTP client.
func NewFromAPIKey(apiKey, modelID, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := sdk.NewClient(opts...)
	return New(&c.Chat.Completions, modelID)
}

// Name implements llm.Client.
func (c *Client) Name() string { return "openai" }

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
	resp, err := c.chat.New(ctx, sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.modelID),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(llm.SystemPrompt),
			sdk.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
