package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient adapts the anthropic-sdk-go Messages API to Client.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient constructs a Client backed by the Anthropic Messages
// API. apiKey is read by the caller from its configured environment
// variable (see config.LLMConfig.APIKeyEnv) rather than by this package,
// keeping secret handling at the configuration boundary.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 8192,
	}
}

// Invoke sends prompt as a single user message and returns the
// concatenated text of the response's content blocks. timeout bounds
// the call independent of ctx's own deadline, since a tick's budget is
// shorter-lived than the Client's lifetime.
func (a *AnthropicClient) Invoke(ctx context.Context, prompt string, timeout time.Duration) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{Success: false, Error: ErrTimeout.Error()}, nil
		}
		return Result{Success: false, Error: err.Error()}, nil
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return Result{
		Success: true,
		Content: sb.String(),
		Usage: &Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
