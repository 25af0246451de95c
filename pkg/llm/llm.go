// Package llm defines LLMClient: a single-operation interface the core
// depends on, kept opaque so role implementations never import a
// specific SDK. The default adapter in anthropic.go is the only file in
// this module that imports anthropic-sdk-go.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when Invoke did not complete within its timeout.
var ErrTimeout = errors.New("llm: invocation timed out")

// Usage reports token accounting for one invocation, when the backend
// supplies it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the outcome of one LLMClient.Invoke call.
type Result struct {
	Success bool
	Content string
	Usage   *Usage
	Error   string
}

// Client is the single operation the core requires of any LLM backend.
// A non-success Result must be treated by the caller as a retriable
// failure within the role's retry envelope.
type Client interface {
	Invoke(ctx context.Context, prompt string, timeout time.Duration) (Result, error)
}
