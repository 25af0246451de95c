package llm

import (
	"context"
	"time"
)

// Fake is a scripted Client for exercising role behaviors without a
// network call.
type Fake struct {
	Results []Result
	calls   int
	Prompts []string
}

// NewFake returns a Fake that yields results in order, repeating the
// last one once exhausted.
func NewFake(results ...Result) *Fake {
	return &Fake{Results: results}
}

func (f *Fake) Invoke(ctx context.Context, prompt string, timeout time.Duration) (Result, error) {
	f.Prompts = append(f.Prompts, prompt)
	if len(f.Results) == 0 {
		return Result{Success: true, Content: "ok"}, nil
	}
	idx := f.calls
	if idx >= len(f.Results) {
		idx = len(f.Results) - 1
	}
	f.calls++
	return f.Results[idx], nil
}
