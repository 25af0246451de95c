// Package agents implements role.Behavior for each of the six worker
// roles defined in pkg/role. Each role's type is a thin orchestration
// layer over the shared adapters (vcs.Adapter, llm.Client,
// roadmap.Reader, specstore.Store, workstore.Store, messagebus.Bus):
// the role's own logic is only "what to do," never "how to reach git,
// the LLM, or the buses."
package agents

import (
	"context"
	"sync"
	"time"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/role"
)

// Message kinds exchanged between roles. The bus never interprets
// these; they are a private contract between the senders and handlers
// below.
const (
	KindSpecRequest     = "spec_request"
	KindSpecReady       = "spec_ready"
	KindDemoRequest     = "demo_request"
	KindBugFixRequest   = "bug_fix_request"
	KindCommitReview    = "commit_review_request"
	KindDesignReview    = "design_review"
	KindCodeSnapshot    = "code_snapshot"
)

// sender is the subset of messagebus.Bus role implementations need to
// send outbound messages, declared locally so role files don't each
// re-import messagebus.Priority noise beyond what they use.
type sender interface {
	Send(from, to role.Role, kind string, body map[string]any, priority messagebus.Priority) (messagebus.Message, error)
}

// invokeLLM wraps one client call with the per-role duration and
// failure metrics every role's invocations share.
func invokeLLM(ctx context.Context, client llm.Client, r role.Role, prompt string, timeout time.Duration) (llm.Result, error) {
	timer := metrics.NewTimer()
	result, err := client.Invoke(ctx, prompt, timeout)
	timer.ObserveDurationVec(metrics.LLMInvokeDuration, string(r))
	if err != nil || !result.Success {
		metrics.LLMInvokeFailuresTotal.WithLabelValues(string(r)).Inc()
	}
	return result, err
}

// pendingSet is a small mutex-guarded set used to remember which
// roadmap/spec item numbers have an outstanding urgent request, so a
// background loop can prioritize them on its next tick.
type pendingSet struct {
	mu    sync.Mutex
	items map[int]bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{items: make(map[int]bool)}
}

func (p *pendingSet) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[n] = true
}

func (p *pendingSet) take(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items[n] {
		delete(p.items, n)
		return true
	}
	return false
}

func (p *pendingSet) any() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n := range p.items {
		return n, true
	}
	return 0, false
}
