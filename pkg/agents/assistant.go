package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/role"
)

// BugTracker is the external bug-filing adapter the assistant uses when
// a demo fails, kept minimal so tests can substitute an in-memory
// recorder rather than a real issue tracker.
type BugTracker interface {
	FileBug(ctx context.Context, title, body string) (url string, err error)
}

// Assistant implements role.Behavior for the assistant role. It is
// read-only with respect to implementation code: its only artifacts are
// demo write-ups and filed bug reports.
type Assistant struct {
	LLM        llm.Client
	BugTracker BugTracker
	Bus        sender
	TickBudget time.Duration
}

// NewAssistant constructs an Assistant.
func NewAssistant(l llm.Client, bt BugTracker, bus sender) *Assistant {
	return &Assistant{LLM: l, BugTracker: bt, Bus: bus, TickBudget: 60 * time.Second}
}

func (a *Assistant) Role() role.Role { return role.Assistant }

// DoBackgroundWork is a no-op for assistant: all of its work happens
// reactively in HandleMessage, consuming demo_request messages as they
// arrive rather than on a fixed schedule.
func (a *Assistant) DoBackgroundWork(ctx context.Context) error {
	return nil
}

// HandleMessage reacts to demo requests: demo_request produces a short
// demo artifact via the LLM and, if the demo describes a failure, files
// a bug report.
func (a *Assistant) HandleMessage(ctx context.Context, msg role.Message) error {
	if msg.Kind != KindDemoRequest {
		log.Logger.Debug().Str("kind", msg.Kind).Msg("assistant: ignoring unknown message kind")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.TickBudget)
	defer cancel()

	prompt := fmt.Sprintf("Write a short demo write-up for: %v", msg.Body)
	result, err := invokeLLM(ctx, a.LLM, role.Assistant, prompt, a.TickBudget)
	if err != nil {
		return fmt.Errorf("assistant: llm invoke: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("assistant: llm invoke unsuccessful: %s", result.Error)
	}

	if demoFailed(result.Content) {
		url, err := a.BugTracker.FileBug(ctx, "demo failed", result.Content)
		if err != nil {
			log.Logger.Warn().Err(err).Msg("assistant: failed to file bug report")
		} else {
			log.Logger.Info().Str("url", url).Msg("assistant: filed bug report for failing demo")
			if _, err := a.Bus.Send(role.Assistant, role.ProjectManager, KindCommitReview,
				map[string]any{"bug_url": url}, messagebus.Normal); err != nil {
				log.Logger.Warn().Err(err).Msg("assistant: failed to notify project_manager of bug")
			}
		}
	}

	return nil
}

func demoFailed(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "fail") || strings.Contains(lower, "error") || strings.Contains(lower, "broken")
}
