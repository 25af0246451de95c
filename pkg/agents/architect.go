package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/roadmap"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/specstore"
	"github.com/bobain/overseer/pkg/vcs"
)

// SpecPutter is the subset of specstore.Store the architect needs.
type SpecPutter interface {
	Find(itemNumber int) (*specstore.Spec, error)
	Put(itemNumber int, content string) error
}

// Architect implements role.Behavior for the architect role: it keeps
// the spec pipeline ahead of code_developer by proactively writing
// specs for planned roadmap items.
type Architect struct {
	VCS        vcs.Adapter
	Roadmap    *roadmap.Reader
	Specs      SpecPutter
	LLM        llm.Client
	Bus        sender
	WorkBranch string
	TickBudget time.Duration
	urgent     *pendingSet
}

// NewArchitect constructs an Architect with its dependencies wired.
func NewArchitect(v vcs.Adapter, r *roadmap.Reader, s SpecPutter, l llm.Client, bus sender, workBranch string) *Architect {
	return &Architect{
		VCS:        v,
		Roadmap:    r,
		Specs:      s,
		LLM:        l,
		Bus:        bus,
		WorkBranch: workBranch,
		TickBudget: 50 * time.Second,
		urgent:     newPendingSet(),
	}
}

func (a *Architect) Role() role.Role { return role.Architect }

// DoBackgroundWork implements the architect protocol: refresh the branch, find
// the first planned item without a spec (urgent requests take
// priority), run the mandatory reuse check, invoke the LLM, write and
// commit the spec, and notify code_developer.
func (a *Architect) DoBackgroundWork(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.TickBudget)
	defer cancel()

	if err := a.VCS.Pull(ctx, a.WorkBranch); err != nil {
		log.Logger.Warn().Err(err).Msg("architect: pull failed, continuing with local state")
	}

	item, urgent, err := a.nextCandidate()
	if err != nil {
		return fmt.Errorf("architect: select candidate: %w", err)
	}
	if item == nil {
		return nil
	}

	reuseSummary := a.reuseCheck(ctx, *item)
	prompt := specCreationPrompt(*item, reuseSummary)

	result, err := invokeLLM(ctx, a.LLM, role.Architect, prompt, a.TickBudget/2)
	if err != nil {
		return fmt.Errorf("architect: llm invoke: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("architect: llm invoke unsuccessful: %s", result.Error)
	}

	if err := a.Specs.Put(item.Number, result.Content); err != nil {
		return fmt.Errorf("architect: write spec: %w", err)
	}

	if _, err := a.VCS.Commit(ctx, fmt.Sprintf("spec: add technical spec for priority %d", item.Number), true); err != nil {
		log.Logger.Warn().Err(err).Msg("architect: commit failed")
	}

	metrics.SpecsCreatedTotal.Inc()

	if urgent || a.urgent.take(item.Number) {
		if _, err := a.Bus.Send(role.Architect, role.CodeDeveloper, KindSpecReady,
			map[string]any{"item_number": item.Number}, messagebus.Normal); err != nil {
			log.Logger.Warn().Err(err).Msg("architect: failed to notify code_developer")
		}
	}

	return nil
}

// nextCandidate returns the next planned item lacking a spec, preferring
// any item with an outstanding urgent spec_request.
func (a *Architect) nextCandidate() (*roadmap.Item, bool, error) {
	if n, ok := a.urgent.any(); ok {
		items, err := a.Roadmap.ListItems()
		if err != nil {
			return nil, false, err
		}
		for i := range items {
			if items[i].Number == n {
				spec, err := a.Specs.Find(n)
				if err != nil {
					return nil, false, err
				}
				if spec == nil {
					return &items[i], true, nil
				}
			}
		}
	}

	items, err := a.Roadmap.ListItems()
	if err != nil {
		return nil, false, err
	}
	for i := range items {
		status := strings.ToLower(items[i].Status)
		if !strings.Contains(status, "planned") && !strings.Contains(items[i].Status, "📝") {
			continue
		}
		spec, err := a.Specs.Find(items[i].Number)
		if err != nil {
			return nil, false, err
		}
		if spec == nil {
			return &items[i], false, nil
		}
	}
	return nil, false, nil
}

// reuseCheck asks the LLM for a short analysis of which existing
// components the item could reuse, a mandatory input to the spec
// prompt. A failure here degrades to an empty summary rather than
// blocking spec creation.
func (a *Architect) reuseCheck(ctx context.Context, item roadmap.Item) string {
	prompt := fmt.Sprintf(
		"Identify existing components that priority %q could reuse instead of building new ones. Be brief.",
		item.Title)
	result, err := invokeLLM(ctx, a.LLM, role.Architect, prompt, 20*time.Second)
	if err != nil || !result.Success {
		return ""
	}
	return result.Content
}

func specCreationPrompt(item roadmap.Item, reuseSummary string) string {
	return fmt.Sprintf(
		"Write a technical specification for roadmap priority %d: %s.\n\nReuse analysis:\n%s\n\nRoadmap section:\n%s",
		item.Number, item.Title, reuseSummary, item.Content)
}

// HandleMessage implements message handling for architect: urgent
// spec_request messages preempt the next tick's candidate selection;
// design_review messages are logged for now, there being no reactive
// design-guidance skill wired yet.
func (a *Architect) HandleMessage(ctx context.Context, msg role.Message) error {
	switch msg.Kind {
	case KindSpecRequest:
		n, ok := itemNumberFromBody(msg.Body)
		if !ok {
			log.Logger.Warn().Str("from", string(msg.From)).Msg("architect: spec_request missing item_number")
			return nil
		}
		a.urgent.add(n)
		log.Logger.Info().Int("item_number", n).Str("priority", msg.Priority).Msg("architect: urgent spec request queued")
	case KindDesignReview:
		log.Logger.Info().Str("from", string(msg.From)).Msg("architect: design review noted")
	case KindCodeSnapshot:
		log.Logger.Info().Str("from", string(msg.From)).Msg("architect: code snapshot received")
	default:
		log.Logger.Debug().Str("kind", msg.Kind).Msg("architect: ignoring unknown message kind")
	}
	return nil
}

func itemNumberFromBody(body map[string]any) (int, bool) {
	v, ok := body["item_number"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
