package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/roadmap"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/specstore"
	"github.com/bobain/overseer/pkg/vcs"
	"github.com/bobain/overseer/pkg/workstore"
)

// SpecFinder is the subset of specstore.Store the code_developer needs
// to resolve an item's governing spec.
type SpecFinder interface {
	Find(itemNumber int) (*specstore.Spec, error)
}

// CodeDeveloper implements role.Behavior for the code_developer role: it
// implements planned items one at a time, bounded by a per-item retry
// cap, committing only once the test command passes. When WorkStore is
// set, items come from the transactional work-claiming subsystem
// instead of the roadmap directly, selected by deployment
// configuration.
type CodeDeveloper struct {
	VCS         vcs.Adapter
	Roadmap     *roadmap.Reader
	Specs       SpecFinder
	LLM         llm.Client
	Bus         sender
	WorkBranch  string
	TestCommand []string
	MaxRetries  int
	TickBudget  time.Duration

	// WorkStore, WorkSpecs, Claimant, and PriorityNumber select the
	// WorkStore-backed claiming path. When WorkStore is nil, the
	// roadmap-backed path is used instead.
	WorkStore      *workstore.Store
	WorkSpecs      workstore.SpecFinder
	Claimant       string
	PriorityNumber int

	mu       sync.Mutex
	attempts map[int]int
	followUp *pendingSet
}

// NewCodeDeveloper constructs a roadmap-backed CodeDeveloper.
func NewCodeDeveloper(v vcs.Adapter, r *roadmap.Reader, s SpecFinder, l llm.Client, b sender, workBranch string, testCommand []string, maxRetries int) *CodeDeveloper {
	return &CodeDeveloper{
		VCS:         v,
		Roadmap:     r,
		Specs:       s,
		LLM:         l,
		Bus:         b,
		WorkBranch:  workBranch,
		TestCommand: testCommand,
		MaxRetries:  maxRetries,
		TickBudget:  240 * time.Second,
		attempts:    make(map[int]int),
		followUp:    newPendingSet(),
	}
}

// WithWorkStore switches c onto the WorkStore-backed claiming path for
// priorityNumber, claiming under claimant.
func (c *CodeDeveloper) WithWorkStore(store *workstore.Store, specs workstore.SpecFinder, claimant string, priorityNumber int) *CodeDeveloper {
	c.WorkStore = store
	c.WorkSpecs = specs
	c.Claimant = claimant
	c.PriorityNumber = priorityNumber
	return c
}

func (c *CodeDeveloper) Role() role.Role { return role.CodeDeveloper }

// DoBackgroundWork runs one bounded implementation attempt.
func (c *CodeDeveloper) DoBackgroundWork(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.TickBudget)
	defer cancel()

	if err := c.VCS.Pull(ctx, c.WorkBranch); err != nil {
		log.Logger.Warn().Err(err).Msg("code_developer: pull failed, continuing with local state")
	}

	if c.WorkStore != nil {
		return c.attemptWorkStoreUnit(ctx)
	}

	item, err := c.nextItem()
	if err != nil {
		return fmt.Errorf("code_developer: select item: %w", err)
	}
	if item == nil {
		return nil
	}

	spec, err := c.Specs.Find(item.Number)
	if err != nil {
		return fmt.Errorf("code_developer: find spec: %w", err)
	}
	if spec == nil {
		// Waiting on the architect is not an implementation attempt;
		// only real attempts count against the per-item retry cap.
		if _, sendErr := c.Bus.Send(role.CodeDeveloper, role.Architect, KindSpecRequest,
			map[string]any{"item_number": item.Number}, messagebus.Urgent); sendErr != nil {
			log.Logger.Warn().Err(sendErr).Msg("code_developer: failed to request spec")
		}
		return nil
	}

	if c.attemptCount(item.Number) >= c.MaxRetries {
		log.Logger.Warn().Int("item_number", item.Number).Msg("code_developer: max retries reached, skipping")
		return nil
	}

	return c.attemptImplementation(ctx, *item, spec.Content)
}

// attemptWorkStoreUnit implements the WorkStore-backed variant of
// the work-unit path: claim the next claimable unit for PriorityNumber, read
// its governing spec section, and run the same implement-test-commit
// sequence as the roadmap path, recording the commit against the unit.
func (c *CodeDeveloper) attemptWorkStoreUnit(ctx context.Context) error {
	next, err := c.WorkStore.NextWorkForPriority(ctx, c.PriorityNumber)
	if err != nil {
		return fmt.Errorf("code_developer: next_work_for_priority: %w", err)
	}
	if next == nil {
		return nil
	}

	claimTimer := metrics.NewTimer()
	ok, err := c.WorkStore.Claim(ctx, next.WorkID, c.Claimant)
	claimTimer.ObserveDuration(metrics.WorkClaimDuration)
	if err != nil {
		return fmt.Errorf("code_developer: claim: %w", err)
	}
	if !ok {
		metrics.WorkContentionTotal.WithLabelValues(string(role.CodeDeveloper)).Inc()
		log.Logger.Debug().Str("work_id", next.WorkID).Msg("code_developer: lost claim race, moving on")
		return nil
	}
	metrics.WorkClaimsTotal.WithLabelValues(string(role.CodeDeveloper)).Inc()

	specText, err := workstore.ReadSpecSection(next, c.WorkSpecs)
	if err != nil {
		_ = c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusFailed, err.Error())
		return fmt.Errorf("code_developer: read spec section: %w", err)
	}

	prompt := fmt.Sprintf("Implement work unit %s.\n\nGoverning spec:\n%s", next.WorkID, specText)
	result, err := invokeLLM(ctx, c.LLM, role.CodeDeveloper, prompt, c.TickBudget*3/4)
	if err != nil {
		_ = c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusFailed, err.Error())
		return fmt.Errorf("code_developer: llm invoke: %w", err)
	}
	if !result.Success {
		_ = c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusFailed, result.Error)
		return fmt.Errorf("code_developer: llm invoke unsuccessful: %s", result.Error)
	}

	clean, err := c.VCS.IsClean(ctx)
	if err != nil {
		return fmt.Errorf("code_developer: is_clean: %w", err)
	}
	if clean {
		return c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusCompleted, "")
	}

	output, passed := runTestCommand(ctx, ".", c.TestCommand)
	if !passed {
		log.Logger.Warn().Str("work_id", next.WorkID).Str("test_output", truncate(output, 2000)).
			Msg("code_developer: test run failed, not committing")
		return c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusFailed, "test command failed")
	}

	committed, err := c.VCS.Commit(ctx, fmt.Sprintf("implement %s", next.WorkID), true)
	if err != nil {
		return fmt.Errorf("code_developer: commit: %w", err)
	}
	if !committed {
		return c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusCompleted, "")
	}

	sha, err := c.VCS.HeadCommit(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("code_developer: failed to resolve head commit for commit record")
	}
	if _, err := c.WorkStore.RecordCommit(ctx, next.WorkID, c.Claimant, sha, fmt.Sprintf("implement %s", next.WorkID)); err != nil {
		log.Logger.Warn().Err(err).Msg("code_developer: failed to record commit")
	}
	if err := c.WorkStore.UpdateStatus(ctx, next.WorkID, workstore.StatusCompleted, ""); err != nil {
		return fmt.Errorf("code_developer: update status: %w", err)
	}

	metrics.WorkCompletionsTotal.WithLabelValues(string(role.CodeDeveloper)).Inc()

	if _, err := c.Bus.Send(role.CodeDeveloper, role.Assistant, KindDemoRequest,
		map[string]any{"work_id": next.WorkID}, messagebus.Normal); err != nil {
		log.Logger.Warn().Err(err).Msg("code_developer: failed to request demo")
	}
	return nil
}

func (c *CodeDeveloper) nextItem() (*roadmap.Item, error) {
	if n, ok := c.followUp.any(); ok {
		items, err := c.Roadmap.ListItems()
		if err != nil {
			return nil, err
		}
		for i := range items {
			if items[i].Number == n {
				c.followUp.take(n)
				return &items[i], nil
			}
		}
	}
	return c.Roadmap.NextPlanned()
}

func (c *CodeDeveloper) attemptImplementation(ctx context.Context, item roadmap.Item, spec string) error {
	prompt := implementationPrompt(item, spec)

	result, err := invokeLLM(ctx, c.LLM, role.CodeDeveloper, prompt, c.TickBudget*3/4)
	c.recordAttempt(item.Number)
	if err != nil {
		return fmt.Errorf("code_developer: llm invoke: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("code_developer: llm invoke unsuccessful: %s", result.Error)
	}

	clean, err := c.VCS.IsClean(ctx)
	if err != nil {
		return fmt.Errorf("code_developer: is_clean: %w", err)
	}
	if clean {
		log.Logger.Info().Int("item_number", item.Number).Msg("code_developer: no-op, tree unchanged")
		return nil
	}

	output, passed := runTestCommand(ctx, ".", c.TestCommand)
	if !passed {
		log.Logger.Warn().Int("item_number", item.Number).Str("test_output", truncate(output, 2000)).
			Msg("code_developer: test run failed, not committing")
		return nil
	}

	committed, err := c.VCS.Commit(ctx, fmt.Sprintf("implement priority %d: %s", item.Number, item.Title), true)
	if err != nil {
		return fmt.Errorf("code_developer: commit: %w", err)
	}
	if !committed {
		return nil
	}

	metrics.WorkCompletionsTotal.WithLabelValues(string(role.CodeDeveloper)).Inc()

	if _, err := c.Bus.Send(role.CodeDeveloper, role.Assistant, KindDemoRequest,
		map[string]any{"item_number": item.Number, "title": item.Title}, messagebus.Normal); err != nil {
		log.Logger.Warn().Err(err).Msg("code_developer: failed to request demo")
	}

	return nil
}

func (c *CodeDeveloper) recordAttempt(itemNumber int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[itemNumber]++
}

func (c *CodeDeveloper) attemptCount(itemNumber int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[itemNumber]
}

func implementationPrompt(item roadmap.Item, spec string) string {
	return fmt.Sprintf("Implement roadmap priority %d: %s.\n\nGoverning spec:\n%s", item.Number, item.Title, spec)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// HandleMessage implements message handling for code_developer:
// spec_ready is logged only (the next tick naturally retries the item);
// bug_fix_request enqueues a follow-up attempt on the referenced item.
func (c *CodeDeveloper) HandleMessage(ctx context.Context, msg role.Message) error {
	switch msg.Kind {
	case KindSpecReady:
		log.Logger.Info().Str("from", string(msg.From)).Msg("code_developer: spec ready, will retry next tick")
	case KindBugFixRequest:
		n, ok := itemNumberFromBody(msg.Body)
		if !ok {
			log.Logger.Warn().Msg("code_developer: bug_fix_request missing item_number")
			return nil
		}
		c.followUp.add(n)
		log.Logger.Info().Int("item_number", n).Msg("code_developer: bug fix follow-up queued")
	default:
		log.Logger.Debug().Str("kind", msg.Kind).Msg("code_developer: ignoring unknown message kind")
	}
	return nil
}
