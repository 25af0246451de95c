package agents

import (
	"context"
	"fmt"

	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/roadmap"
	"github.com/bobain/overseer/pkg/role"
)

// Notifier is the external notification adapter the project_manager
// posts Definition-of-Done violations and reminders to (Slack, email,
// issue tracker comments). Kept as a minimal interface so tests can
// substitute an in-memory recorder.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// ProjectManager implements role.Behavior for the project_manager role.
// Its protocol is consultative: it never mutates code artifacts,
// producing only notifications and commit-review requests to architect.
type ProjectManager struct {
	Roadmap  *roadmap.Reader
	Notifier Notifier
	Bus      sender

	reviewed map[int]bool
}

// NewProjectManager constructs a ProjectManager.
func NewProjectManager(r *roadmap.Reader, n Notifier, bus sender) *ProjectManager {
	return &ProjectManager{Roadmap: r, Notifier: n, Bus: bus, reviewed: make(map[int]bool)}
}

func (p *ProjectManager) Role() role.Role { return role.ProjectManager }

// DoBackgroundWork follows up on items the roadmap marks complete: the
// first time an item is seen complete, it requests an architect review
// of the item's commit history. It does not itself check a completed
// item against a Definition-of-Done.
func (p *ProjectManager) DoBackgroundWork(ctx context.Context) error {
	items, err := p.Roadmap.ListItems()
	if err != nil {
		return fmt.Errorf("project_manager: list items: %w", err)
	}

	for _, item := range items {
		complete, err := p.Roadmap.IsComplete(item.Number)
		if err != nil {
			return fmt.Errorf("project_manager: is_complete: %w", err)
		}
		if !complete || p.reviewed[item.Number] {
			continue
		}

		if _, err := p.Bus.Send(role.ProjectManager, role.Architect, KindCommitReview,
			map[string]any{"item_number": item.Number, "title": item.Title}, messagebus.Normal); err != nil {
			log.Logger.Warn().Err(err).Msg("project_manager: failed to request commit review")
			continue
		}
		p.reviewed[item.Number] = true

		if err := p.Notifier.Notify(ctx, fmt.Sprintf("priority %d complete", item.Number),
			fmt.Sprintf("%q marked complete; commit review requested", item.Title)); err != nil {
			log.Logger.Warn().Err(err).Msg("project_manager: notify failed")
		}
	}
	return nil
}

// HandleMessage logs unexpected inbound kinds; the project_manager has
// no reactive message handling of its own beyond observation.
func (p *ProjectManager) HandleMessage(ctx context.Context, msg role.Message) error {
	log.Logger.Debug().Str("kind", msg.Kind).Str("from", string(msg.From)).Msg("project_manager: observed message")
	return nil
}
