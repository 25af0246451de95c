package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/roadmap"
	"github.com/bobain/overseer/pkg/role"
)

// uiKeywords flags roadmap items as UI-adjacent for the proactive review
// pass. A narrow, explicit list rather than a classifier, matching the
// scope of a role that only reviews, never implements.
var uiKeywords = []string{"ui", "ux", "design", "frontend", "interface", "layout", "dashboard", "css"}

// UXDesignExpert implements role.Behavior for the ux_design_expert role:
// it reacts to design_review requests from other roles and proactively
// reviews roadmap items whose title or content suggests UI-adjacent work.
type UXDesignExpert struct {
	Roadmap    *roadmap.Reader
	LLM        llm.Client
	Bus        sender
	TickBudget time.Duration

	reviewed map[int]bool
}

// NewUXDesignExpert constructs a UXDesignExpert.
func NewUXDesignExpert(r *roadmap.Reader, l llm.Client, bus sender) *UXDesignExpert {
	return &UXDesignExpert{Roadmap: r, LLM: l, Bus: bus, TickBudget: 60 * time.Second, reviewed: make(map[int]bool)}
}

func (u *UXDesignExpert) Role() role.Role { return role.UXDesignExpert }

// DoBackgroundWork implements the proactive half of the role:
// find the first UI-adjacent roadmap item not yet reviewed and send
// architect a design_review with the expert's notes.
func (u *UXDesignExpert) DoBackgroundWork(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, u.TickBudget)
	defer cancel()

	items, err := u.Roadmap.ListItems()
	if err != nil {
		return fmt.Errorf("ux_design_expert: list items: %w", err)
	}

	for _, item := range items {
		if u.reviewed[item.Number] || !isUIAdjacent(item) {
			continue
		}

		review, err := u.review(ctx, item.Title, item.Content)
		if err != nil {
			return fmt.Errorf("ux_design_expert: review: %w", err)
		}

		if _, err := u.Bus.Send(role.UXDesignExpert, role.Architect, KindDesignReview,
			map[string]any{"item_number": item.Number, "notes": review}, messagebus.Low); err != nil {
			log.Logger.Warn().Err(err).Msg("ux_design_expert: failed to send proactive review")
			return nil
		}
		u.reviewed[item.Number] = true
		return nil
	}
	return nil
}

func isUIAdjacent(item roadmap.Item) bool {
	haystack := strings.ToLower(item.Title + " " + item.Content)
	for _, kw := range uiKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func (u *UXDesignExpert) review(ctx context.Context, title, content string) (string, error) {
	prompt := fmt.Sprintf(
		"Review this planned work item for UI/UX concerns (consistency, accessibility, layout). Be brief.\n\n%s\n\n%s",
		title, content)
	result, err := invokeLLM(ctx, u.LLM, role.UXDesignExpert, prompt, u.TickBudget*3/4)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("llm invoke unsuccessful: %s", result.Error)
	}
	return result.Content, nil
}

// HandleMessage implements the reactive half of the role: a
// design_review request from another role gets an LLM-produced review
// sent back to the requester.
func (u *UXDesignExpert) HandleMessage(ctx context.Context, msg role.Message) error {
	if msg.Kind != KindDesignReview {
		log.Logger.Debug().Str("kind", msg.Kind).Msg("ux_design_expert: ignoring unknown message kind")
		return nil
	}

	title, _ := msg.Body["title"].(string)
	description, _ := msg.Body["description"].(string)

	review, err := u.review(ctx, title, description)
	if err != nil {
		return fmt.Errorf("ux_design_expert: review: %w", err)
	}

	if _, err := u.Bus.Send(role.UXDesignExpert, msg.From, KindDesignReview,
		map[string]any{"notes": review, "in_reply_to": msg.ID}, messagebus.Normal); err != nil {
		return fmt.Errorf("ux_design_expert: reply: %w", err)
	}
	return nil
}
