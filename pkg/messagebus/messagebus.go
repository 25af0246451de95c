// Package messagebus implements the inbox side of agent coordination.
// Each role owns a directory; Send writes one file per message via
// temp+rename so concurrent senders never interleave; Drain claims every
// file currently present by renaming it into a .claiming/ subdirectory,
// then deletes each on successful handling or moves it to dead-letter/ on
// failure. This gives exactly-once delivery within a host session: a
// message can never be left in the inbox in a half-claimed state.
package messagebus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/role"
)

// Priority orders message delivery within one drain call: urgent before
// normal before low, FIFO (by CreatedAt) within a priority level.
type Priority string

const (
	Urgent Priority = "urgent"
	Normal Priority = "normal"
	Low    Priority = "low"
)

func priorityRank(p Priority) int {
	switch p {
	case Urgent:
		return 0
	case Normal:
		return 1
	case Low:
		return 2
	default:
		return 1
	}
}

// Message is the serialized unit exchanged between roles. Kind is an open
// set of symbols (spec_request, spec_ready, demo_request, ...); the bus
// itself never interprets Kind.
type Message struct {
	ID        string         `json:"id"`
	From      role.Role      `json:"from_role"`
	To        role.Role      `json:"to_role"`
	Kind      string         `json:"kind"`
	Priority  Priority       `json:"priority"`
	Body      map[string]any `json:"body,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Bus manages one inbox directory tree per role under Dir.
type Bus struct {
	Dir string
}

// New creates a Bus rooted at dir.
func New(dir string) (*Bus, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("messagebus: create dir: %w", err)
	}
	return &Bus{Dir: dir}, nil
}

func (b *Bus) inboxDir(ro role.Role) string  { return filepath.Join(b.Dir, string(ro)) }
func (b *Bus) claimDir(ro role.Role) string  { return filepath.Join(b.Dir, string(ro), ".claiming") }
func (b *Bus) deadDir(ro role.Role) string   { return filepath.Join(b.Dir, string(ro), "dead-letter") }

func (b *Bus) ensureDirs(ro role.Role) error {
	for _, d := range []string{b.inboxDir(ro), b.claimDir(ro), b.deadDir(ro)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("messagebus: create %s: %w", d, err)
		}
	}
	return nil
}

// Send enqueues a message into to's inbox. Delivery is atomic: the
// message is written to a temp file then renamed into place, so a
// concurrent Drain either sees the whole file or none of it.
func (b *Bus) Send(from, to role.Role, kind string, body map[string]any, priority Priority) (Message, error) {
	if err := b.ensureDirs(to); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Priority:  priority,
		Body:      body,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("messagebus: marshal: %w", err)
	}

	final := filepath.Join(b.inboxDir(to), msg.ID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Message{}, fmt.Errorf("messagebus: write temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return Message{}, fmt.Errorf("messagebus: rename: %w", err)
	}
	metrics.MessagesSentTotal.WithLabelValues(string(to)).Inc()
	return msg, nil
}

// Claimed is one message pulled out of the inbox by Drain, still awaiting
// Ack or DeadLetter.
type Claimed struct {
	Message Message
	path    string // path in the .claiming/ subdirectory
}

// Drain atomically claims every message currently in ro's inbox by
// renaming each file into .claiming/, then returns them sorted by
// (priority, created_at). A message that fails to parse is moved
// straight to dead-letter and skipped rather than blocking the drain.
func (b *Bus) Drain(ro role.Role) ([]Claimed, error) {
	if err := b.ensureDirs(ro); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.inboxDir(ro))
	if err != nil {
		return nil, fmt.Errorf("messagebus: list inbox: %w", err)
	}

	var claimed []Claimed
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		src := filepath.Join(b.inboxDir(ro), e.Name())
		dst := filepath.Join(b.claimDir(ro), e.Name())
		if err := os.Rename(src, dst); err != nil {
			// Another process (shouldn't happen; only the owner drains)
			// or the file vanished between ReadDir and Rename; skip it.
			continue
		}

		data, err := os.ReadFile(dst)
		if err != nil {
			_ = b.moveToDeadLetter(ro, dst, e.Name())
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = b.moveToDeadLetter(ro, dst, e.Name())
			continue
		}
		claimed = append(claimed, Claimed{Message: msg, path: dst})
	}

	sort.SliceStable(claimed, func(i, j int) bool {
		pi, pj := priorityRank(claimed[i].Message.Priority), priorityRank(claimed[j].Message.Priority)
		if pi != pj {
			return pi < pj
		}
		return claimed[i].Message.CreatedAt.Before(claimed[j].Message.CreatedAt)
	})

	return claimed, nil
}

// Ack deletes a successfully handled claimed message.
func (b *Bus) Ack(c Claimed) error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("messagebus: ack: %w", err)
	}
	return nil
}

// DeadLetter moves a claimed message whose handler failed into the
// role's dead-letter directory instead of deleting it, so failures are
// inspectable rather than silently dropped.
func (b *Bus) DeadLetter(ro role.Role, c Claimed) error {
	return b.moveToDeadLetter(ro, c.path, filepath.Base(c.path))
}

func (b *Bus) moveToDeadLetter(ro role.Role, src, name string) error {
	dst := filepath.Join(b.deadDir(ro), name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("messagebus: dead-letter: %w", err)
	}
	return nil
}

// Depth returns the number of messages currently queued (not yet drained)
// in ro's inbox, used by the supervisor's health tick to set the
// message-bus depth gauge.
func (b *Bus) Depth(ro role.Role) (int, error) {
	entries, err := os.ReadDir(b.inboxDir(ro))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("messagebus: depth: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n, nil
}
