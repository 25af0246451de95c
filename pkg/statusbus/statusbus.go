// Package statusbus implements the status-file side of agent coordination:
// one JSON file per role, written atomically (temp file + rename) and read
// with a small bounded retry so a reader never observes a half-written
// file. There is no subscription mechanism; consumers poll, matching the
// "status is an observable fact" design in the system's message-bus/
// state-bus split.
package statusbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobain/overseer/pkg/role"
)

// State is one of the four lifecycle states an agent reports.
type State string

const (
	StateStarting State = "starting"
	StateIdle     State = "idle"
	StateWorking  State = "working"
	StateStopping State = "stopping"
)

// CurrentTask formalizes the open-ended "current_task" field: a type tag,
// fractional progress, a short human status line, a start time, and an
// Extra bag for anything role-specific that doesn't warrant a named field.
type CurrentTask struct {
	Type      string         `json:"type"`
	Progress  float64        `json:"progress"`
	Status    string         `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Status is the per-role record written to the bus every tick.
type Status struct {
	Role            role.Role      `json:"role"`
	ProcessID       int            `json:"process_id"`
	State           State          `json:"state"`
	CurrentTask     *CurrentTask   `json:"current_task,omitempty"`
	LastHeartbeatTS time.Time      `json:"last_heartbeat_ts"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	Error           string         `json:"error,omitempty"`
}

// DefaultStaleAfter is the default threshold past which a status is
// considered stale (T_stale in the design).
const DefaultStaleAfter = 300 * time.Second

// Bus is a directory of per-role status files.
type Bus struct {
	Dir string
}

// New creates a Bus rooted at dir, creating the directory if needed.
func New(dir string) (*Bus, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statusbus: create dir: %w", err)
	}
	return &Bus{Dir: dir}, nil
}

func (b *Bus) path(ro role.Role) string {
	return filepath.Join(b.Dir, string(ro)+".json")
}

// Write publishes st atomically: it writes to a temp file in the same
// directory then renames over the final path, so readers never see a
// partially written file.
func (b *Bus) Write(st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("statusbus: marshal: %w", err)
	}

	final := b.path(st.Role)
	tmp := final + fmt.Sprintf(".tmp-%d", os.Getpid())

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statusbus: write temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statusbus: rename: %w", err)
	}
	return nil
}

// Read reads the status for ro, retrying a small bounded number of times
// if the file is mid-write (a transient JSON parse error) or momentarily
// missing just after creation.
func (b *Bus) Read(ro role.Role) (Status, error) {
	const attempts = 5
	const delay = 20 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := os.ReadFile(b.path(ro))
		if err != nil {
			lastErr = err
			time.Sleep(delay)
			continue
		}
		var st Status
		if err := json.Unmarshal(data, &st); err != nil {
			lastErr = err
			time.Sleep(delay)
			continue
		}
		return st, nil
	}
	return Status{}, fmt.Errorf("statusbus: read %s: %w", ro, lastErr)
}

// IsStale reports whether st's last heartbeat is older than staleAfter.
func IsStale(st Status, staleAfter time.Duration, now time.Time) bool {
	return now.Sub(st.LastHeartbeatTS) > staleAfter
}
