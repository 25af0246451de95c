// Package registry enforces at-most-one live process per agent role on a
// single host, using one lock file per role under the registry directory.
// A registration is live iff the pid recorded in its lock file still names
// a running process; stale entries are reclaimed by the next caller rather
// than left to rot.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/bobain/overseer/pkg/role"
)

// ErrAgentAlreadyRunning is returned by Register when a live registration
// already exists for the requested role.
var ErrAgentAlreadyRunning = errors.New("registry: agent already running for role")

// Registry is a file-backed role -> pid map rooted at Dir.
type Registry struct {
	Dir string
}

// New creates a Registry rooted at dir, creating the directory if needed.
func New(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create dir: %w", err)
	}
	return &Registry{Dir: dir}, nil
}

// Registration represents a held registry slot. Release must be called
// exactly once, typically via defer immediately after a successful
// Register, so the slot is freed on every exit path including panics
// recovered upstream.
type Registration struct {
	reg  *Registry
	role role.Role
}

func (r *Registry) lockPath(ro role.Role) string {
	return filepath.Join(r.Dir, string(ro)+".lock")
}

// Register attempts to acquire the singleton slot for ro on behalf of the
// current process. It first reclaims any stale entry (one whose recorded
// pid no longer exists), then does an exclusive create of the lock file so
// that concurrent registrations for the same role produce exactly one
// winner.
func (r *Registry) Register(ro role.Role) (*Registration, error) {
	path := r.lockPath(ro)

	if stale, err := r.isStale(path); err == nil && stale {
		_ = os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: role=%s", ErrAgentAlreadyRunning, ro)
		}
		return nil, fmt.Errorf("registry: open lock: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("registry: write pid: %w", err)
	}

	return &Registration{reg: r, role: ro}, nil
}

// Release removes the registration. It is safe to call more than once.
func (reg *Registration) Release() error {
	if reg == nil {
		return nil
	}
	err := os.Remove(reg.reg.lockPath(reg.role))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("registry: release: %w", err)
	}
	return nil
}

// isStale reports whether the lock file at path names a pid that is no
// longer running. A missing file is not stale (it simply isn't held).
func (r *Registry) isStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Corrupt lock file content; treat as stale so it gets reclaimed.
		return true, nil
	}

	return !processAlive(pid), nil
}

// processAlive reports whether pid names a currently running process by
// sending the null signal, the standard liveness probe on POSIX systems.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM means the process exists but is owned by another user; still
	// alive from our point of view.
	return errors.Is(err, syscall.EPERM)
}

// SweepStale removes every lock file among roles whose recorded pid no
// longer names a running process, returning the roles swept. The
// supervisor runs this each health tick so an agent that died without
// releasing its slot doesn't block its own restart.
func (r *Registry) SweepStale(roles []role.Role) []role.Role {
	var swept []role.Role
	for _, ro := range roles {
		path := r.lockPath(ro)
		stale, err := r.isStale(path)
		if err != nil || !stale {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if os.Remove(path) == nil {
			swept = append(swept, ro)
		}
	}
	return swept
}

// Snapshot returns the pid recorded for ro, and whether that pid is
// currently alive.
func (r *Registry) Snapshot(ro role.Role) (pid int, alive bool) {
	data, err := os.ReadFile(r.lockPath(ro))
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}
