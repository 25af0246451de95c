// Package vcs implements VCSAdapter: the only component permitted to
// shell out to git. Every agent role that produces artifacts goes
// through this package rather than invoking exec.Command directly,
// keeping the core testable against a fake VCSAdapter.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Adapter is the VCSAdapter contract the core consumes.
type Adapter interface {
	CurrentBranch(ctx context.Context) (string, error)
	Pull(ctx context.Context, branch string) error
	IsClean(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string, addAll bool) (bool, error)
	HeadCommit(ctx context.Context) (string, error)
	RecordPR(ctx context.Context, title, body, base string) (string, error)
	BranchCreate(ctx context.Context, name string) error
	Checkout(ctx context.Context, name string) error
}

// Git is a GitAdapter backed by the git CLI on PATH.
type Git struct {
	// Dir is the working tree git commands run in.
	Dir string

	// CommitRetries bounds retries of Commit when a pre-commit hook
	// modifies the tree after staging (the hook's changes must be
	// re-staged and the commit retried).
	CommitRetries int

	// PRDisabled suppresses RecordPR, returning an empty URL with no
	// error, for configurations that don't integrate a PR host.
	PRDisabled bool
}

// New constructs a Git adapter rooted at dir.
func New(dir string) *Git {
	return &Git{Dir: dir, CommitRetries: 3}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("vcs: git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the name of the currently checked-out branch.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadCommit returns the full SHA of the current HEAD, used to attribute
// a WorkStore CommitRecord to the commit it describes.
func (g *Git) HeadCommit(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// Pull fast-forwards branch from its upstream, failing rather than
// merging or rebasing on divergence.
func (g *Git) Pull(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "pull", "--ff-only", "origin", branch)
	return err
}

// IsClean reports whether the working tree has no staged or unstaged
// changes.
func (g *Git) IsClean(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// Commit stages (if addAll) and commits with message. It retries up to
// CommitRetries times if a hook rewrites the tree after staging, the
// retry re-staging whatever the hook left behind. Returns ok=false (no
// error) if there was nothing to commit.
func (g *Git) Commit(ctx context.Context, message string, addAll bool) (bool, error) {
	attempts := g.CommitRetries
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if addAll {
			if _, err := g.run(ctx, "add", "-A"); err != nil {
				return false, err
			}
		}

		clean, err := g.IsClean(ctx)
		if err != nil {
			return false, err
		}
		if clean {
			return false, nil
		}

		_, err = g.run(ctx, "commit", "-m", message)
		if err == nil {
			return true, nil
		}
		if attempt == attempts-1 {
			return false, fmt.Errorf("vcs: commit failed after %d attempts: %w", attempts, err)
		}
		// A hook likely modified the tree; loop to re-stage and retry.
	}
	return false, fmt.Errorf("vcs: commit: exhausted retries")
}

// RecordPR is a no-op returning an empty URL when PRDisabled, since the
// core has no dependency on a specific PR host's API.
func (g *Git) RecordPR(ctx context.Context, title, body, base string) (string, error) {
	if g.PRDisabled {
		return "", nil
	}
	return "", fmt.Errorf("vcs: RecordPR requires a configured PR host adapter, none wired")
}

// BranchCreate creates name from the current HEAD without checking it out.
func (g *Git) BranchCreate(ctx context.Context, name string) error {
	_, err := g.run(ctx, "branch", name)
	return err
}

// Checkout switches to branch name.
func (g *Git) Checkout(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", name)
	return err
}

// DefaultTimeout is the per-call budget VCS operations are expected to
// complete within, guarding against a hung git process blocking a tick.
const DefaultTimeout = 30 * time.Second
