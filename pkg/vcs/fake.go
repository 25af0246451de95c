package vcs

import "context"

// Fake is an in-memory Adapter for exercising role behaviors without a
// real git checkout.
type Fake struct {
	Branch      string
	Clean       bool
	CommitCalls []string
	CommitErr   error
	CommitOK    bool
	HeadSHA     string
	PullErr     error
	RecordPRURL string
	RecordPRErr error
}

// NewFake constructs a Fake on branch, reporting a clean tree by default.
func NewFake(branch string) *Fake {
	return &Fake{Branch: branch, Clean: true, CommitOK: true}
}

func (f *Fake) CurrentBranch(ctx context.Context) (string, error) { return f.Branch, nil }

func (f *Fake) Pull(ctx context.Context, branch string) error { return f.PullErr }

func (f *Fake) IsClean(ctx context.Context) (bool, error) { return f.Clean, nil }

func (f *Fake) Commit(ctx context.Context, message string, addAll bool) (bool, error) {
	f.CommitCalls = append(f.CommitCalls, message)
	if f.CommitErr != nil {
		return false, f.CommitErr
	}
	if f.CommitOK {
		f.Clean = true
	}
	return f.CommitOK, nil
}

func (f *Fake) HeadCommit(ctx context.Context) (string, error) {
	if f.HeadSHA == "" {
		return "0000000000000000000000000000000000000000", nil
	}
	return f.HeadSHA, nil
}

func (f *Fake) RecordPR(ctx context.Context, title, body, base string) (string, error) {
	return f.RecordPRURL, f.RecordPRErr
}

func (f *Fake) BranchCreate(ctx context.Context, name string) error { return nil }

func (f *Fake) Checkout(ctx context.Context, name string) error {
	f.Branch = name
	return nil
}
