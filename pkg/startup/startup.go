// Package startup implements StartupSkills: the bounded bootstrap each
// agent runs once before entering its tick loop. It runs a small set of
// health.Checkers (required tools, reachable endpoints) concurrently,
// estimates the fraction of the agent's context budget already consumed
// by its accumulated state, and reports suggested fixes for anything
// that failed, all within a hard two-second budget.
package startup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobain/overseer/pkg/health"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/role"
)

// Budget is the hard wall-clock ceiling for one StartupSkills run.
const Budget = 2 * time.Second

// MaxContextBudgetFraction is the threshold past which a role is
// considered to be approaching its context window limit and should
// summarize or shed state before continuing.
const MaxContextBudgetFraction = 0.30

// CheckResult pairs a named checker with its outcome.
type CheckResult struct {
	Name   string
	Result health.Result
}

// ContextBudgetFunc estimates the fraction (0..1) of a role's context
// budget already in use. Supplied by the caller since the estimate is
// role-specific (e.g. size of accumulated conversation state, size of
// the work queue snapshot held in memory).
type ContextBudgetFunc func() float64

// Report is the outcome of one StartupSkills run.
type Report struct {
	Success              bool
	ContextBudgetFraction float64
	HealthChecks         []CheckResult
	ExecutionTime        time.Duration
	SuggestedFixes       []string
}

// Skill runs a role's startup checks.
type Skill struct {
	Role              role.Role
	Checks            map[string]health.Checker
	ContextBudgetFunc ContextBudgetFunc
}

// New constructs a Skill for ro with the given named checks. A nil
// ContextBudgetFunc is treated as always reporting 0.
func New(ro role.Role, checks map[string]health.Checker, budgetFn ContextBudgetFunc) *Skill {
	if budgetFn == nil {
		budgetFn = func() float64 { return 0 }
	}
	return &Skill{Role: ro, Checks: checks, ContextBudgetFunc: budgetFn}
}

// Run executes every configured check concurrently and returns within
// Budget regardless of how long an individual check takes: a check still
// running when the budget expires is reported as failed with a timeout
// message rather than blocking startup indefinitely.
func (s *Skill) Run(ctx context.Context) Report {
	start := time.Now()
	logger := log.WithComponent("startup").With().Str("role", string(s.Role)).Logger()

	ctx, cancel := context.WithTimeout(ctx, Budget)
	defer cancel()

	results := make([]CheckResult, 0, len(s.Checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, checker := range s.Checks {
		wg.Add(1)
		go func(name string, checker health.Checker) {
			defer wg.Done()
			r := checker.Check(ctx)
			mu.Lock()
			results = append(results, CheckResult{Name: name, Result: r})
			mu.Unlock()
		}(name, checker)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("startup checks did not complete within budget")
	}

	mu.Lock()
	final := append([]CheckResult(nil), results...)
	mu.Unlock()
	reported := make(map[string]bool, len(final))
	for _, cr := range final {
		reported[cr.Name] = true
	}
	for name := range s.Checks {
		if !reported[name] {
			final = append(final, CheckResult{Name: name, Result: health.Result{Healthy: false, Message: "did not complete within the startup budget"}})
		}
	}

	budgetFraction := s.ContextBudgetFunc()

	var fixes []string
	success := true
	for _, cr := range final {
		if !cr.Result.Healthy {
			success = false
			fixes = append(fixes, fmt.Sprintf("check %q failed: %s", cr.Name, cr.Result.Message))
		}
	}
	if budgetFraction > MaxContextBudgetFraction {
		fixes = append(fixes, fmt.Sprintf("context budget at %.0f%%, summarize or shed state before continuing", budgetFraction*100))
	}

	report := Report{
		Success:               success,
		ContextBudgetFraction: budgetFraction,
		HealthChecks:          final,
		ExecutionTime:         time.Since(start),
		SuggestedFixes:        fixes,
	}

	logger.Info().
		Bool("success", report.Success).
		Dur("execution_time", report.ExecutionTime).
		Float64("context_budget_fraction", report.ContextBudgetFraction).
		Msg("startup skill complete")

	return report
}
