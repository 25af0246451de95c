/*
Package health provides a small checker taxonomy (HTTP, TCP, exec, and
file) reused by StartupSkills to run each role's bounded (<2s) startup
checks before an agent begins its background-work loop.

Each Checker reports a Result{Healthy, Message, CheckedAt, Duration}.
Config and Status track consecutive failures/successes across repeated
checks for callers that want a debounced health signal, though
StartupSkills itself only runs each check once per agent startup.

	checker := health.NewExecChecker([]string{"git", "--version"})
	result := checker.Check(ctx)

Exec checks verify required tools are on PATH (git); file checks verify
required paths exist (the roadmap, the bus directories); HTTP checks probe
remote reachability (the LLM API host) without asserting anything about
the response body.
*/
package health
