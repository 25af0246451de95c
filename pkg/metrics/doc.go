/*
Package metrics defines the Prometheus gauges, counters, and histograms
exposed by the supervisor process at /metrics, plus a small Collector that
polls agent liveness and work-store throughput on a fixed tick the same
way the supervisor polls health.

Instrumentation falls into four groups: agent process metrics (active,
halted, restarts, heartbeat age, all labeled by role), work-store
throughput (claims, completions, failures, contention), message-bus depth
and delivery outcomes, and pipeline counters and timings (specs created,
startup skill duration, LLM invocation duration).

health.go additionally exposes /health, /ready, and /live handlers used by
external process supervisors (systemd, container orchestrators) wrapping
the overseer binary itself, distinct from the per-role health checks run
by StartupSkills.
*/
package metrics
