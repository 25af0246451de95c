package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent process metrics
	AgentsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overseer_agents_active",
			Help: "Agent processes currently alive by role",
		},
		[]string{"role"},
	)

	AgentsHalted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overseer_agents_halted",
			Help: "Agent roles halted after exceeding max_restarts (1 = halted)",
		},
		[]string{"role"},
	)

	AgentRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_agent_restarts_total",
			Help: "Total number of agent restarts by role",
		},
		[]string{"role"},
	)

	AgentCrashesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_agent_crashes_total",
			Help: "Total number of detected agent crashes by role",
		},
		[]string{"role"},
	)

	AgentHeartbeatAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overseer_agent_heartbeat_age_seconds",
			Help: "Seconds since the last heartbeat was observed for a role",
		},
		[]string{"role"},
	)

	// Work-store metrics
	WorkClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_work_claims_total",
			Help: "Total number of successful work unit claims by role",
		},
		[]string{"role"},
	)

	WorkCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_work_completions_total",
			Help: "Total number of work units marked completed by role",
		},
		[]string{"role"},
	)

	WorkFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_work_failures_total",
			Help: "Total number of work units marked failed by role",
		},
		[]string{"role"},
	)

	WorkContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_work_contention_total",
			Help: "Total number of claim attempts that lost a race to another claimant",
		},
		[]string{"role"},
	)

	// Message bus metrics
	MessageBusDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overseer_message_bus_depth",
			Help: "Number of undelivered messages currently queued per inbox",
		},
		[]string{"role"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_messages_sent_total",
			Help: "Total number of messages sent by recipient role",
		},
		[]string{"role"},
	)

	MessagesDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_messages_dead_lettered_total",
			Help: "Total number of messages moved to the dead-letter directory",
		},
		[]string{"role"},
	)

	// Pipeline / duration metrics
	SpecsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "overseer_specs_created_total",
			Help: "Total number of technical specs written by the architect",
		},
	)

	StartupSkillDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overseer_startup_skill_duration_seconds",
			Help:    "Time taken by a role's startup skill to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	WorkClaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "overseer_work_claim_duration_seconds",
			Help:    "Time taken for a work-store claim transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	BackgroundWorkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overseer_background_work_duration_seconds",
			Help:    "Time taken by a single do_background_work tick by role",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	LLMInvokeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overseer_llm_invoke_duration_seconds",
			Help:    "Time taken by an LLM client invocation by role",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"role"},
	)

	LLMInvokeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overseer_llm_invoke_failures_total",
			Help: "Total number of failed LLM client invocations by role",
		},
		[]string{"role"},
	)
)

func init() {
	prometheus.MustRegister(AgentsActive)
	prometheus.MustRegister(AgentsHalted)
	prometheus.MustRegister(AgentRestartsTotal)
	prometheus.MustRegister(AgentCrashesTotal)
	prometheus.MustRegister(AgentHeartbeatAgeSeconds)

	prometheus.MustRegister(WorkClaimsTotal)
	prometheus.MustRegister(WorkCompletionsTotal)
	prometheus.MustRegister(WorkFailuresTotal)
	prometheus.MustRegister(WorkContentionTotal)

	prometheus.MustRegister(MessageBusDepth)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(MessagesDeadLetteredTotal)

	prometheus.MustRegister(SpecsCreatedTotal)
	prometheus.MustRegister(StartupSkillDuration)
	prometheus.MustRegister(WorkClaimDuration)
	prometheus.MustRegister(BackgroundWorkDuration)
	prometheus.MustRegister(LLMInvokeDuration)
	prometheus.MustRegister(LLMInvokeFailuresTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
