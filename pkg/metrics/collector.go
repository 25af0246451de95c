package metrics

import "time"

// RegistrySnapshot reports the supervisor's current view of agent liveness,
// decoupled from the registry package itself to avoid an import cycle.
type RegistrySnapshot struct {
	Role             string
	Alive            bool
	Halted           bool
	Restarts         int
	HeartbeatAgeSecs float64
}

// WorkStoreSnapshot reports work-store throughput counters since the last
// collection tick.
type WorkStoreSnapshot struct {
	ClaimsByRole      map[string]int
	CompletionsByRole map[string]int
	FailuresByRole    map[string]int
}

// Source supplies the data a Collector polls on each tick. The supervisor
// implements it directly; tests can supply a fake.
type Source interface {
	AgentSnapshots() []RegistrySnapshot
	WorkStoreSnapshot() WorkStoreSnapshot
}

// Collector polls a Source on a fixed interval and updates the package-level
// Prometheus vectors, mirroring the supervisor's own health-check ticker.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over the given source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgentMetrics()
	c.collectWorkStoreMetrics()
}

func (c *Collector) collectAgentMetrics() {
	for _, snap := range c.source.AgentSnapshots() {
		active := 0.0
		if snap.Alive {
			active = 1
		}
		AgentsActive.WithLabelValues(snap.Role).Set(active)

		halted := 0.0
		if snap.Halted {
			halted = 1
		}
		AgentsHalted.WithLabelValues(snap.Role).Set(halted)

		AgentHeartbeatAgeSeconds.WithLabelValues(snap.Role).Set(snap.HeartbeatAgeSecs)
	}
}

func (c *Collector) collectWorkStoreMetrics() {
	snap := c.source.WorkStoreSnapshot()
	for role, n := range snap.ClaimsByRole {
		WorkClaimsTotal.WithLabelValues(role).Add(float64(n))
	}
	for role, n := range snap.CompletionsByRole {
		WorkCompletionsTotal.WithLabelValues(role).Add(float64(n))
	}
	for role, n := range snap.FailuresByRole {
		WorkFailuresTotal.WithLabelValues(role).Add(float64(n))
	}
}
