// Package supervisor implements the seventh agent: the process that
// launches the six worker roles as subprocesses, watches their liveness
// and heartbeats every health tick, restarts crashed children under
// exponential backoff, halts a role once it exhausts its restart
// budget, and appends crash reports and health records as it goes. It
// is itself driven by the same agent loop as every other role, so it
// has its own registration, status file, and heartbeat.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobain/overseer/pkg/config"
	"github.com/bobain/overseer/pkg/events"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/registry"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/statusbus"
	"github.com/bobain/overseer/pkg/types"
	"github.com/bobain/overseer/pkg/vcs"
	"github.com/bobain/overseer/pkg/workstore"
)

// ErrWrongBranch is returned by CheckWorkBranch when the working tree is
// not on the configured work branch. The supervisor refuses to launch in
// that state.
var ErrWrongBranch = errors.New("supervisor: not on configured work branch")

// LaunchFunc starts one agent subprocess for r and returns its running
// Cmd. Tests substitute short-lived shell commands for the re-exec.
type LaunchFunc func(r role.Role) (*exec.Cmd, error)

// SelfLaunch returns the production LaunchFunc: re-exec the current
// binary as `agent --role <r> --config <configPath>`, inheriting
// stdout/stderr so all seven processes share one log stream.
func SelfLaunch(configPath string) LaunchFunc {
	return func(r role.Role) (*exec.Cmd, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("supervisor: resolve executable: %w", err)
		}
		args := []string{"agent", "--role", string(r)}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		cmd := exec.Command(self, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("supervisor: start %s: %w", r, err)
		}
		return cmd, nil
	}
}

// child tracks one supervised subprocess across restarts.
type child struct {
	role      role.Role
	cmd       *exec.Cmd
	pid       int
	alive     bool
	halted    bool
	restarts  int
	lastStart time.Time
	lastExit  time.Time
	exitErr   error
	startedAt time.Time
}

type exitNotice struct {
	role role.Role
	pid  int
	err  error
	at   time.Time
}

// Supervisor implements role.Behavior for the supervisor role. It also
// implements metrics.Source, so a metrics.Collector can poll it from
// its own goroutine; the children map is mutex-guarded for exactly that
// reason, even though the tick loop itself is single-threaded.
type Supervisor struct {
	Cfg      config.Config
	Registry *registry.Registry
	Status   *statusbus.Bus
	Bus      *messagebus.Bus
	Records  *RecordStore
	Broker   *events.Broker
	Work     *workstore.Store

	// Launch starts one child; SelfLaunch in production, a scripted
	// command in tests.
	Launch LaunchFunc

	// Stagger is the delay between consecutive child launches at
	// startup, avoiding six processes registering and pulling at once.
	Stagger time.Duration

	// OnShutdownRequest, when set, is invoked on a shutdown_request
	// message so the hosting loop can stop cleanly.
	OnShutdownRequest func()

	now      func() time.Time
	launched bool
	exitCh   chan exitNotice
	lastTick time.Time
	lastSeen types.HealthState
	logger   zerolog.Logger

	mu       sync.Mutex
	children map[role.Role]*child

	workMu         sync.Mutex
	lastWorkCounts map[workstore.Status]int
}

// New constructs a Supervisor over its shared stores.
func New(cfg config.Config, reg *registry.Registry, status *statusbus.Bus, bus *messagebus.Bus, records *RecordStore, broker *events.Broker, launch LaunchFunc) *Supervisor {
	return &Supervisor{
		Cfg:      cfg,
		Registry: reg,
		Status:   status,
		Bus:      bus,
		Records:  records,
		Broker:   broker,
		Launch:   launch,
		Stagger:  2 * time.Second,
		now:      time.Now,
		children: make(map[role.Role]*child),
		exitCh:   make(chan exitNotice, len(role.Agents)*2),
		logger:   log.WithComponent("supervisor"),
	}
}

func (s *Supervisor) Role() role.Role { return role.Supervisor }

// CheckWorkBranch enforces the launch precondition: the working tree
// must be on the configured work branch. Refusal to launch is fatal, so
// this runs before the agent loop starts, not inside a tick.
func CheckWorkBranch(ctx context.Context, adapter vcs.Adapter, want string) error {
	branch, err := adapter.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: read current branch: %w", err)
	}
	if branch != want {
		return fmt.Errorf("%w: on %q, want %q", ErrWrongBranch, branch, want)
	}
	return nil
}

// DoBackgroundWork runs one health tick: reap exits, launch or restart
// children, flag stale heartbeats, sweep zombie registrations, refresh
// component health, and persist the aggregate view.
func (s *Supervisor) DoBackgroundWork(ctx context.Context) error {
	tickStart := s.now()
	var actions, reports []string

	if !s.launched {
		actions = append(actions, s.launchAll(ctx)...)
		s.launched = true
	}

	s.drainExits()

	crashActions, crashReports := s.reconcile(ctx)
	actions = append(actions, crashActions...)
	reports = append(reports, crashReports...)

	zombies := s.Registry.SweepStale(role.Agents)
	for _, z := range zombies {
		actions = append(actions, fmt.Sprintf("reaped zombie registration for %s", z))
	}

	stale := s.checkHeartbeats()
	s.updateComponentHealth(ctx, stale)

	if err := s.writeSummary(); err != nil {
		s.logger.Error().Err(err).Msg("failed to write supervisor summary")
	}

	status := s.overallHealth(stale)
	if len(actions) > 0 || len(reports) > 0 || status != s.lastSeen {
		s.appendHealthRecord(ctx, status, len(zombies), tickStart, actions, reports)
		s.lastSeen = status
	}

	s.lastTick = tickStart
	return nil
}

// launchAll starts every enabled role in declared priority order,
// staggered to avoid startup contention.
func (s *Supervisor) launchAll(ctx context.Context) []string {
	roles := append([]role.Role(nil), s.Cfg.EnableRoles...)
	sort.SliceStable(roles, func(i, j int) bool {
		return role.Priority(roles[i]) < role.Priority(roles[j])
	})

	var actions []string
	for i, r := range roles {
		if i > 0 && s.Stagger > 0 {
			select {
			case <-ctx.Done():
				return actions
			case <-time.After(s.Stagger):
			}
		}
		if err := s.startChild(r); err != nil {
			s.logger.Error().Err(err).Str("role", string(r)).Msg("initial launch failed")
			continue
		}
		actions = append(actions, fmt.Sprintf("launched %s", r))
	}
	return actions
}

func (s *Supervisor) startChild(r role.Role) error {
	cmd, err := s.Launch(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.children[r]
	if !ok {
		c = &child{role: r, startedAt: s.now()}
		s.children[r] = c
	}
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.alive = true
	c.lastStart = s.now()
	pid := c.pid
	s.mu.Unlock()

	// Reap in a goroutine so no child ever becomes a zombie; the tick
	// loop consumes the notice on its next pass.
	go func(r role.Role, pid int, cmd *exec.Cmd) {
		err := cmd.Wait()
		s.exitCh <- exitNotice{role: r, pid: pid, err: err, at: time.Now()}
	}(r, pid, cmd)

	s.logger.Info().Str("role", string(r)).Int("pid", pid).Msg("child started")
	return nil
}

func (s *Supervisor) drainExits() {
	for {
		select {
		case n := <-s.exitCh:
			s.mu.Lock()
			c, ok := s.children[n.role]
			if ok && c.pid == n.pid {
				c.alive = false
				c.lastExit = n.at
				c.exitErr = n.err
			}
			s.mu.Unlock()
			if ok {
				s.logger.Warn().Str("role", string(n.role)).Int("pid", n.pid).Err(n.err).Msg("child exited")
			}
		default:
			return
		}
	}
}

// reconcile applies restart policy to every dead child: below the
// backoff threshold it waits, below max_restarts it restarts, at the
// cap it halts the role for good.
func (s *Supervisor) reconcile(ctx context.Context) (actions, reports []string) {
	for _, r := range s.Cfg.EnableRoles {
		s.mu.Lock()
		c, ok := s.children[r]
		if !ok || c.alive || c.halted {
			s.mu.Unlock()
			continue
		}
		restarts := c.restarts
		pid := c.pid
		lastExit := c.lastExit
		lastStart := c.lastStart
		exitErr := c.exitErr
		s.mu.Unlock()

		if restarts >= s.Cfg.MaxRestartsPerAgent {
			s.mu.Lock()
			c.halted = true
			s.mu.Unlock()

			reportID := uuid.NewString()
			if _, err := s.Records.AppendCrash(ctx, types.CrashReport{
				Role:         string(r),
				ProcessID:    pid,
				CrashedAt:    lastExit,
				ErrorKind:    "process_exit",
				ErrorMessage: exitMessage(exitErr),
				Respawned:    false,
				Reported:     true,
				ReportID:     reportID,
			}); err != nil {
				s.logger.Error().Err(err).Msg("failed to append crash report")
			} else {
				reports = append(reports, reportID)
			}
			metrics.AgentCrashesTotal.WithLabelValues(string(r)).Inc()
			s.publish(events.EventAgentHalted, string(r), fmt.Sprintf("halted after %d restarts", restarts))
			actions = append(actions, fmt.Sprintf("halted %s after %d restarts", r, restarts))
			s.logger.Error().Str("role", string(r)).Int("restarts", restarts).Msg("role halted, restart budget exhausted")
			continue
		}

		backoff := s.Cfg.RestartBackoffBaseDuration() * (1 << restarts)
		if s.now().Before(lastStart.Add(backoff)) {
			continue
		}

		reportID := uuid.NewString()
		if _, err := s.Records.AppendCrash(ctx, types.CrashReport{
			Role:         string(r),
			ProcessID:    pid,
			CrashedAt:    lastExit,
			ErrorKind:    "process_exit",
			ErrorMessage: exitMessage(exitErr),
			Respawned:    true,
			Reported:     true,
			ReportID:     reportID,
		}); err != nil {
			s.logger.Error().Err(err).Msg("failed to append crash report")
		} else {
			reports = append(reports, reportID)
		}
		metrics.AgentCrashesTotal.WithLabelValues(string(r)).Inc()
		s.publish(events.EventAgentCrashed, string(r), exitMessage(exitErr))

		if err := s.startChild(r); err != nil {
			s.logger.Error().Err(err).Str("role", string(r)).Msg("restart failed")
			continue
		}
		s.mu.Lock()
		c.restarts++
		restarts = c.restarts
		s.mu.Unlock()
		metrics.AgentRestartsTotal.WithLabelValues(string(r)).Inc()
		s.publish(events.EventAgentRestarted, string(r), fmt.Sprintf("restart %d after %s backoff", restarts, backoff))
		actions = append(actions, fmt.Sprintf("restarted %s (attempt %d)", r, restarts))
	}
	return actions, reports
}

func exitMessage(err error) string {
	if err == nil {
		return "exited cleanly outside shutdown"
	}
	return err.Error()
}

// checkHeartbeats reads each live role's status file and returns the
// set of roles whose heartbeat is stale. Staleness is advisory for a
// live process: it is flagged, never killed on this signal alone.
func (s *Supervisor) checkHeartbeats() map[role.Role]bool {
	stale := make(map[role.Role]bool)
	threshold := s.Cfg.StaleHeartbeatDuration()
	for _, r := range s.Cfg.EnableRoles {
		s.mu.Lock()
		c, ok := s.children[r]
		alive := ok && c.alive
		s.mu.Unlock()
		if !alive {
			continue
		}
		st, err := s.Status.Read(r)
		if err != nil {
			continue
		}
		if statusbus.IsStale(st, threshold, s.now()) {
			stale[r] = true
			s.logger.Warn().Str("role", string(r)).Dur("age", s.now().Sub(st.LastHeartbeatTS)).Msg("stale heartbeat")
		}
	}
	return stale
}

func (s *Supervisor) updateComponentHealth(ctx context.Context, stale map[role.Role]bool) {
	for _, r := range s.Cfg.EnableRoles {
		s.mu.Lock()
		c, ok := s.children[r]
		alive := ok && c.alive
		halted := ok && c.halted
		s.mu.Unlock()

		switch {
		case halted:
			metrics.SetComponentHealth(string(r), false, "halted")
		case !alive:
			metrics.SetComponentHealth(string(r), false, "process dead")
		case stale[r]:
			metrics.SetComponentHealth(string(r), false, "stale heartbeat")
		default:
			metrics.SetComponentHealth(string(r), true, "")
		}
	}

	metrics.SetComponentHealth("registry", true, "")
	metrics.SetComponentHealth("statusbus", true, "")

	busOK := true
	for _, r := range s.Cfg.EnableRoles {
		depth, err := s.Bus.Depth(r)
		if err != nil {
			busOK = false
			continue
		}
		metrics.MessageBusDepth.WithLabelValues(string(r)).Set(float64(depth))
	}
	metrics.SetComponentHealth("messagebus", busOK, "")

	if s.Work == nil {
		metrics.SetComponentHealth("workstore", true, "not configured")
	} else if _, err := s.Work.StatusCounts(ctx); err != nil {
		metrics.SetComponentHealth("workstore", false, err.Error())
	} else {
		metrics.SetComponentHealth("workstore", true, "")
	}
}

// AgentSnapshots implements metrics.Source.
func (s *Supervisor) AgentSnapshots() []metrics.RegistrySnapshot {
	now := s.now()
	out := make([]metrics.RegistrySnapshot, 0, len(s.Cfg.EnableRoles))
	for _, r := range s.Cfg.EnableRoles {
		s.mu.Lock()
		c, ok := s.children[r]
		alive := ok && c.alive
		halted := ok && c.halted
		restarts := 0
		if ok {
			restarts = c.restarts
		}
		s.mu.Unlock()

		snap := metrics.RegistrySnapshot{
			Role:     string(r),
			Alive:    alive,
			Halted:   halted,
			Restarts: restarts,
		}
		if st, err := s.Status.Read(r); err == nil {
			snap.HeartbeatAgeSecs = now.Sub(st.LastHeartbeatTS).Seconds()
		}
		out = append(out, snap)
	}
	return out
}

// WorkStoreSnapshot implements metrics.Source: completions and failures
// since the previous poll, derived from status-count deltas.
func (s *Supervisor) WorkStoreSnapshot() metrics.WorkStoreSnapshot {
	snap := metrics.WorkStoreSnapshot{
		ClaimsByRole:      map[string]int{},
		CompletionsByRole: map[string]int{},
		FailuresByRole:    map[string]int{},
	}
	if s.Work == nil {
		return snap
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := s.Work.StatusCounts(ctx)
	if err != nil {
		return snap
	}

	s.workMu.Lock()
	defer s.workMu.Unlock()
	if s.lastWorkCounts != nil {
		dev := string(role.CodeDeveloper)
		if d := counts[workstore.StatusInProgress] + counts[workstore.StatusCompleted] + counts[workstore.StatusFailed] -
			s.lastWorkCounts[workstore.StatusInProgress] - s.lastWorkCounts[workstore.StatusCompleted] - s.lastWorkCounts[workstore.StatusFailed]; d > 0 {
			snap.ClaimsByRole[dev] = d
		}
		if d := counts[workstore.StatusCompleted] - s.lastWorkCounts[workstore.StatusCompleted]; d > 0 {
			snap.CompletionsByRole[dev] = d
		}
		if d := counts[workstore.StatusFailed] - s.lastWorkCounts[workstore.StatusFailed]; d > 0 {
			snap.FailuresByRole[dev] = d
		}
	}
	s.lastWorkCounts = counts
	return snap
}

func (s *Supervisor) overallHealth(stale map[role.Role]bool) types.HealthState {
	s.mu.Lock()
	defer s.mu.Unlock()

	anyHalted, anyDown := false, false
	for _, r := range s.Cfg.EnableRoles {
		c, ok := s.children[r]
		if ok && c.halted {
			anyHalted = true
		} else if !ok || !c.alive {
			anyDown = true
		}
	}
	switch {
	case anyHalted:
		return types.HealthCritical
	case anyDown || len(stale) > 0:
		return types.HealthDegraded
	default:
		return types.HealthHealthy
	}
}

func (s *Supervisor) appendHealthRecord(ctx context.Context, status types.HealthState, zombies int, tickStart time.Time, actions, reports []string) {
	s.mu.Lock()
	active, crashed := 0, 0
	for _, r := range s.Cfg.EnableRoles {
		c, ok := s.children[r]
		if ok && c.alive {
			active++
		} else {
			crashed++
		}
	}
	s.mu.Unlock()

	tickAge := time.Duration(0)
	if !s.lastTick.IsZero() {
		tickAge = tickStart.Sub(s.lastTick)
	}

	record := types.HealthRecord{
		TS:                   tickStart,
		Status:               status,
		ActiveAgents:         active,
		CrashedAgents:        crashed,
		Zombies:              zombies,
		SupervisorResponsive: true,
		LastTickAge:          tickAge,
		ActionsTaken:         actions,
		ReportsFiled:         reports,
	}
	if _, err := s.Records.AppendHealth(ctx, record); err != nil {
		s.logger.Error().Err(err).Msg("failed to append health record")
	}
}

// ChildStates returns the current per-role summary, in launch order,
// for the summary file and the status CLI.
func (s *Supervisor) ChildStates() []types.ChildState {
	out := make([]types.ChildState, 0, len(s.Cfg.EnableRoles))
	for _, r := range s.Cfg.EnableRoles {
		s.mu.Lock()
		c, ok := s.children[r]
		if !ok {
			s.mu.Unlock()
			out = append(out, types.ChildState{Role: string(r)})
			continue
		}
		st := types.ChildState{
			Role:      string(r),
			ProcessID: c.pid,
			Alive:     c.alive,
			Halted:    c.halted,
			Restarts:  c.restarts,
			StartedAt: c.startedAt,
		}
		if c.restarts > 0 {
			st.LastRestart = c.lastStart
		}
		alive := c.alive
		s.mu.Unlock()

		if alive {
			if status, err := s.Status.Read(r); err == nil {
				st.StaleHeartbeat = statusbus.IsStale(status, s.Cfg.StaleHeartbeatDuration(), s.now())
			}
		}
		out = append(out, st)
	}
	return out
}

// summary is the JSON shape of the supervisor's aggregate status file.
type summary struct {
	UpdatedAt time.Time          `json:"updated_at"`
	Children  []types.ChildState `json:"children"`
}

// SummaryPath returns the aggregate status file location under dir.
func SummaryPath(dir string) string {
	return filepath.Join(dir, "supervisor_summary.json")
}

func (s *Supervisor) writeSummary() error {
	data, err := json.Marshal(summary{UpdatedAt: s.now(), Children: s.ChildStates()})
	if err != nil {
		return fmt.Errorf("supervisor: marshal summary: %w", err)
	}
	final := SummaryPath(s.Cfg.StatusDir)
	tmp := final + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("supervisor: write summary: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("supervisor: rename summary: %w", err)
	}
	return nil
}

// ReadSummary loads the aggregate status file written by a running
// supervisor, for out-of-process consumers (the status CLI).
func ReadSummary(dir string) (time.Time, []types.ChildState, error) {
	data, err := os.ReadFile(SummaryPath(dir))
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("supervisor: read summary: %w", err)
	}
	var sum summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return time.Time{}, nil, fmt.Errorf("supervisor: parse summary: %w", err)
	}
	return sum.UpdatedAt, sum.Children, nil
}

// HandleMessage processes the supervisor's own inbox: status_query gets
// a reply with the child summary; shutdown_request triggers a clean
// stop; anything else is logged and dropped.
func (s *Supervisor) HandleMessage(ctx context.Context, msg role.Message) error {
	switch msg.Kind {
	case "status_query":
		body := map[string]any{"children": s.ChildStates()}
		if _, err := s.Bus.Send(role.Supervisor, msg.From, "status_report", body, messagebus.Normal); err != nil {
			return fmt.Errorf("supervisor: reply to status_query: %w", err)
		}
	case "shutdown_request":
		s.logger.Info().Str("from", string(msg.From)).Msg("shutdown requested by message")
		if s.OnShutdownRequest != nil {
			s.OnShutdownRequest()
		}
	default:
		s.logger.Debug().Str("kind", msg.Kind).Msg("ignoring unknown message kind")
	}
	return nil
}

// Shutdown terminates every live child: SIGTERM first, then SIGKILL on
// whatever survives the grace period. Every child is reaped by its Wait
// goroutine, so none is left a zombie.
func (s *Supervisor) Shutdown(ctx context.Context) {
	grace := s.Cfg.ShutdownGraceDuration()

	s.mu.Lock()
	for _, c := range s.children {
		if !c.alive || c.cmd == nil || c.cmd.Process == nil {
			continue
		}
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn().Err(err).Str("role", string(c.role)).Msg("SIGTERM failed")
		}
	}
	s.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for s.anyAlive() {
		select {
		case n := <-s.exitCh:
			s.markExited(n)
		case <-deadline.C:
			s.mu.Lock()
			for _, c := range s.children {
				if c.alive && c.cmd != nil && c.cmd.Process != nil {
					s.logger.Warn().Str("role", string(c.role)).Msg("grace period expired, killing")
					_ = c.cmd.Process.Kill()
				}
			}
			s.mu.Unlock()
			// Wait for the kill to be reaped before returning.
			for s.anyAlive() {
				select {
				case n := <-s.exitCh:
					s.markExited(n)
				case <-ctx.Done():
					return
				}
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) markExited(n exitNotice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[n.role]; ok && c.pid == n.pid {
		c.alive = false
		c.lastExit = n.at
	}
}

func (s *Supervisor) anyAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.alive {
			return true
		}
	}
	return false
}

func (s *Supervisor) publish(t events.EventType, roleName, message string) {
	if s.Broker == nil {
		return
	}
	s.Broker.Publish(&events.Event{
		ID:       uuid.NewString(),
		Type:     t,
		Message:  message,
		Metadata: map[string]string{"role": roleName},
	})
}
