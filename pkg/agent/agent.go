// Package agent implements AgentBase: the common loop shared by all seven
// processes (the six worker roles and the supervisor itself). It handles
// singleton registration, status publication, startup-skill execution,
// and the register -> loop{work, drain, idle, sleep} -> stopping sequence,
// leaving only do_background_work and handle_message to the role-specific
// Behavior. The loop is single-threaded and cooperative: background work
// and message handling never run concurrently within one process.
package agent

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/registry"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/startup"
	"github.com/bobain/overseer/pkg/statusbus"
)

// Config configures one agent process.
type Config struct {
	Role         role.Role
	TickInterval time.Duration
	Registry     *registry.Registry
	StatusBus    *statusbus.Bus
	MessageBus   *messagebus.Bus
	Startup      *startup.Skill
	Behavior     role.Behavior
}

// Agent drives one Behavior through the common loop.
type Agent struct {
	cfg       Config
	logger    zerolog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	startedAt time.Time
}

// New constructs an Agent from cfg.
func New(cfg Config) *Agent {
	return &Agent{
		cfg:    cfg,
		logger: log.WithComponent("agent").With().Str("role", string(cfg.Role)).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Run executes the full agent lifecycle: register, starting status,
// startup skill, the tick loop, and stopping status on termination. The
// first tick runs immediately; subsequent ticks wait out the interval,
// or less when an inbox watcher wakes the loop early. Run blocks until
// ctx is canceled or a termination signal arrives.
func (a *Agent) Run(ctx context.Context) error {
	reg, err := a.cfg.Registry.Register(a.cfg.Role)
	if err != nil {
		return err
	}
	defer reg.Release()

	a.startedAt = time.Now()
	a.writeStatus(statusbus.StateStarting, nil, "")

	if a.cfg.Startup != nil {
		timer := metrics.NewTimer()
		result := a.cfg.Startup.Run(ctx)
		timer.ObserveDurationVec(metrics.StartupSkillDuration, string(a.cfg.Role))
		if !result.Success {
			a.logger.Warn().Interface("suggested_fixes", result.SuggestedFixes).Msg("startup skill reported failures, continuing")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	// Inbox watcher, best effort: a message arriving mid-sleep wakes the
	// loop early instead of waiting out the full tick interval. Plain
	// polling on the ticker keeps working if the watcher can't start.
	var wakeCh <-chan struct{}
	if watcher, werr := messagebus.NewWatcher(a.cfg.MessageBus, a.cfg.Role); werr == nil {
		defer watcher.Close()
		wake := make(chan struct{}, 1)
		go func() {
			for range watcher.Events() {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}()
		go func() {
			for range watcher.Errors() {
			}
		}()
		wakeCh = wake
	}

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	for {
		a.runTick(ctx, time.Now())

		select {
		case <-sigCh:
			a.writeStatus(statusbus.StateStopping, nil, "")
			return nil
		case <-ctx.Done():
			a.writeStatus(statusbus.StateStopping, nil, "")
			return ctx.Err()
		case <-a.stopCh:
			a.writeStatus(statusbus.StateStopping, nil, "")
			return nil
		case <-ticker.C:
		case <-wakeCh:
		}
	}
}

// Stop requests a clean shutdown of the loop, used by in-process callers
// (tests and the supervisor's message-driven shutdown); the subprocess
// path is SIGTERM instead. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *Agent) runTick(ctx context.Context, tickStart time.Time) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("recovered panic in tick, continuing loop")
			a.writeStatus(statusbus.StateIdle, nil, "panic recovered mid-tick")
		}
	}()

	a.writeStatus(statusbus.StateWorking, nil, "")

	timer := metrics.NewTimer()
	if err := a.cfg.Behavior.DoBackgroundWork(ctx); err != nil {
		a.logger.Error().Err(err).Msg("background work failed")
		a.writeStatus(statusbus.StateWorking, nil, err.Error())
	}
	timer.ObserveDurationVec(metrics.BackgroundWorkDuration, string(a.cfg.Role))

	claimed, err := a.cfg.MessageBus.Drain(a.cfg.Role)
	if err != nil {
		a.logger.Error().Err(err).Msg("drain failed")
	}
	for _, c := range claimed {
		a.handleOne(ctx, c)
	}

	a.writeStatus(statusbus.StateIdle, nil, "")
}

func (a *Agent) handleOne(ctx context.Context, c messagebus.Claimed) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Str("message_id", c.Message.ID).Msg("recovered panic handling message")
			a.deadLetter(c)
		}
	}()

	msg := role.Message{
		ID:        c.Message.ID,
		From:      c.Message.From,
		To:        c.Message.To,
		Kind:      c.Message.Kind,
		Priority:  string(c.Message.Priority),
		Body:      c.Message.Body,
		CreatedAt: c.Message.CreatedAt.Unix(),
	}

	if err := a.cfg.Behavior.HandleMessage(ctx, msg); err != nil {
		a.logger.Error().Err(err).Str("kind", c.Message.Kind).Msg("message handler failed, dead-lettering")
		a.deadLetter(c)
		return
	}

	if err := a.cfg.MessageBus.Ack(c); err != nil {
		a.logger.Error().Err(err).Msg("failed to ack message")
	}
}

func (a *Agent) deadLetter(c messagebus.Claimed) {
	if err := a.cfg.MessageBus.DeadLetter(a.cfg.Role, c); err != nil {
		a.logger.Error().Err(err).Msg("failed to dead-letter message")
		return
	}
	metrics.MessagesDeadLetteredTotal.WithLabelValues(string(a.cfg.Role)).Inc()
}

func (a *Agent) writeStatus(state statusbus.State, task *statusbus.CurrentTask, errMsg string) {
	st := statusbus.Status{
		Role:            a.cfg.Role,
		ProcessID:       os.Getpid(),
		State:           state,
		CurrentTask:     task,
		LastHeartbeatTS: time.Now(),
		StartedAt:       a.startedAt,
		Error:           errMsg,
	}
	if err := a.cfg.StatusBus.Write(st); err != nil {
		a.logger.Error().Err(err).Msg("failed to write status")
	}
}
