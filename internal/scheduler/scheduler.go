package scheduler

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"time"

	"c2c/internal/accounting"
	"c2c/internal/allocation"
	"c2c/internal/config"
	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/ports"
	"c2c/internal/report"
	"c2c/internal/state"
	"c2c/internal/tasks"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Observer receives the report of every pass. Errors are logged and otherwise ignored.
type Observer interface {
	ObservePass(ctx context.Context, pass *report.Pass) error
}

type Option func(*Engine)

// WithRand seeds target selection and start delays.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func WithObservers(observers ...Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, observers...) }
}

// WithSleep replaces the wait between passes.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// Engine is the scheduler loop. It owns the engine state and is its only
// writer; nothing in it is safe for concurrent use.
type Engine struct {
	name    string
	version string

	cfg        *config.Config
	host       host.Host
	mailbox    ports.Mailbox
	table      *tasks.Table
	accountant *accounting.Accountant
	enforcer   *accounting.ReservationEnforcer
	allocator  *allocation.Allocator
	optimizer  *allocation.Optimizer
	limiter    *rate.Limiter
	rng        *rand.Rand
	observers  []Observer
	sleep      func(ctx context.Context, d time.Duration) error

	state   *state.EngineState
	ignore  map[string]bool
	useless map[string]bool
	runID   string
	passes  int

	schedulerLogger *logrus.Logger
}

func New(cfg *config.Config, h host.Host, mailbox ports.Mailbox, opts ...Option) *Engine {
	e := &Engine{
		name:            "c2c",
		version:         "1.0.0",
		cfg:             cfg,
		host:            h,
		mailbox:         mailbox,
		table:           tasks.FromConfig(cfg.Scripts),
		sleep:           sleepContext,
		state:           state.New(),
		ignore:          make(map[string]bool),
		useless:         make(map[string]bool),
		runID:           uuid.NewString(),
		schedulerLogger: logging.GetSchedulerLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	for _, node := range cfg.Engine.Ignore {
		e.ignore[node] = true
	}

	limit := rate.Inf
	if cfg.Engine.NodeThrottle > 0 {
		limit = rate.Every(cfg.Engine.NodeThrottle)
	}
	e.limiter = rate.NewLimiter(limit, 1)

	e.accountant = accounting.NewAccountant(h, e.table, cfg.Engine.Home)
	e.enforcer = accounting.NewReservationEnforcer(e.accountant, h, e.table, cfg.Policy.Eviction)
	e.allocator = allocation.NewAllocator(h, e.table, cfg, e.rng)
	e.optimizer = allocation.NewOptimizer(e.allocator, e.accountant)
	return e
}

func (e *Engine) RunID() string { return e.runID }

// State exposes the live engine state. Callers must not modify it while Run is active.
func (e *Engine) State() *state.EngineState { return e.state }

// Calibrate aligns the per-thread cost of every worker script with what the
// host reports, preferring the host's figure.
func (e *Engine) Calibrate() {
	for _, script := range e.table.Scripts() {
		actual, err := e.host.ScriptRAM(script)
		if err != nil {
			e.schedulerLogger.WithField("script", script).WithError(err).Warn("Cannot read script RAM, keeping configured value")
			continue
		}
		configured, _ := e.table.ScriptRAM(script)
		if math.Abs(actual-configured) > 1e-9 {
			e.schedulerLogger.WithFields(logrus.Fields{
				"script":        script,
				"configured_gb": configured,
				"actual_gb":     actual,
			}).Info("Script RAM differs from configuration, using host value")
			e.table.SetRAM(script, actual)
		}
	}
}

// Restore loads the state persisted on the state port. A corrupt snapshot is
// discarded in favour of an empty state. It reports whether a snapshot was used.
func (e *Engine) Restore() bool {
	st, err := state.Load(e.mailbox, e.cfg.Ports.State)
	e.state = st
	if err != nil {
		logging.Notify(e.schedulerLogger.WithError(err), "warning").Warn("Discarding persisted state")
		return false
	}
	restored := st.Goal != state.GoalNone || len(st.Targets) > 0 || len(st.Nodes) > 0
	if restored {
		e.schedulerLogger.WithFields(logrus.Fields{
			"goal":    st.Goal.String(),
			"targets": len(st.Targets),
			"nodes":   len(st.Nodes),
		}).Info("Restored persisted state")
	}
	return restored
}

// Run executes passes until ctx is cancelled. A waiting pass is retried after
// the short wait interval, every other pass after the pass interval.
func (e *Engine) Run(ctx context.Context) error {
	e.schedulerLogger.WithFields(logrus.Fields{
		"scheduler": e.name,
		"run_id":    e.runID,
		"version":   e.version,
		"home":      e.cfg.Engine.Home,
	}).Info("Scheduler started")

	for {
		pass, err := e.RunPass(ctx)
		if err != nil {
			return err
		}
		interval := e.cfg.Engine.PassInterval
		if pass.Waiting {
			interval = e.cfg.Engine.WaitInterval
		}
		if err := e.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// RunPass executes one pass: ingest signals, enforce the home reservation,
// walk the network, persist. It only fails when ctx is cancelled.
func (e *Engine) RunPass(ctx context.Context) (*report.Pass, error) {
	e.passes++
	pass := &report.Pass{
		RunID:     e.runID,
		Number:    e.passes,
		StartedAt: time.Now(),
	}

	e.ingest()

	if !e.state.Ready() {
		pass.Waiting = true
		what := "goal"
		if e.state.Goal != state.GoalNone {
			what = "targets"
		}
		logging.Notify(e.schedulerLogger.WithField("missing", what), "info").Infof("No %s, waiting", what)
		pass.Summarize(e.state)
		pass.Duration = time.Since(pass.StartedAt)
		e.notify(ctx, pass)
		return pass, nil
	}

	if result, acted := e.enforcer.Enforce(e.state); acted {
		pass.Evicted = len(result.Evicted)
		pass.FreedGB = result.Freed
	}

	walkErr := e.walk(ctx, pass)
	e.persist()
	if walkErr != nil {
		return pass, walkErr
	}

	pass.Summarize(e.state)
	pass.Duration = time.Since(pass.StartedAt)
	e.notify(ctx, pass)

	e.schedulerLogger.WithFields(logrus.Fields{
		"pass":     pass.Number,
		"visited":  pass.Visited,
		"skipped":  pass.Skipped,
		"useless":  pass.Useless,
		"launched": pass.Launched.String(),
		"evicted":  pass.Evicted,
		"duration": pass.Duration.String(),
	}).Info(report.Headline(e.state))
	return pass, nil
}

func (e *Engine) persist() {
	if err := state.Save(e.mailbox, e.cfg.Ports.State, e.state); err != nil {
		e.schedulerLogger.WithError(err).Warn("Failed to persist engine state")
		return
	}
	if e.schedulerLogger.IsLevelEnabled(logrus.DebugLevel) {
		var buf bytes.Buffer
		if err := report.RenderAllocations(&buf, e.state); err == nil {
			e.schedulerLogger.Debug("Allocations\n" + buf.String())
		}
	}
}

func (e *Engine) notify(ctx context.Context, pass *report.Pass) {
	for _, o := range e.observers {
		if err := o.ObservePass(ctx, pass); err != nil {
			e.schedulerLogger.WithError(err).Warn("Pass observer failed")
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
