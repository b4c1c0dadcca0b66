package allocation

import (
	"math/rand"
	"strconv"
	"time"

	"c2c/internal/config"
	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/tasks"

	"github.com/sirupsen/logrus"
)

// Allocator turns thread plans into running workers on a node.
type Allocator struct {
	host     host.Host
	table    *tasks.Table
	home     string
	fallback string
	delayMin time.Duration
	delayMax time.Duration
	rng      *rand.Rand
	logger   *logrus.Logger
}

// NewAllocator creates an allocator. rng drives the start delays and must only
// be used from the scheduler goroutine.
func NewAllocator(h host.Host, table *tasks.Table, cfg *config.Config, rng *rand.Rand) *Allocator {
	return &Allocator{
		host:     h,
		table:    table,
		home:     cfg.Engine.Home,
		fallback: cfg.Policy.Fallback,
		delayMin: cfg.Engine.StartDelayMin,
		delayMax: cfg.Engine.StartDelayMax,
		rng:      rng,
		logger:   logging.GetSchedulerLogger(),
	}
}

func (a *Allocator) Table() *tasks.Table {
	return a.table
}

// Allocate plans the hack family for capacity GB on node against target and
// launches it next to whatever already runs there; call Reset first to start
// from an empty node. The returned allocation holds the threads that actually
// started.
func (a *Allocator) Allocate(node, target string, capacity float64) tasks.Allocation {
	var launched tasks.Allocation
	plan := Plan(a.table, capacity, a.fallback)
	if plan.IsZero() {
		return launched
	}

	logger := a.logger.WithFields(logrus.Fields{
		"node":        node,
		"target":      target,
		"capacity_gb": capacity,
	})
	if !a.prepare(node, false, tasks.HackFamily...) {
		return launched
	}

	for _, k := range tasks.HackFamily {
		if threads := plan.Get(k); threads > 0 {
			launched.Set(k, a.Launch(node, k, threads, target))
		}
	}
	logger.WithFields(logrus.Fields{
		"planned":  plan.String(),
		"launched": launched.String(),
	}).Info("Allocated node")
	return launched
}

// Reset stops the engine's workers on node and copies the scripts of kinds
// there. On home only the engine's own scripts are stopped.
func (a *Allocator) Reset(node string, kinds ...tasks.Kind) bool {
	return a.prepare(node, true, kinds...)
}

func (a *Allocator) prepare(node string, kill bool, kinds ...tasks.Kind) bool {
	scripts := a.table.Scripts(kinds...)
	logger := a.logger.WithField("node", node)

	if node == a.home {
		if !kill {
			return true
		}
		for _, script := range a.table.Scripts() {
			if err := a.host.ScriptKill(script, node); err != nil {
				logger.WithError(err).WithField("script", script).Warn("Failed to stop workers")
				return false
			}
		}
		return true
	}

	if kill {
		if err := a.host.KillAll(node); err != nil {
			logger.WithError(err).Warn("Failed to stop workers")
			return false
		}
	}
	if err := a.host.Copy(scripts, node, a.home); err != nil {
		logger.WithError(err).Warn("Failed to copy worker scripts")
		return false
	}
	return true
}

// Launch starts threads of kind on node. Targeted kinds receive the target and
// a random start delay in milliseconds. It returns the threads started, 0 on
// failure.
func (a *Allocator) Launch(node string, kind tasks.Kind, threads int, target string) int {
	if threads <= 0 {
		return 0
	}
	script := a.table.Script(kind)
	var args []string
	if kind.Targeted() {
		args = []string{target, strconv.FormatInt(a.startDelay().Milliseconds(), 10)}
	}

	pid, err := a.host.Exec(script, node, threads, args...)
	fields := logrus.Fields{
		"node":    node,
		"kind":    kind.String(),
		"threads": threads,
		"target":  target,
	}
	if err != nil {
		a.logger.WithFields(fields).WithError(err).Warn("Failed to launch worker")
		return 0
	}
	fields["pid"] = pid
	a.logger.WithFields(fields).Debug("Launched worker")
	return threads
}

func (a *Allocator) startDelay() time.Duration {
	span := a.delayMax - a.delayMin
	if span <= 0 || a.rng == nil {
		return a.delayMin
	}
	return a.delayMin + time.Duration(a.rng.Int63n(int64(span)+1))
}
