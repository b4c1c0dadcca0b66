package allocation

import (
	"math"
	"sort"

	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/tasks"

	"github.com/sirupsen/logrus"
)

// CapacitySource reports the room left on a node for additional threads.
type CapacitySource interface {
	Headroom(node string, reservation float64) float64
}

// Optimizer tops up nodes that already run the hack family, nudging each
// target's mix toward the configured ratios without touching running workers.
type Optimizer struct {
	allocator *Allocator
	capacity  CapacitySource
	logger    *logrus.Logger
}

func NewOptimizer(allocator *Allocator, capacity CapacitySource) *Optimizer {
	return &Optimizer{
		allocator: allocator,
		capacity:  capacity,
		logger:    logging.GetSchedulerLogger(),
	}
}

// Observe folds the hack family processes of a node into per-target totals.
func Observe(table *tasks.Table, procs []host.Process) map[string]tasks.Allocation {
	out := make(map[string]tasks.Allocation)
	for _, p := range procs {
		kind, ok := table.KindOf(p.Script, false)
		if !ok || !isFamily(kind) || p.Target() == "" {
			continue
		}
		a := out[p.Target()]
		a.Add(kind, p.Threads)
		out[p.Target()] = a
	}
	return out
}

func isFamily(k tasks.Kind) bool {
	return k == tasks.Hack || k == tasks.Grow || k == tasks.Weaken
}

// MostDeficient returns the kind furthest below its ratio in current. A kind
// only counts when it is at least one whole thread short; ties go to the
// earlier kind.
func MostDeficient(current tasks.Allocation, ratios tasks.Ratios) (tasks.Kind, bool) {
	total := float64(current.FamilyTotal())
	if total == 0 {
		return tasks.Hack, false
	}
	best, bestDeficit := tasks.Hack, 0.0
	found := false
	for _, k := range tasks.HackFamily {
		deficit := ratios.Get(k)*total - float64(current.Get(k))
		if deficit >= 1-eps && deficit > bestDeficit {
			best, bestDeficit, found = k, deficit, true
		}
	}
	return best, found
}

// Optimize launches additional threads of the most deficient kind for every
// target observed on node. The node's headroom is split evenly between those
// targets. procs is the node's live process table. It returns only the threads
// launched by this call, per target.
func (o *Optimizer) Optimize(node string, procs []host.Process, reservation float64) map[string]tasks.Allocation {
	table := o.allocator.Table()
	ratios := table.Ratios()
	current := Observe(table, procs)

	deltas := make(map[string]tasks.Allocation)
	if len(current) == 0 {
		return deltas
	}

	targets := make([]string, 0, len(current))
	for target := range current {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	share := o.capacity.Headroom(node, reservation) / float64(len(current))
	for _, target := range targets {
		kind, ok := MostDeficient(current[target], ratios)
		if !ok {
			continue
		}
		threads := int(math.Floor(share/table.RAM(kind) + eps))
		if threads < 1 {
			continue
		}

		launched := o.allocator.Launch(node, kind, threads, target)
		if launched == 0 {
			continue
		}
		var delta tasks.Allocation
		delta.Set(kind, launched)
		deltas[target] = delta

		o.logger.WithFields(logrus.Fields{
			"node":     node,
			"target":   target,
			"kind":     kind.String(),
			"threads":  launched,
			"current":  current[target].String(),
			"share_gb": share,
		}).Info("Optimized node")
	}
	return deltas
}
