package scheduler

import (
	"context"
	"math"

	"c2c/internal/allocation"
	"c2c/internal/report"
	"c2c/internal/state"
	"c2c/internal/tasks"
)

// walk visits every node reachable from home breadth-first and dispatches the
// eligible ones by goal. The limiter spaces node visits out.
func (e *Engine) walk(ctx context.Context, pass *report.Pass) error {
	home := e.cfg.Engine.Home
	queue := []string{home}
	seen := map[string]bool{home: true}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		node := queue[0]
		queue = queue[1:]

		neighbors, err := e.host.Scan(node)
		if err != nil {
			e.schedulerLogger.WithField("node", node).WithError(err).Warn("Failed to scan node")
		}
		for _, n := range neighbors {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}

		if !e.eligible(node, pass) {
			continue
		}
		pass.Visited++
		e.dispatch(node, pass)

		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) eligible(node string, pass *report.Pass) bool {
	if e.ignore[node] || e.useless[node] || !e.host.HasRootAccess(node) {
		pass.Skipped++
		return false
	}
	maxRAM, err := e.host.MaxRAM(node)
	if err != nil {
		e.schedulerLogger.WithFields(nodeLogFields(e.state, node)).WithError(err).Warn("Failed to query node capacity")
		pass.Skipped++
		return false
	}
	if maxRAM <= 0 {
		e.markUseless(node, pass)
		return false
	}
	return true
}

func (e *Engine) markUseless(node string, pass *report.Pass) {
	e.useless[node] = true
	pass.Useless++
	e.schedulerLogger.WithFields(nodeLogFields(e.state, node)).Debug("Node marked useless")
}

func (e *Engine) dispatch(node string, pass *report.Pass) {
	switch e.state.Goal {
	case state.GoalHack:
		e.hackNode(node, pass)
	case state.GoalDdos:
		e.floodNode(node, tasks.Ddos, pass)
	case state.GoalShare:
		e.floodNode(node, tasks.Share, pass)
	case state.GoalNone:
	}
}

// floodNode fills a node with a single kind once: ddos against a random
// target, or untargeted share.
func (e *Engine) floodNode(node string, kind tasks.Kind, pass *report.Pass) {
	if e.state.InList(kind, node) {
		return
	}
	free := e.accountant.FreeCapacity(node, e.state.HomeReservation)
	threads := int(math.Floor(free / e.table.RAM(kind)))
	if threads <= 0 {
		e.markUseless(node, pass)
		return
	}

	target := state.Untargeted
	if kind.Targeted() {
		target = e.uniformTarget()
	}
	e.state.ForgetNode(node)
	if !e.allocator.Reset(node, kind) {
		return
	}
	launched := e.allocator.Launch(node, kind, threads, target)
	if launched == 0 {
		return
	}
	var a tasks.Allocation
	a.Set(kind, launched)
	e.record(node, target, a, pass)
}

// hackNode gives a new node a full allocation and tops up a known one.
func (e *Engine) hackNode(node string, pass *report.Pass) {
	procs, err := e.accountant.EngineProcesses(node)
	if err != nil {
		e.schedulerLogger.WithFields(nodeLogFields(e.state, node)).WithError(err).Warn("Failed to list processes")
		return
	}
	observed := allocation.Observe(e.table, procs)

	if e.known(node, observed) {
		e.state.ReconcileNode(node, observed)
		for target, delta := range e.optimizer.Optimize(node, procs, e.state.HomeReservation) {
			e.record(node, target, delta, pass)
		}
		return
	}
	e.allocateNode(node, pass)
}

// known reports whether node already runs the hack family for current targets
// only, as recorded in the bookkeeping.
func (e *Engine) known(node string, observed map[string]tasks.Allocation) bool {
	if !e.state.IsAssigned(node) || len(observed) == 0 {
		return false
	}
	for target := range observed {
		if !e.state.HasTarget(target) {
			return false
		}
	}
	return true
}

func (e *Engine) allocateNode(node string, pass *report.Pass) {
	e.state.ForgetNode(node)
	capacity := e.accountant.FreeCapacity(node, e.state.HomeReservation)
	if capacity < e.table.MinFamilyRAM() {
		e.schedulerLogger.WithFields(nodeLogFields(e.state, node)).WithField("free_gb", capacity).Debug("Not enough capacity for a worker")
		return
	}

	picks := e.pickTargets(capacity)
	if !e.allocator.Reset(node, tasks.HackFamily...) {
		return
	}
	for _, p := range picks {
		launched := e.allocator.Allocate(node, p.target, p.capacity)
		e.record(node, p.target, launched, pass)
	}
}

func (e *Engine) record(node, target string, launched tasks.Allocation, pass *report.Pass) {
	if launched.IsZero() {
		return
	}
	e.state.RecordLaunch(node, target, launched)
	pass.Launched = pass.Launched.Plus(launched)
}
