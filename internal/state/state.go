// Package state holds the engine's authoritative bookkeeping: goal, targets,
// per-target thread totals and what was launched on every node. The scheduler
// loop is its only writer.
package state

import (
	"sort"

	"c2c/internal/host"
	"c2c/internal/tasks"
)

// Untargeted is the target key share threads are recorded under.
const Untargeted = ""

// TargetDescriptor is one entry of the externally supplied target list.
type TargetDescriptor struct {
	Hostname string          `json:"hostname"`
	Score    float64         `json:"score"`
	Data     host.ServerData `json:"data"`
}

// ValuePerTime is money.max / hack time, the weight used for target selection.
// Targets without money or time are worth nothing.
func (t TargetDescriptor) ValuePerTime() float64 {
	if t.Data.Money.Max <= 0 || t.Data.Time <= 0 {
		return 0
	}
	return t.Data.Money.Max / t.Data.Time
}

// TargetAllocation is the per-target thread total plus the descriptor it was made for.
type TargetAllocation struct {
	Tasks tasks.Allocation `json:"tasks"`
	Score float64          `json:"score"`
	Data  host.ServerData  `json:"data"`
}

type EngineState struct {
	Goal            Goal
	Targets         []TargetDescriptor
	Allocations     map[string]*TargetAllocation
	Nodes           map[string]map[string]tasks.Allocation
	HomeReservation float64
}

func New() *EngineState {
	return &EngineState{
		Targets:     []TargetDescriptor{},
		Allocations: make(map[string]*TargetAllocation),
		Nodes:       make(map[string]map[string]tasks.Allocation),
	}
}

// Ready reports whether both a goal and at least one target are configured.
func (s *EngineState) Ready() bool {
	return s.Goal != GoalNone && len(s.Targets) > 0
}

// TargetNames returns the target hostnames sorted.
func (s *EngineState) TargetNames() []string {
	names := make([]string, 0, len(s.Targets))
	for _, t := range s.Targets {
		names = append(names, t.Hostname)
	}
	sort.Strings(names)
	return names
}

func (s *EngineState) Target(hostname string) (TargetDescriptor, bool) {
	for _, t := range s.Targets {
		if t.Hostname == hostname {
			return t, true
		}
	}
	return TargetDescriptor{}, false
}

func (s *EngineState) HasTarget(hostname string) bool {
	_, ok := s.Target(hostname)
	return ok
}

// TargetTasks returns the thread totals recorded against target.
func (s *EngineState) TargetTasks(target string) tasks.Allocation {
	if a, ok := s.Allocations[target]; ok {
		return a.Tasks
	}
	return tasks.Allocation{}
}

// UntargetedTasks sums the threads recorded without a target, i.e. share.
func (s *EngineState) UntargetedTasks() tasks.Allocation {
	var total tasks.Allocation
	for _, perTarget := range s.Nodes {
		total = total.Plus(perTarget[Untargeted])
	}
	return total
}

// NodeTotals sums every target's threads on node.
func (s *EngineState) NodeTotals(node string) tasks.Allocation {
	var total tasks.Allocation
	for _, a := range s.Nodes[node] {
		total = total.Plus(a)
	}
	return total
}

// IsAssigned reports whether node carries any threads in the bookkeeping.
func (s *EngineState) IsAssigned(node string) bool {
	return !s.NodeTotals(node).IsZero()
}

// InList reports whether node is in the node list of kind.
func (s *EngineState) InList(kind tasks.Kind, node string) bool {
	return s.NodeTotals(node).Get(kind) > 0
}

// NodeList returns the nodes running kind, sorted.
func (s *EngineState) NodeList(kind tasks.Kind) []string {
	out := []string{}
	for node := range s.Nodes {
		if s.InList(kind, node) {
			out = append(out, node)
		}
	}
	sort.Strings(out)
	return out
}

// RecordLaunch adds threads launched on node against target.
func (s *EngineState) RecordLaunch(node, target string, launched tasks.Allocation) {
	if launched.IsZero() {
		return
	}
	perTarget := s.Nodes[node]
	if perTarget == nil {
		perTarget = make(map[string]tasks.Allocation)
		s.Nodes[node] = perTarget
	}
	perTarget[target] = perTarget[target].Plus(launched)

	if a, ok := s.Allocations[target]; ok {
		a.Tasks = a.Tasks.Plus(launched)
	}
}

// RecordKill removes threads of kind from node and target, never going below zero.
func (s *EngineState) RecordKill(node, target string, kind tasks.Kind, threads int) {
	if perTarget, ok := s.Nodes[node]; ok {
		if current, ok := perTarget[target]; ok {
			current.Sub(kind, threads)
			if current.IsZero() {
				delete(perTarget, target)
			} else {
				perTarget[target] = current
			}
		}
		if len(perTarget) == 0 {
			delete(s.Nodes, node)
		}
	}
	if a, ok := s.Allocations[target]; ok {
		a.Tasks.Sub(kind, threads)
	}
}

// DropKind removes every kind thread recorded on node, whatever the target.
func (s *EngineState) DropKind(node string, kind tasks.Kind) {
	for target, a := range s.Nodes[node] {
		s.RecordKill(node, target, kind, a.Get(kind))
	}
}

// ForgetNode drops everything recorded on node, e.g. before it is wiped and reallocated.
func (s *EngineState) ForgetNode(node string) {
	for target, a := range s.Nodes[node] {
		if alloc, ok := s.Allocations[target]; ok {
			for _, k := range tasks.Kinds {
				alloc.Tasks.Sub(k, a.Get(k))
			}
		}
	}
	delete(s.Nodes, node)
}

// ReconcileNode replaces the bookkeeping of node with what is observed running there.
func (s *EngineState) ReconcileNode(node string, observed map[string]tasks.Allocation) {
	s.ForgetNode(node)
	for target, a := range observed {
		s.RecordLaunch(node, target, a)
	}
}

// resetBookkeeping abandons every node assignment and zeroes all target totals.
func (s *EngineState) resetBookkeeping() {
	s.Nodes = make(map[string]map[string]tasks.Allocation)
	s.Allocations = make(map[string]*TargetAllocation, len(s.Targets))
	for _, t := range s.Targets {
		s.Allocations[t.Hostname] = &TargetAllocation{Score: t.Score, Data: t.Data}
	}
}
