package state

import (
	"math"
	"sort"
)

// SetGoal switches the goal and abandons every existing assignment. It reports
// whether anything changed; the current goal or GoalNone is a no-op.
func (s *EngineState) SetGoal(goal Goal) bool {
	if goal == GoalNone || goal == s.Goal {
		return false
	}
	s.Goal = goal
	s.resetBookkeeping()
	return true
}

// SetTargets replaces the target list when its hostname set differs from the
// current one. Order and scores are ignored for the comparison.
func (s *EngineState) SetTargets(targets []TargetDescriptor) bool {
	if sameHostnames(s.Targets, targets) {
		return false
	}
	s.Targets = append([]TargetDescriptor{}, targets...)
	s.resetBookkeeping()
	return true
}

// SetHomeReservation stores gb as the capacity kept free on home.
func (s *EngineState) SetHomeReservation(gb float64) bool {
	if gb < 0 || math.IsNaN(gb) || math.IsInf(gb, 0) || gb == s.HomeReservation {
		return false
	}
	s.HomeReservation = gb
	return true
}

func sameHostnames(a, b []TargetDescriptor) bool {
	left, right := hostnameSet(a), hostnameSet(b)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func hostnameSet(targets []TargetDescriptor) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if !seen[t.Hostname] {
			seen[t.Hostname] = true
			out = append(out, t.Hostname)
		}
	}
	sort.Strings(out)
	return out
}
