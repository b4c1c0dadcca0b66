package scheduler

import (
	"math"
)

type pick struct {
	target   string
	capacity float64
}

// minCapacityPerTarget is the capacity a node needs for each target it works
// on. Unless configured it scales the unit set cost by the inverse order of
// magnitude of the hack ratio, so a node holds roughly four balanced sets with
// at least one hack thread per target.
func (e *Engine) minCapacityPerTarget() float64 {
	if configured := e.cfg.Policy.MinCapacityPerTarget; configured > 0 {
		return configured
	}
	hackRatio := e.table.Ratios().Hack
	if hackRatio <= 0 {
		return math.Inf(1)
	}
	scale := math.Pow(10, -(math.Floor(math.Log10(hackRatio)) + 1))
	return e.table.UnitSetCost() * scale * 4
}

// pickTargets splits capacity into equal shares and draws a target for each
// share by value, with replacement. Without multi-target support, or on small
// nodes, everything goes to one target. A target drawn more than once gets all
// of its shares, so its part of the node follows its weight.
func (e *Engine) pickTargets(capacity float64) []pick {
	draws := 1
	if e.cfg.Policy.MultiTarget {
		if n := int(math.Floor(capacity / e.minCapacityPerTarget())); n > 1 {
			draws = n
		}
	}

	share := capacity / float64(draws)
	var picks []pick
	index := make(map[string]int)
	for i := 0; i < draws; i++ {
		target := e.weightedTarget()
		if at, ok := index[target]; ok {
			picks[at].capacity += share
			continue
		}
		index[target] = len(picks)
		picks = append(picks, pick{target: target, capacity: share})
	}
	return picks
}

// weightedTarget draws a target with probability proportional to money.max /
// hack time, falling back to a uniform draw when no target has a value.
func (e *Engine) weightedTarget() string {
	total := 0.0
	for _, t := range e.state.Targets {
		total += t.ValuePerTime()
	}
	if total <= 0 {
		return e.uniformTarget()
	}
	r := e.rng.Float64() * total
	for _, t := range e.state.Targets {
		r -= t.ValuePerTime()
		if r < 0 {
			return t.Hostname
		}
	}
	return e.state.Targets[len(e.state.Targets)-1].Hostname
}

func (e *Engine) uniformTarget() string {
	return e.state.Targets[e.rng.Intn(len(e.state.Targets))].Hostname
}
