package allocation

import (
	"math"

	"c2c/internal/config"
	"c2c/internal/tasks"
)

// eps absorbs float noise in ratio products such as 40 * 0.775.
const eps = 1e-9

// Plan computes the hack, grow and weaken threads that fit in capacity GB.
// With room for at least one unit set the counts follow the mix ratios (grow
// rounded up, trimmed back if that overshoots). Otherwise, or when trimming
// leaves nothing, the whole capacity goes to a single kind chosen by the
// fallback policy.
func Plan(table *tasks.Table, capacity float64, fallback string) tasks.Allocation {
	var a tasks.Allocation
	unit := table.UnitSetCost()
	if capacity <= 0 || unit <= 0 {
		return a
	}

	sets := math.Floor(capacity/unit + eps)
	if sets < 1 {
		return single(table, capacity, fallback)
	}

	r := table.Ratios()
	a.Hack = int(math.Floor(sets*r.Hack + eps))
	a.Grow = int(math.Ceil(sets*r.Grow - eps))
	a.Weaken = int(math.Floor(sets*r.Weaken + eps))
	for a.Grow > 0 && table.Cost(a) > capacity+eps {
		a.Grow--
	}
	if a.IsZero() {
		return single(table, capacity, fallback)
	}
	return a
}

// fallbackOrder is the order kinds are tried in when no unit set fits.
func fallbackOrder(policy string) []tasks.Kind {
	switch policy {
	case config.FallbackWeakenFirst:
		return []tasks.Kind{tasks.Weaken, tasks.Grow, tasks.Hack}
	case config.FallbackAnyFits:
		return tasks.HackFamily
	default:
		return []tasks.Kind{tasks.Grow, tasks.Weaken, tasks.Hack}
	}
}

func single(table *tasks.Table, capacity float64, fallback string) tasks.Allocation {
	var a tasks.Allocation
	order := fallbackOrder(fallback)

	if fallback == config.FallbackAnyFits {
		// Whichever kind fits the most threads.
		best, bestThreads := tasks.Hack, 0
		for _, k := range order {
			if n := threadsFor(table, k, capacity); n > bestThreads {
				best, bestThreads = k, n
			}
		}
		a.Set(best, bestThreads)
		return a
	}

	for _, k := range order {
		if n := threadsFor(table, k, capacity); n > 0 {
			a.Set(k, n)
			return a
		}
	}
	return a
}

func threadsFor(table *tasks.Table, k tasks.Kind, capacity float64) int {
	ram := table.RAM(k)
	if ram <= 0 || capacity <= 0 {
		return 0
	}
	return int(math.Floor(capacity/ram + eps))
}
