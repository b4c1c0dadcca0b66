package accounting

import (
	"sort"

	"c2c/internal/config"
	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/state"
	"c2c/internal/tasks"

	"github.com/sirupsen/logrus"
)

// Eviction is one process killed to restore the home reservation.
type Eviction struct {
	PID     int
	Kind    tasks.Kind
	Target  string
	Threads int
	GB      float64
}

// Enforcement summarizes one reservation check.
type Enforcement struct {
	Shortfall float64
	Freed     float64
	Evicted   []Eviction
}

// ReservationEnforcer keeps the configured reservation free on home by killing
// engine processes there.
type ReservationEnforcer struct {
	accountant *Accountant
	host       host.Host
	table      *tasks.Table
	policy     string
	logger     *logrus.Logger
}

// NewReservationEnforcer creates an enforcer. policy is one of the config
// eviction policies; an empty policy means largest-first.
func NewReservationEnforcer(accountant *Accountant, h host.Host, table *tasks.Table, policy string) *ReservationEnforcer {
	if policy == "" {
		policy = config.EvictionLargestFirst
	}
	return &ReservationEnforcer{
		accountant: accountant,
		host:       h,
		table:      table,
		policy:     policy,
		logger:     logging.GetSchedulerLogger(),
	}
}

type candidate struct {
	proc host.Process
	gb   float64
}

// Enforce kills engine processes on home until the reservation in st is free
// again, recording every kill in st. It reports whether anything was killed.
func (e *ReservationEnforcer) Enforce(st *state.EngineState) (Enforcement, bool) {
	var result Enforcement
	reservation := st.HomeReservation
	if reservation <= 0 {
		return result, false
	}

	home := e.accountant.Home()
	maxRAM, used, err := e.accountant.ram(home)
	if err != nil {
		e.accountant.logFailure(home, err)
		return result, false
	}
	free := maxRAM - used
	if free >= reservation {
		return result, false
	}
	result.Shortfall = reservation - free

	procs, err := e.accountant.EngineProcesses(home)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"node":  home,
			"error": err,
		}).Warn("Failed to list processes for reservation enforcement")
		return result, false
	}

	candidates := make([]candidate, 0, len(procs))
	for _, p := range procs {
		candidates = append(candidates, candidate{proc: p, gb: e.accountant.Footprint(p)})
	}
	if e.policy == config.EvictionLargestFirst {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].gb > candidates[j].gb
		})
	}

	preferDdos := st.Goal == state.GoalDdos
	for _, c := range candidates {
		if result.Freed >= result.Shortfall {
			break
		}
		if err := e.host.Kill(c.proc.PID); err != nil {
			e.logger.WithFields(logrus.Fields{
				"pid":    c.proc.PID,
				"script": c.proc.Script,
				"error":  err,
			}).Warn("Failed to kill process on home")
			continue
		}
		result.Freed += c.gb

		kind, _ := e.table.KindOf(c.proc.Script, preferDdos)
		target := state.Untargeted
		if kind.Targeted() {
			target = c.proc.Target()
		}
		st.RecordKill(home, target, kind, c.proc.Threads)
		result.Evicted = append(result.Evicted, Eviction{
			PID:     c.proc.PID,
			Kind:    kind,
			Target:  target,
			Threads: c.proc.Threads,
			GB:      c.gb,
		})
	}

	e.pruneLists(st, home, preferDdos)

	entry := e.logger.WithFields(logrus.Fields{
		"node":         home,
		"reserved_gb":  reservation,
		"shortfall_gb": result.Shortfall,
		"freed_gb":     result.Freed,
		"killed":       len(result.Evicted),
	})
	if result.Freed < result.Shortfall {
		logging.Notify(entry, "warning").Warn("Home reservation still violated")
	} else {
		logging.Notify(entry, "info").Info("Home reservation restored")
	}
	return result, len(result.Evicted) > 0
}

// pruneLists drops home from the list of every kind that no longer has a
// process running there.
func (e *ReservationEnforcer) pruneLists(st *state.EngineState, home string, preferDdos bool) {
	remaining, err := e.accountant.EngineProcesses(home)
	if err != nil {
		return
	}
	running := make(map[tasks.Kind]bool)
	for _, p := range remaining {
		if kind, ok := e.table.KindOf(p.Script, preferDdos); ok {
			running[kind] = true
		}
	}
	for _, k := range tasks.Kinds {
		if st.InList(k, home) && !running[k] {
			st.DropKind(home, k)
		}
	}
}
