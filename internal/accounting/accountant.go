package accounting

import (
	"math"

	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/tasks"

	"github.com/sirupsen/logrus"
)

// Accountant answers capacity questions about nodes. All figures are GB.
type Accountant struct {
	host   host.Host
	table  *tasks.Table
	home   string
	logger *logrus.Logger
}

// NewAccountant creates an accountant for the engine's command table. home is
// the shared node the reservation applies to.
func NewAccountant(h host.Host, table *tasks.Table, home string) *Accountant {
	return &Accountant{
		host:   h,
		table:  table,
		home:   home,
		logger: logging.GetSchedulerLogger(),
	}
}

func (a *Accountant) Home() string {
	return a.home
}

// reservationOn is the capacity withheld on node: the reservation on home, nothing elsewhere.
func (a *Accountant) reservationOn(node string, reservation float64) float64 {
	if node == a.home && reservation > 0 {
		return reservation
	}
	return 0
}

// EngineProcesses lists the processes on node running one of the engine's scripts.
func (a *Accountant) EngineProcesses(node string) ([]host.Process, error) {
	procs, err := a.host.Processes(node)
	if err != nil {
		return nil, err
	}
	var out []host.Process
	for _, p := range procs {
		if a.table.IsEngineScript(p.Script) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Footprint is the capacity held by one process.
func (a *Accountant) Footprint(p host.Process) float64 {
	ram, _ := a.table.ScriptRAM(p.Script)
	return ram * float64(p.Threads)
}

// EngineUsage sums the footprint of the engine's own processes on node.
func (a *Accountant) EngineUsage(node string) (float64, error) {
	procs, err := a.EngineProcesses(node)
	if err != nil {
		return 0, err
	}
	used := 0.0
	for _, p := range procs {
		used += a.Footprint(p)
	}
	return used, nil
}

// FreeCapacity is what the engine could hold on node if it replaced everything
// it runs there: max - used by others - reservation. Query failures count as
// zero so the node is skipped for the pass.
func (a *Accountant) FreeCapacity(node string, reservation float64) float64 {
	maxRAM, used, err := a.ram(node)
	if err != nil {
		a.logFailure(node, err)
		return 0
	}
	engine, err := a.EngineUsage(node)
	if err != nil {
		a.logFailure(node, err)
		return 0
	}
	usedByOthers := math.Max(used-engine, 0)
	return clamp(maxRAM - usedByOthers - a.reservationOn(node, reservation))
}

// Headroom is the capacity still unused on node after the reservation, the
// room available for additional threads without touching running ones.
func (a *Accountant) Headroom(node string, reservation float64) float64 {
	maxRAM, used, err := a.ram(node)
	if err != nil {
		a.logFailure(node, err)
		return 0
	}
	return clamp(maxRAM - used - a.reservationOn(node, reservation))
}

func (a *Accountant) ram(node string) (float64, float64, error) {
	maxRAM, err := a.host.MaxRAM(node)
	if err != nil {
		return 0, 0, err
	}
	used, err := a.host.UsedRAM(node)
	if err != nil {
		return 0, 0, err
	}
	return maxRAM, used, nil
}

func (a *Accountant) logFailure(node string, err error) {
	a.logger.WithFields(logrus.Fields{
		"node":  node,
		"error": err,
	}).Warn("Capacity query failed, treating node as full")
}

func clamp(gb float64) float64 {
	if gb < 0 || math.IsNaN(gb) {
		return 0
	}
	return gb
}
