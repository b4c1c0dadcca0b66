// Package report describes what one scheduling pass did and renders engine
// state as tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"c2c/internal/state"
	"c2c/internal/tasks"

	"github.com/olekukonko/tablewriter"
)

// Pass is the outcome of one scheduling pass, handed to observers.
type Pass struct {
	RunID     string
	Number    int
	StartedAt time.Time
	Duration  time.Duration

	// Waiting is set when the pass stopped at the goal/target guard.
	Waiting bool
	Goal    string
	Targets []string

	Visited int
	Skipped int
	Useless int

	Launched      tasks.Allocation
	Evicted       int
	FreedGB       float64
	ReservationGB float64

	// Allocations are the per-target totals after the pass.
	Allocations map[string]tasks.Allocation
	NodeLists   map[tasks.Kind][]string
}

// Summarize copies the parts of st a report carries.
func (p *Pass) Summarize(st *state.EngineState) {
	p.Goal = st.Goal.String()
	p.Targets = st.TargetNames()
	p.ReservationGB = st.HomeReservation
	p.Allocations = make(map[string]tasks.Allocation, len(st.Allocations))
	for target, a := range st.Allocations {
		p.Allocations[target] = a.Tasks
	}
	p.NodeLists = make(map[tasks.Kind][]string, len(tasks.Kinds))
	for _, k := range tasks.Kinds {
		p.NodeLists[k] = st.NodeList(k)
	}
}

// Totals sums the per-target allocations.
func (p *Pass) Totals() tasks.Allocation {
	var total tasks.Allocation
	for _, a := range p.Allocations {
		total = total.Plus(a)
	}
	return total
}

func kindHeaders(first ...any) []any {
	out := append([]any{}, first...)
	for _, k := range tasks.Kinds {
		out = append(out, k.String())
	}
	return out
}

func countRow(a tasks.Allocation, first ...string) []any {
	row := make([]any, 0, len(first)+len(tasks.Kinds))
	for _, f := range first {
		row = append(row, f)
	}
	for _, k := range tasks.Kinds {
		row = append(row, strconv.Itoa(a.Get(k)))
	}
	return row
}

// RenderAllocations writes one row per target with its thread totals, plus
// the node count of every kind.
func RenderAllocations(w io.Writer, st *state.EngineState) error {
	table := tablewriter.NewWriter(w)
	table.Header(kindHeaders("Target", "Score")...)

	var total tasks.Allocation
	for _, name := range st.TargetNames() {
		a := st.TargetTasks(name)
		total = total.Plus(a)
		score := ""
		if t, ok := st.Target(name); ok {
			score = strconv.FormatFloat(t.Score, 'f', 2, 64)
		}
		if err := table.Append(countRow(a, name, score)...); err != nil {
			return err
		}
	}
	if untargeted := st.UntargetedTasks(); !untargeted.IsZero() {
		total = total.Plus(untargeted)
		if err := table.Append(countRow(untargeted, "-", "")...); err != nil {
			return err
		}
	}
	if err := table.Append(countRow(total, "TOTAL", "")...); err != nil {
		return err
	}

	nodes := []any{"NODES", ""}
	for _, k := range tasks.Kinds {
		nodes = append(nodes, strconv.Itoa(len(st.NodeList(k))))
	}
	if err := table.Append(nodes...); err != nil {
		return err
	}
	return table.Render()
}

// RenderAssignment writes one row per node and target the engine runs work for.
func RenderAssignment(w io.Writer, st *state.EngineState) error {
	table := tablewriter.NewWriter(w)
	table.Header(kindHeaders("Node", "Target")...)

	nodes := make([]string, 0, len(st.Nodes))
	for node := range st.Nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		targets := make([]string, 0, len(st.Nodes[node]))
		for target := range st.Nodes[node] {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			label := target
			if target == state.Untargeted {
				label = "-"
			}
			if err := table.Append(countRow(st.Nodes[node][target], node, label)...); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

// Headline is a one-line summary of the state.
func Headline(st *state.EngineState) string {
	goal := st.Goal.String()
	if goal == "" {
		goal = "none"
	}
	total := st.UntargetedTasks()
	for _, name := range st.TargetNames() {
		total = total.Plus(st.TargetTasks(name))
	}
	return fmt.Sprintf("goal=%s targets=%d threads=%d reserved_on_home=%.2fGB",
		goal, len(st.Targets), total.Total(), st.HomeReservation)
}
