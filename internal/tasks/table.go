package tasks

import (
	"math"

	"c2c/internal/config"
)

// Command describes one worker script.
type Command struct {
	Kind   Kind
	Script string // full path, directory included
	Ratio  float64
	RAM    float64 // GB per thread
}

// Ratios are the target fractions of hack, grow and weaken threads.
type Ratios struct {
	Hack   float64
	Grow   float64
	Weaken float64
}

func (r Ratios) Get(k Kind) float64 {
	switch k {
	case Hack:
		return r.Hack
	case Grow:
		return r.Grow
	case Weaken:
		return r.Weaken
	}
	return 0
}

// Table is the fixed command table the engine dispatches from.
type Table struct {
	commands [numKinds]Command
}

const numKinds = int(Share) + 1

func NewTable(commands ...Command) *Table {
	t := &Table{}
	for _, c := range commands {
		t.commands[c.Kind] = c
	}
	return t
}

func FromConfig(cfg config.ScriptsConfig) *Table {
	build := func(k Kind, s config.ScriptConfig) Command {
		return Command{Kind: k, Script: cfg.Dir + s.Src, Ratio: s.Ratio, RAM: s.RAM}
	}
	return NewTable(
		build(Hack, cfg.Hack),
		build(Grow, cfg.Grow),
		build(Weaken, cfg.Weaken),
		build(Ddos, cfg.Ddos),
		build(Share, cfg.Share),
	)
}

func (t *Table) Command(k Kind) Command {
	return t.commands[k]
}

func (t *Table) Script(k Kind) string {
	return t.commands[k].Script
}

func (t *Table) RAM(k Kind) float64 {
	return t.commands[k].RAM
}

// ScriptRAM returns the per-thread cost of script if it belongs to the table.
func (t *Table) ScriptRAM(script string) (float64, bool) {
	for _, c := range t.commands {
		if c.Script == script {
			return c.RAM, true
		}
	}
	return 0, false
}

// SetRAM overrides the per-thread cost of every command using script.
func (t *Table) SetRAM(script string, ram float64) {
	for i := range t.commands {
		if t.commands[i].Script == script {
			t.commands[i].RAM = ram
		}
	}
}

func (t *Table) Ratios() Ratios {
	return Ratios{
		Hack:   t.commands[Hack].Ratio,
		Grow:   t.commands[Grow].Ratio,
		Weaken: t.commands[Weaken].Ratio,
	}
}

// UnitSetCost is the RAM of one balanced bundle of hack, grow and weaken threads.
func (t *Table) UnitSetCost() float64 {
	cost := 0.0
	for _, k := range HackFamily {
		cost += t.commands[k].Ratio * t.commands[k].RAM
	}
	return cost
}

// MinFamilyRAM is the cheapest single hack, grow or weaken thread.
func (t *Table) MinFamilyRAM() float64 {
	low := math.Inf(1)
	for _, k := range HackFamily {
		low = math.Min(low, t.commands[k].RAM)
	}
	return low
}

// Cost returns the RAM implied by an allocation.
func (t *Table) Cost(a Allocation) float64 {
	cost := 0.0
	for _, k := range Kinds {
		cost += float64(a.Get(k)) * t.commands[k].RAM
	}
	return cost
}

// Scripts returns the distinct script paths of the given kinds.
func (t *Table) Scripts(kinds ...Kind) []string {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	seen := make(map[string]bool)
	var out []string
	for _, k := range kinds {
		s := t.commands[k].Script
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// IsEngineScript reports whether script belongs to any command.
func (t *Table) IsEngineScript(script string) bool {
	for _, c := range t.commands {
		if c.Script == script {
			return true
		}
	}
	return false
}

// KindOf resolves the kind of a running script. When several kinds share a
// script, preferDdos picks ddos over the hack family.
func (t *Table) KindOf(script string, preferDdos bool) (Kind, bool) {
	var matches []Kind
	for _, c := range t.commands {
		if c.Script == script {
			matches = append(matches, c.Kind)
		}
	}
	switch len(matches) {
	case 0:
		return 0, false
	case 1:
		return matches[0], true
	}
	for _, k := range matches {
		if (k == Ddos) == preferDdos {
			return k, true
		}
	}
	return matches[0], true
}
