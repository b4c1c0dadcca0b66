package scheduler

import (
	"c2c/internal/state"
	"c2c/internal/tasks"

	"github.com/sirupsen/logrus"
)

func nodeLogFields(st *state.EngineState, node string) logrus.Fields {
	fields := logrus.Fields{"node": node}
	if st == nil {
		return fields
	}
	totals := st.NodeTotals(node)
	if totals.IsZero() {
		return fields
	}
	for _, k := range tasks.Kinds {
		if n := totals.Get(k); n > 0 {
			fields[k.String()+"_threads"] = n
		}
	}
	targets := make([]string, 0, len(st.Nodes[node]))
	for target := range st.Nodes[node] {
		if target != state.Untargeted {
			targets = append(targets, target)
		}
	}
	if len(targets) > 0 {
		fields["targets"] = targets
	}
	return fields
}
