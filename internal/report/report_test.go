package report

import (
	"bytes"
	"strings"
	"testing"

	"c2c/internal/state"
	"c2c/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *state.EngineState {
	st := state.New()
	st.SetGoal(state.GoalHack)
	st.SetTargets([]state.TargetDescriptor{{Hostname: "foodnstuff", Score: 1}, {Hostname: "n00dles", Score: 0.25}})
	st.RecordLaunch("pserv-0", "foodnstuff", tasks.Allocation{Hack: 1, Grow: 28, Weaken: 6})
	st.RecordLaunch("home", "n00dles", tasks.Allocation{Grow: 3})
	st.SetHomeReservation(8)
	return st
}

func TestRenderAllocations(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderAllocations(&buf, sampleState()))
	out := buf.String()

	assert.Contains(t, out, "foodnstuff")
	assert.Contains(t, out, "n00dles")
	assert.Contains(t, out, "0.25")
	assert.Contains(t, out, "31")
	assert.Contains(t, strings.ToUpper(out), "TOTAL")
	assert.Contains(t, strings.ToUpper(out), "WEAKEN")
}

func TestRenderAssignment(t *testing.T) {
	st := sampleState()
	st.RecordLaunch("pserv-1", state.Untargeted, tasks.Allocation{Share: 4})

	var buf bytes.Buffer
	require.NoError(t, RenderAssignment(&buf, st))
	out := buf.String()

	for _, want := range []string{"home", "pserv-0", "pserv-1", "foodnstuff", "n00dles"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "home"), strings.Index(out, "pserv-0"))
}

func TestSummarize(t *testing.T) {
	st := sampleState()
	var p Pass
	p.Summarize(st)

	assert.Equal(t, "hack", p.Goal)
	assert.Equal(t, []string{"foodnstuff", "n00dles"}, p.Targets)
	assert.Equal(t, 8.0, p.ReservationGB)
	assert.Equal(t, []string{"home", "pserv-0"}, p.NodeLists[tasks.Grow])
	assert.Equal(t, tasks.Allocation{Hack: 1, Grow: 31, Weaken: 6}, p.Totals())
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "goal=none targets=0 threads=0 reserved_on_home=0.00GB", Headline(state.New()))
	assert.Equal(t, "goal=hack targets=2 threads=38 reserved_on_home=8.00GB", Headline(sampleState()))
}
