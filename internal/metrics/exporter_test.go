package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"c2c/internal/report"
	"c2c/internal/tasks"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hackPass() *report.Pass {
	return &report.Pass{
		RunID:         "run-1",
		Number:        1,
		StartedAt:     time.Unix(1700000000, 0),
		Duration:      200 * time.Millisecond,
		Goal:          "hack",
		Targets:       []string{"foodnstuff", "sigma"},
		Visited:       4,
		Skipped:       2,
		Useless:       1,
		Launched:      tasks.Allocation{Hack: 1, Grow: 50, Weaken: 10},
		Evicted:       1,
		FreedGB:       19.25,
		ReservationGB: 8,
		Allocations: map[string]tasks.Allocation{
			"foodnstuff": {Hack: 1, Grow: 50, Weaken: 10},
			"sigma":      {Grow: 3},
		},
		NodeLists: map[tasks.Kind][]string{
			tasks.Hack: {"pserv-0"},
			tasks.Grow: {"foodnstuff", "home", "pserv-0"},
		},
	}
}

func TestObservePass_AllocatedPass(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.ObservePass(context.Background(), hackPass()))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.passes.WithLabelValues("allocated")))
	assert.Equal(t, 50.0, testutil.ToFloat64(e.launched.WithLabelValues("grow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.evictions))
	assert.Equal(t, 19.25, testutil.ToFloat64(e.freed))
	assert.Equal(t, 8.0, testutil.ToFloat64(e.reservation))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.nodeList.WithLabelValues("grow")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.nodes.WithLabelValues("visited")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.targetThreads.WithLabelValues("sigma", "grow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.configuredGoal.WithLabelValues("hack")))
}

func TestObservePass_CountersAccumulate(t *testing.T) {
	e := NewExporter()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.ObservePass(context.Background(), hackPass()))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(e.launched.WithLabelValues("hack")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.evictions))
	assert.Equal(t, 1, testutil.CollectAndCount(e.passDuration))
}

func TestObservePass_WaitingOnlyCountsThePass(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.ObservePass(context.Background(), &report.Pass{Waiting: true, StartedAt: time.Now()}))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.passes.WithLabelValues("waiting")))
	assert.Equal(t, 0, testutil.CollectAndCount(e.launched))
	assert.Equal(t, 0, testutil.CollectAndCount(e.configuredGoal))
}

func TestObservePass_DropsStaleTargets(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.ObservePass(context.Background(), hackPass()))

	next := hackPass()
	delete(next.Allocations, "sigma")
	require.NoError(t, e.ObservePass(context.Background(), next))

	// One series per kind for foodnstuff only.
	assert.Equal(t, len(tasks.Kinds), testutil.CollectAndCount(e.targetThreads))
}

func TestObservePass_GoalChange(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.ObservePass(context.Background(), hackPass()))

	share := hackPass()
	share.Goal = "share"
	require.NoError(t, e.ObservePass(context.Background(), share))

	assert.Equal(t, 1, testutil.CollectAndCount(e.configuredGoal))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.configuredGoal.WithLabelValues("share")))
}

func TestHandler(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.ObservePass(context.Background(), hackPass()))

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `c2c_threads_launched_total{kind="grow"} 50`), text)
	assert.True(t, strings.Contains(text, `c2c_target_threads{kind="hack",target="foodnstuff"} 1`), text)
	// Only the engine's own registry is served.
	assert.False(t, strings.Contains(text, "go_goroutines"))

	families, err := e.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
