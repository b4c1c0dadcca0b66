package accounting

import (
	"errors"
	"testing"

	"c2c/internal/config"
	"c2c/internal/host"
	"c2c/internal/state"
	"c2c/internal/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	growJS   = "c2c/actions/grow.js"
	weakenJS = "c2c/actions/weaken.js"
	hackJS   = "c2c/actions/hack.js"
)

func newTestNetwork(t *testing.T, homeRAM float64) *host.Network {
	t.Helper()
	files := []string{hackJS, growJS, weakenJS, "c2c/actions/share_ram.js", "player.js"}
	n, err := host.NewNetwork(host.Topology{
		Scripts: map[string]float64{
			hackJS:                     1.7,
			growJS:                     1.75,
			weakenJS:                   1.75,
			"c2c/actions/share_ram.js": 4,
			"player.js":                2,
		},
		Servers: []host.ServerSpec{
			{Hostname: "home", MaxRAM: homeRAM, Root: true, Neighbors: []string{"pserv-0"}, Files: files},
			{Hostname: "pserv-0", MaxRAM: 64, Root: true, Files: files},
		},
	})
	require.NoError(t, err)
	return n
}

func exec(t *testing.T, n *host.Network, st *state.EngineState, script, node string, kind tasks.Kind, threads int, target string) int {
	t.Helper()
	args := []string{}
	if target != "" {
		args = append(args, target, "100")
	}
	pid, err := n.Exec(script, node, threads, args...)
	require.NoError(t, err, "exec %s on %s", script, node)
	if st != nil {
		var a tasks.Allocation
		a.Set(kind, threads)
		st.RecordLaunch(node, target, a)
	}
	return pid
}

func hackState(t *testing.T) *state.EngineState {
	t.Helper()
	st := state.New()
	st.SetGoal(state.GoalHack)
	st.SetTargets([]state.TargetDescriptor{{Hostname: "foodnstuff", Score: 1}})
	return st
}

func TestFreeCapacity(t *testing.T) {
	n := newTestNetwork(t, 32)
	require.NoError(t, n.SetUsedByOthers("home", 4))
	exec(t, n, nil, growJS, "home", tasks.Grow, 4, "foodnstuff")
	exec(t, n, nil, "player.js", "home", tasks.Hack, 2, "")

	acct := NewAccountant(n, tasks.FromConfig(config.Default().Scripts), "home")

	engine, err := acct.EngineUsage("home")
	require.NoError(t, err)
	assert.InDelta(t, 7, engine, 1e-9)

	// 32 max, 4 + 4 used by others, 8 reserved.
	assert.InDelta(t, 16, acct.FreeCapacity("home", 8), 1e-9)
	// 32 max, 15 used, 8 reserved.
	assert.InDelta(t, 9, acct.Headroom("home", 8), 1e-9)
	assert.InDelta(t, 64, acct.FreeCapacity("pserv-0", 8), 1e-9, "reservation must only apply to home")
	assert.Zero(t, acct.FreeCapacity("home", 100), "free capacity clamps at 0")
}

func TestFreeCapacity_FailsClosed(t *testing.T) {
	n := newTestNetwork(t, 32)
	acct := NewAccountant(n, tasks.FromConfig(config.Default().Scripts), "home")

	n.FailOn("ram", "pserv-0", errors.New("unreachable"))
	assert.Zero(t, acct.FreeCapacity("pserv-0", 0))
	assert.Zero(t, acct.Headroom("pserv-0", 0))

	n.FailOn("ps", "home", errors.New("unreachable"))
	assert.Zero(t, acct.FreeCapacity("home", 0))
	assert.Zero(t, acct.FreeCapacity("nowhere", 0))
}

func newEnforcer(n host.Host, policy string) *ReservationEnforcer {
	table := tasks.FromConfig(config.Default().Scripts)
	return NewReservationEnforcer(NewAccountant(n, table, "home"), n, table, policy)
}

func TestEnforce_NoOps(t *testing.T) {
	n := newTestNetwork(t, 32)
	st := hackState(t)
	exec(t, n, st, growJS, "home", tasks.Grow, 8, "foodnstuff")
	enforcer := newEnforcer(n, "")

	_, acted := enforcer.Enforce(st)
	require.False(t, acted, "expected no action without a reservation")
	st.SetHomeReservation(10)
	_, acted = enforcer.Enforce(st)
	require.False(t, acted, "expected no action while the reservation is satisfied")
}

func TestEnforce_LargestFirstKillsOne(t *testing.T) {
	n := newTestNetwork(t, 32)
	st := hackState(t)
	exec(t, n, st, hackJS, "home", tasks.Hack, 1, "foodnstuff")
	exec(t, n, st, weakenJS, "home", tasks.Weaken, 2, "foodnstuff")
	growPID := exec(t, n, st, growJS, "home", tasks.Grow, 8, "foodnstuff")
	st.SetHomeReservation(20)

	// 19.2GB used leaves 12.8 free: 7.2 short. The 14GB grow process covers it alone.
	result, acted := newEnforcer(n, "").Enforce(st)
	require.True(t, acted)
	require.Len(t, result.Evicted, 1)
	assert.Equal(t, growPID, result.Evicted[0].PID)
	assert.InDelta(t, 7.2, result.Shortfall, 1e-9)
	assert.InDelta(t, 14, result.Freed, 1e-9)
	assert.False(t, st.InList(tasks.Grow, "home"), "home should have left the grow list")
	assert.True(t, st.InList(tasks.Weaken, "home"))
	assert.True(t, st.InList(tasks.Hack, "home"))
	assert.Equal(t, tasks.Allocation{Hack: 1, Weaken: 2}, st.TargetTasks("foodnstuff"))
}

func TestEnforce_ConvergesWithMinimalKills(t *testing.T) {
	n := newTestNetwork(t, 32)
	require.NoError(t, n.SetUsedByOthers("home", 8))
	st := hackState(t)
	for i := 0; i < 6; i++ {
		exec(t, n, st, weakenJS, "home", tasks.Weaken, 2, "foodnstuff")
	}
	st.SetHomeReservation(12)
	enforcer := newEnforcer(n, "")

	// 29GB used, 3 free, 9 short: three 3.5GB processes are needed.
	result, _ := enforcer.Enforce(st)
	require.Len(t, result.Evicted, 3)
	require.GreaterOrEqual(t, result.Freed, result.Shortfall, "reservation not restored")

	// The player takes more RAM: 12 + 10.5 used, 9.5 free, 2.5 short.
	require.NoError(t, n.SetUsedByOthers("home", 12))
	second, _ := enforcer.Enforce(st)
	assert.Less(t, second.Shortfall, result.Shortfall, "shortfall should shrink between passes")
	require.Len(t, second.Evicted, 1)

	_, acted := enforcer.Enforce(st)
	assert.False(t, acted, "expected no action once the reservation holds")
	assert.Equal(t, 4, st.TargetTasks("foodnstuff").Weaken)
}

func TestEnforce_ProcessOrder(t *testing.T) {
	n := newTestNetwork(t, 32)
	st := hackState(t)
	first := exec(t, n, st, weakenJS, "home", tasks.Weaken, 2, "foodnstuff")
	exec(t, n, st, growJS, "home", tasks.Grow, 10, "foodnstuff")
	st.SetHomeReservation(16)

	// 21 used, 11 free, 5 short: the first process is too small on its own.
	result, _ := newEnforcer(n, config.EvictionProcessOrder).Enforce(st)
	require.Len(t, result.Evicted, 2)
	assert.Equal(t, first, result.Evicted[0].PID)
	assert.False(t, st.IsAssigned("home"), "home should carry no threads after losing every process")
}

// killFailingHost refuses to kill one PID.
type killFailingHost struct {
	*host.Network
	pid int
}

func (h *killFailingHost) Kill(pid int) error {
	if pid == h.pid {
		return errors.New("permission denied")
	}
	return h.Network.Kill(pid)
}

func TestEnforce_KillFailureMovesOn(t *testing.T) {
	n := newTestNetwork(t, 32)
	st := hackState(t)
	big := exec(t, n, st, growJS, "home", tasks.Grow, 8, "foodnstuff")
	small := exec(t, n, st, weakenJS, "home", tasks.Weaken, 4, "foodnstuff")
	st.SetHomeReservation(16)

	// 21 used, 11 free, 5 short.
	h := &killFailingHost{Network: n, pid: big}
	table := tasks.FromConfig(config.Default().Scripts)
	enforcer := NewReservationEnforcer(NewAccountant(h, table, "home"), h, table, "")

	result, acted := enforcer.Enforce(st)
	require.True(t, acted, "expected the second candidate to be killed")
	require.Len(t, result.Evicted, 1)
	assert.Equal(t, small, result.Evicted[0].PID)
	assert.InDelta(t, 7, result.Freed, 1e-9, "failed kill must not count as freed")
	assert.Equal(t, 8, st.TargetTasks("foodnstuff").Grow, "grow threads should be untouched")
}

func TestEnforce_FloorsUntrackedThreads(t *testing.T) {
	n := newTestNetwork(t, 32)
	st := hackState(t)
	// Running but missing from the bookkeeping, e.g. after a corrupt state was discarded.
	exec(t, n, nil, growJS, "home", tasks.Grow, 10, "foodnstuff")
	st.SetHomeReservation(20)

	result, acted := newEnforcer(n, "").Enforce(st)
	require.True(t, acted)
	require.Len(t, result.Evicted, 1)
	assert.True(t, st.TargetTasks("foodnstuff").IsZero(), "counters must never go negative")
}
