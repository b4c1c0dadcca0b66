package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"c2c/internal/logging"
	"c2c/internal/ports"
	"c2c/internal/state"
	"c2c/internal/tasks"
)

const testTopology = `
scripts:
  c2c/actions/hack.js: 1.7
  c2c/actions/grow.js: 1.75
  c2c/actions/weaken.js: 1.75
  c2c/actions/share_ram.js: 4
servers:
  - hostname: home
    max_ram: 32
    root: true
    neighbors: [foodnstuff, n00dles, pserv-0, CSEC]
    files: [c2c/actions/hack.js, c2c/actions/grow.js, c2c/actions/weaken.js, c2c/actions/share_ram.js]
  - hostname: foodnstuff
    max_ram: 16
    root: true
    money: {max: 1000000, current: 500000}
    security: {min: 3, base: 10, current: 10}
    growth: 50
    time: 20000
    chance: 0.9
  - hostname: n00dles
    max_ram: 4
    root: true
    money: {max: 70000}
    time: 10000
  - hostname: pserv-0
    max_ram: 64
    root: true
  - hostname: CSEC
    max_ram: 8
    money: {max: 5000000}
    time: 30000
`

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type env struct {
	configFile string
	portsDir   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	topology := filepath.Join(dir, "topology.yaml")
	if err := os.WriteFile(topology, []byte(testTopology), 0o644); err != nil {
		t.Fatalf("failed to write topology: %v", err)
	}
	portsDir := filepath.Join(dir, "ports")
	configFile := filepath.Join(dir, "c2c.yaml")
	content := fmt.Sprintf("engine:\n  topology: %s\n  node_throttle: 0s\nports:\n  dir: %s\n", topology, portsDir)
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return &env{configFile: configFile, portsDir: portsDir}
}

func (e *env) run(args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs(append(args, "--config", e.configFile))
	err := root.Execute()
	return out.String(), err
}

func (e *env) peek(t *testing.T, port int) string {
	t.Helper()
	mailbox, err := ports.NewFileMailbox(e.portsDir)
	if err != nil {
		t.Fatalf("failed to open mailbox: %v", err)
	}
	data, err := mailbox.Peek(port)
	if err != nil {
		t.Fatalf("failed to peek port %d: %v", port, err)
	}
	return data
}

func TestSetGoal(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run("set-goal", "HACK"); err != nil {
		t.Fatalf("set-goal failed: %v", err)
	}
	if got := e.peek(t, 9001); got != "hack" {
		t.Fatalf("expected goal port to hold hack, got %q", got)
	}

	_, err := e.run("set-goal", "mine")
	if !errors.Is(err, state.ErrInvalidGoal) {
		t.Fatalf("expected ErrInvalidGoal, got %v", err)
	}
	if got := e.peek(t, 9001); got != "hack" {
		t.Fatalf("an invalid goal must not be written, got %q", got)
	}
}

func TestReserveHome(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run("reserve-home", "8.5"); err != nil {
		t.Fatalf("reserve-home failed: %v", err)
	}
	if got := e.peek(t, 9003); got != "8.5" {
		t.Fatalf("unexpected reservation payload %q", got)
	}
	if _, err := e.run("reserve-home", "-1"); err == nil {
		t.Fatal("expected a negative reservation to be rejected")
	}
	if got := e.peek(t, 9003); got != "8.5" {
		t.Fatalf("a rejected reservation must not be written, got %q", got)
	}
}

func TestSetTargets_Discovery(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run("set-targets"); err != nil {
		t.Fatalf("set-targets failed: %v", err)
	}
	targets, err := state.ParseTargets(e.peek(t, 9002))
	if err != nil {
		t.Fatalf("written targets do not parse: %v", err)
	}
	// pserv-0 has no money and CSEC no root access.
	if len(targets) != 2 || targets[0].Hostname != "foodnstuff" || targets[1].Hostname != "n00dles" {
		t.Fatalf("unexpected targets %+v", targets)
	}
	if targets[0].Score != 50 {
		t.Fatalf("expected score money.max/time = 50, got %v", targets[0].Score)
	}

	if _, err := e.run("set-targets", "--limit", "1"); err != nil {
		t.Fatalf("set-targets --limit failed: %v", err)
	}
	targets, _ = state.ParseTargets(e.peek(t, 9002))
	if len(targets) != 1 || targets[0].Hostname != "foodnstuff" {
		t.Fatalf("expected only the most valuable target, got %+v", targets)
	}
}

func TestSetTargets_Explicit(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run("set-targets", "CSEC", "foodnstuff", "CSEC"); err != nil {
		t.Fatalf("set-targets failed: %v", err)
	}
	var targets []state.TargetDescriptor
	if err := json.Unmarshal([]byte(e.peek(t, 9002)), &targets); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if len(targets) != 2 || targets[0].Hostname != "CSEC" || targets[0].Score != 1 || targets[1].Data.Money.Max != 1000000 {
		t.Fatalf("unexpected targets %+v", targets)
	}

	if _, err := e.run("set-targets", "nowhere"); err == nil {
		t.Fatal("expected an unknown host to be rejected")
	}
}

func TestPorts(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run("set-targets", "foodnstuff"); err != nil {
		t.Fatalf("set-targets failed: %v", err)
	}

	out, err := e.run("ports", "peek", "targets")
	if err != nil {
		t.Fatalf("ports peek failed: %v", err)
	}
	if !strings.Contains(out, "\n  \"hostname\": \"foodnstuff\"") {
		t.Fatalf("expected pretty printed JSON, got %q", out)
	}

	if _, err := e.run("ports", "clear", "9002"); err != nil {
		t.Fatalf("ports clear failed: %v", err)
	}
	out, err = e.run("ports", "peek", "9002")
	if err != nil {
		t.Fatalf("ports peek failed: %v", err)
	}
	if strings.TrimSpace(out) != ports.NullPortData {
		t.Fatalf("expected an empty port, got %q", out)
	}

	if _, err := e.run("ports", "peek", "nine"); !errors.Is(err, ports.ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
}

func TestRunOnceAndState(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("run", "--once")
	if err != nil {
		t.Fatalf("run --once failed: %v", err)
	}
	if !strings.Contains(out, "goal=none") {
		t.Fatalf("expected a waiting pass, got %q", out)
	}

	for _, args := range [][]string{{"set-goal", "hack"}, {"set-targets", "foodnstuff"}} {
		if _, err := e.run(args...); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
	}
	if _, err := e.run("run", "--once"); err != nil {
		t.Fatalf("run --once failed: %v", err)
	}

	mailbox, _ := ports.NewFileMailbox(e.portsDir)
	st, err := state.Load(mailbox, 9000)
	if err != nil {
		t.Fatalf("persisted state is unusable: %v", err)
	}
	if st.Goal != state.GoalHack || !st.InList(tasks.Hack, "pserv-0") {
		t.Fatalf("unexpected persisted state: goal=%v hack=%v", st.Goal, st.NodeList(tasks.Hack))
	}

	out, err = e.run("state", "--nodes")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	for _, want := range []string{"goal=hack", "foodnstuff", "pserv-0", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("state output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_RequiresTopology(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs([]string{"run", "--once"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "topology") {
		t.Fatalf("expected a missing topology error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	e := newEnv(t)
	if out, err := e.run("validate"); err != nil || !strings.Contains(out, "is valid") {
		t.Fatalf("expected a valid config, got %q, %v", out, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("scripts:\n  hack:\n    ratio: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs([]string{"validate", "-c", bad})
	if err := root.Execute(); err == nil {
		t.Fatal("expected ratios that do not sum to 1 to be rejected")
	}
}
