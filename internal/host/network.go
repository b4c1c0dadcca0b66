package host

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"c2c/internal/logging"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Topology is the YAML description of a simulated network.
type Topology struct {
	Scripts map[string]float64 `yaml:"scripts"`
	Servers []ServerSpec       `yaml:"servers"`
}

type ServerSpec struct {
	Hostname     string     `yaml:"hostname"`
	MaxRAM       float64    `yaml:"max_ram"`
	Root         bool       `yaml:"root"`
	UsedByOthers float64    `yaml:"used_by_others"`
	Neighbors    []string   `yaml:"neighbors"`
	Files        []string   `yaml:"files"`
	Data         ServerData `yaml:",inline"`
}

type server struct {
	spec  ServerSpec
	files map[string]bool
}

type process struct {
	Process
	hostname string
}

// Network is an in-process Host backed by a static topology. Launched workers
// stay in the process table until killed; they never finish on their own.
type Network struct {
	mu      sync.Mutex
	servers map[string]*server
	scripts map[string]float64
	procs   map[int]*process
	nextPID int
	logger  *logrus.Logger

	// fail makes the named operation ("exec", "kill", "ram", ...) fail for a hostname.
	fail map[string]map[string]error
}

func LoadTopology(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	return NewNetwork(topo)
}

func NewNetwork(topo Topology) (*Network, error) {
	n := &Network{
		servers: make(map[string]*server),
		scripts: make(map[string]float64),
		procs:   make(map[int]*process),
		nextPID: 1,
		logger:  logging.GetLogger(),
		fail:    make(map[string]map[string]error),
	}
	for script, ram := range topo.Scripts {
		if ram <= 0 {
			return nil, fmt.Errorf("script %s: ram must be greater than 0", script)
		}
		n.scripts[script] = ram
	}
	for _, spec := range topo.Servers {
		if spec.Hostname == "" {
			return nil, fmt.Errorf("server without hostname")
		}
		if _, exists := n.servers[spec.Hostname]; exists {
			return nil, fmt.Errorf("server %s defined twice", spec.Hostname)
		}
		files := make(map[string]bool)
		for _, f := range spec.Files {
			files[f] = true
		}
		n.servers[spec.Hostname] = &server{spec: spec, files: files}
	}
	// Links are symmetric even when only one side lists them.
	for name, s := range n.servers {
		for _, neighbor := range s.spec.Neighbors {
			other, ok := n.servers[neighbor]
			if !ok {
				return nil, fmt.Errorf("server %s: unknown neighbor %s", name, neighbor)
			}
			if !contains(other.spec.Neighbors, name) {
				other.spec.Neighbors = append(other.spec.Neighbors, name)
			}
		}
	}
	return n, nil
}

// FailOn injects err for op on hostname; a nil err clears it.
func (n *Network) FailOn(op, hostname string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.fail[op], hostname)
		return
	}
	if n.fail[op] == nil {
		n.fail[op] = make(map[string]error)
	}
	n.fail[op][hostname] = err
}

// SetUsedByOthers simulates the player or unrelated scripts consuming RAM.
func (n *Network) SetUsedByOthers(hostname string, gb float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.servers[hostname]
	if !ok {
		return fmt.Errorf("%s: %w", hostname, ErrUnknownServer)
	}
	s.spec.UsedByOthers = gb
	return nil
}

// SetMaxRAM simulates a RAM upgrade.
func (n *Network) SetMaxRAM(hostname string, gb float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.servers[hostname]
	if !ok {
		return fmt.Errorf("%s: %w", hostname, ErrUnknownServer)
	}
	s.spec.MaxRAM = gb
	return nil
}

func (n *Network) injected(op, hostname string) error {
	if byHost, ok := n.fail[op]; ok {
		return byHost[hostname]
	}
	return nil
}

func (n *Network) lookup(hostname string) (*server, error) {
	s, ok := n.servers[hostname]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hostname, ErrUnknownServer)
	}
	return s, nil
}

func (n *Network) Scan(hostname string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, err := n.lookup(hostname)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.spec.Neighbors...), nil
}

func (n *Network) HasRootAccess(hostname string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, err := n.lookup(hostname)
	return err == nil && s.spec.Root
}

func (n *Network) MaxRAM(hostname string) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("ram", hostname); err != nil {
		return 0, err
	}
	s, err := n.lookup(hostname)
	if err != nil {
		return 0, err
	}
	return s.spec.MaxRAM, nil
}

func (n *Network) UsedRAM(hostname string) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("ram", hostname); err != nil {
		return 0, err
	}
	s, err := n.lookup(hostname)
	if err != nil {
		return 0, err
	}
	return n.usedLocked(s), nil
}

func (n *Network) usedLocked(s *server) float64 {
	used := s.spec.UsedByOthers
	for _, p := range n.procs {
		if p.hostname == s.spec.Hostname {
			used += float64(p.Threads) * n.scripts[p.Script]
		}
	}
	return used
}

func (n *Network) ScriptRAM(script string) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ram, ok := n.scripts[script]
	if !ok {
		return 0, fmt.Errorf("%s: %w", script, ErrScriptMissing)
	}
	return ram, nil
}

// Processes returns the process table of hostname ordered by PID.
func (n *Network) Processes(hostname string) ([]Process, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("ps", hostname); err != nil {
		return nil, err
	}
	if _, err := n.lookup(hostname); err != nil {
		return nil, err
	}
	var out []Process
	for _, p := range n.procs {
		if p.hostname == hostname {
			cp := p.Process
			cp.Args = append([]string(nil), p.Args...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (n *Network) Exec(script, hostname string, threads int, args ...string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("exec", hostname); err != nil {
		return 0, err
	}
	s, err := n.lookup(hostname)
	if err != nil {
		return 0, err
	}
	if threads <= 0 {
		return 0, fmt.Errorf("invalid thread count %d", threads)
	}
	if !s.files[script] {
		return 0, fmt.Errorf("%s on %s: %w", script, hostname, ErrScriptMissing)
	}
	ram, ok := n.scripts[script]
	if !ok {
		return 0, fmt.Errorf("%s: %w", script, ErrScriptMissing)
	}
	need := ram * float64(threads)
	free := s.spec.MaxRAM - n.usedLocked(s)
	// Small tolerance for float accumulation of per-thread costs.
	if need > free+1e-9 {
		return 0, fmt.Errorf("%s needs %.2fGB on %s, %.2fGB free: %w", script, need, hostname, free, ErrInsufficientRAM)
	}

	pid := n.nextPID
	n.nextPID++
	n.procs[pid] = &process{
		Process:  Process{PID: pid, Script: script, Threads: threads, Args: append([]string(nil), args...)},
		hostname: hostname,
	}
	n.logger.WithFields(logrus.Fields{
		"pid":     pid,
		"script":  script,
		"host":    hostname,
		"threads": threads,
	}).Trace("Process started")
	return pid, nil
}

func (n *Network) Kill(pid int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.procs[pid]
	if !ok {
		return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	if err := n.injected("kill", p.hostname); err != nil {
		return err
	}
	delete(n.procs, pid)
	return nil
}

func (n *Network) ScriptKill(script, hostname string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("kill", hostname); err != nil {
		return err
	}
	if _, err := n.lookup(hostname); err != nil {
		return err
	}
	for pid, p := range n.procs {
		if p.hostname == hostname && p.Script == script {
			delete(n.procs, pid)
		}
	}
	return nil
}

func (n *Network) KillAll(hostname string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("kill", hostname); err != nil {
		return err
	}
	if _, err := n.lookup(hostname); err != nil {
		return err
	}
	for pid, p := range n.procs {
		if p.hostname == hostname {
			delete(n.procs, pid)
		}
	}
	return nil
}

func (n *Network) Copy(scripts []string, hostname, source string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.injected("copy", hostname); err != nil {
		return err
	}
	dst, err := n.lookup(hostname)
	if err != nil {
		return err
	}
	src, err := n.lookup(source)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if !src.files[script] {
			return fmt.Errorf("%s on %s: %w", script, source, ErrScriptMissing)
		}
		dst.files[script] = true
	}
	return nil
}

func (n *Network) ServerInfo(hostname string) (ServerData, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, err := n.lookup(hostname)
	if err != nil {
		return ServerData{}, err
	}
	return s.spec.Data, nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
