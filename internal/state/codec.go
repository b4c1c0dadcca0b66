package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"c2c/internal/ports"
	"c2c/internal/tasks"
)

var ErrCorruptState = errors.New("corrupt engine state")

// requiredKeys are the top-level keys a persisted snapshot must carry.
var requiredKeys = []string{
	"allocations", "goal", "targets", "nodes", "reserved_on_home",
	"hack", "grow", "weaken", "ddos", "share",
}

type snapshot struct {
	Goal            Goal                                   `json:"goal"`
	Targets         []TargetDescriptor                     `json:"targets"`
	Allocations     map[string]*TargetAllocation           `json:"allocations"`
	Hack            []string                               `json:"hack"`
	Grow            []string                               `json:"grow"`
	Weaken          []string                               `json:"weaken"`
	Ddos            []string                               `json:"ddos"`
	Share           []string                               `json:"share"`
	Nodes           map[string]map[string]tasks.Allocation `json:"nodes"`
	HomeReservation float64                                `json:"reserved_on_home"`
}

func (s *snapshot) list(k tasks.Kind) *[]string {
	switch k {
	case tasks.Hack:
		return &s.Hack
	case tasks.Grow:
		return &s.Grow
	case tasks.Weaken:
		return &s.Weaken
	case tasks.Ddos:
		return &s.Ddos
	default:
		return &s.Share
	}
}

// Encode serializes the state. Equal states always encode to identical bytes.
func Encode(s *EngineState) ([]byte, error) {
	snap := snapshot{
		Goal:            s.Goal,
		Targets:         s.Targets,
		Allocations:     s.Allocations,
		Nodes:           s.Nodes,
		HomeReservation: s.HomeReservation,
	}
	if snap.Targets == nil {
		snap.Targets = []TargetDescriptor{}
	}
	if snap.Allocations == nil {
		snap.Allocations = map[string]*TargetAllocation{}
	}
	if snap.Nodes == nil {
		snap.Nodes = map[string]map[string]tasks.Allocation{}
	}
	for _, k := range tasks.Kinds {
		*snap.list(k) = s.NodeList(k)
	}
	return json.Marshal(snap)
}

// Decode parses and validates a persisted snapshot. Any missing key, wrong
// type or inconsistency yields ErrCorruptState.
func Decode(data []byte) (*EngineState, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCorruptState)
	}
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			return nil, fmt.Errorf("missing key %q: %w", key, ErrCorruptState)
		}
	}

	var snap snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCorruptState)
	}
	if snap.Targets == nil || snap.Allocations == nil || snap.Nodes == nil {
		return nil, fmt.Errorf("targets, allocations and nodes must not be null: %w", ErrCorruptState)
	}
	if snap.HomeReservation < 0 {
		return nil, fmt.Errorf("negative home reservation: %w", ErrCorruptState)
	}
	for target, a := range snap.Allocations {
		if a == nil {
			return nil, fmt.Errorf("allocation for %q is null: %w", target, ErrCorruptState)
		}
		if err := checkCounts(a.Tasks); err != nil {
			return nil, fmt.Errorf("allocation for %q: %v: %w", target, err, ErrCorruptState)
		}
	}
	for node, perTarget := range snap.Nodes {
		for target, a := range perTarget {
			if err := checkCounts(a); err != nil {
				return nil, fmt.Errorf("node %s target %q: %v: %w", node, target, err, ErrCorruptState)
			}
		}
	}

	st := &EngineState{
		Goal:            snap.Goal,
		Targets:         snap.Targets,
		Allocations:     snap.Allocations,
		Nodes:           snap.Nodes,
		HomeReservation: snap.HomeReservation,
	}
	for node, perTarget := range st.Nodes {
		for target, a := range perTarget {
			if a.IsZero() {
				delete(perTarget, target)
			}
		}
		if len(perTarget) == 0 {
			delete(st.Nodes, node)
		}
	}
	for _, k := range tasks.Kinds {
		persisted := append([]string{}, *snap.list(k)...)
		sort.Strings(persisted)
		if !equalStrings(persisted, st.NodeList(k)) {
			return nil, fmt.Errorf("%s node list disagrees with node records: %w", k, ErrCorruptState)
		}
	}
	return st, nil
}

func checkCounts(a tasks.Allocation) error {
	for _, k := range tasks.Kinds {
		if a.Get(k) < 0 {
			return fmt.Errorf("negative %s count", k)
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Load restores the state persisted on port. An empty slot yields a fresh
// state; a corrupt one yields a fresh state together with the decode error.
func Load(m ports.Mailbox, port int) (*EngineState, error) {
	data, err := m.Peek(port)
	if err != nil {
		return New(), err
	}
	if ports.IsEmpty(data) {
		return New(), nil
	}
	st, err := Decode([]byte(data))
	if err != nil {
		return New(), err
	}
	return st, nil
}

// Save publishes the state on port.
func Save(m ports.Mailbox, port int, s *EngineState) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return ports.Replace(m, port, string(data))
}
