package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidGoal = errors.New("invalid goal")

// Goal is the high-level strategy. GoalNone means no goal has been set yet.
type Goal int

const (
	GoalNone Goal = iota
	GoalHack
	GoalDdos
	GoalShare
)

// Goals lists the selectable goals.
var Goals = []Goal{GoalHack, GoalDdos, GoalShare}

func (g Goal) String() string {
	switch g {
	case GoalHack:
		return "hack"
	case GoalDdos:
		return "ddos"
	case GoalShare:
		return "share"
	default:
		return ""
	}
}

// GoalNames returns the selectable goal names in order.
func GoalNames() []string {
	names := make([]string, 0, len(Goals))
	for _, g := range Goals {
		names = append(names, g.String())
	}
	return names
}

// ParseGoal accepts one of the goal names, case-insensitively.
func ParseGoal(s string) (Goal, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, g := range Goals {
		if g.String() == name {
			return g, nil
		}
	}
	return GoalNone, fmt.Errorf("%q is not one of %s: %w", s, strings.Join(GoalNames(), ", "), ErrInvalidGoal)
}

func (g Goal) MarshalJSON() ([]byte, error) {
	if g == GoalNone {
		return []byte("null"), nil
	}
	return json.Marshal(g.String())
}

func (g *Goal) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = GoalNone
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("goal must be a string or null: %w", err)
	}
	parsed, err := ParseGoal(name)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
