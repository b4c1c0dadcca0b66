package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is a category of worker script.
type Kind int

const (
	Hack Kind = iota
	Grow
	Weaken
	Ddos
	Share
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{Hack, Grow, Weaken, Ddos, Share}

// HackFamily are the kinds allocated together under the hack goal.
var HackFamily = []Kind{Hack, Grow, Weaken}

func (k Kind) String() string {
	switch k {
	case Hack:
		return "hack"
	case Grow:
		return "grow"
	case Weaken:
		return "weaken"
	case Ddos:
		return "ddos"
	case Share:
		return "share"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Targeted reports whether the kind takes a target hostname argument.
func (k Kind) Targeted() bool {
	return k != Share
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(strings.TrimSpace(s), k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown task kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Allocation records thread counts per kind. Counts are never negative.
type Allocation struct {
	Hack   int `json:"hack"`
	Grow   int `json:"grow"`
	Weaken int `json:"weaken"`
	Ddos   int `json:"ddos,omitempty"`
	Share  int `json:"share,omitempty"`
}

func (a Allocation) Get(k Kind) int {
	switch k {
	case Hack:
		return a.Hack
	case Grow:
		return a.Grow
	case Weaken:
		return a.Weaken
	case Ddos:
		return a.Ddos
	case Share:
		return a.Share
	}
	return 0
}

func (a *Allocation) Set(k Kind, threads int) {
	if threads < 0 {
		threads = 0
	}
	switch k {
	case Hack:
		a.Hack = threads
	case Grow:
		a.Grow = threads
	case Weaken:
		a.Weaken = threads
	case Ddos:
		a.Ddos = threads
	case Share:
		a.Share = threads
	}
}

func (a *Allocation) Add(k Kind, threads int) {
	a.Set(k, a.Get(k)+threads)
}

// Sub removes threads of kind k, flooring at zero.
func (a *Allocation) Sub(k Kind, threads int) {
	a.Set(k, a.Get(k)-threads)
}

// Plus returns the kind-wise sum of a and b.
func (a Allocation) Plus(b Allocation) Allocation {
	out := a
	for _, k := range Kinds {
		out.Add(k, b.Get(k))
	}
	return out
}

func (a Allocation) Total() int {
	return a.Hack + a.Grow + a.Weaken + a.Ddos + a.Share
}

// FamilyTotal counts hack, grow and weaken threads only.
func (a Allocation) FamilyTotal() int {
	return a.Hack + a.Grow + a.Weaken
}

func (a Allocation) IsZero() bool {
	return a.Total() == 0
}

func (a Allocation) String() string {
	b, _ := json.Marshal(a)
	return string(b)
}
