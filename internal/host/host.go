package host

import (
	"errors"
)

var (
	ErrUnknownServer   = errors.New("unknown server")
	ErrInsufficientRAM = errors.New("insufficient RAM")
	ErrScriptMissing   = errors.New("script not present on server")
	ErrNoSuchProcess   = errors.New("no such process")
)

// Process is one running script as exposed by the process table.
type Process struct {
	PID     int      `json:"pid"`
	Script  string   `json:"filename"`
	Threads int      `json:"threads"`
	Args    []string `json:"args"`
}

// Target returns the first argument, which targeted workers receive as the target hostname.
func (p Process) Target() string {
	if len(p.Args) == 0 {
		return ""
	}
	return p.Args[0]
}

type Money struct {
	Max     float64 `json:"max" yaml:"max"`
	Current float64 `json:"current" yaml:"current"`
}

type Security struct {
	Min     float64 `json:"min" yaml:"min"`
	Base    float64 `json:"base" yaml:"base"`
	Current float64 `json:"current" yaml:"current"`
}

// ServerData is what the game reports about a potential target.
type ServerData struct {
	Money    Money    `json:"money" yaml:"money"`
	Security Security `json:"security" yaml:"security"`
	Growth   float64  `json:"growth" yaml:"growth"`
	Time     float64  `json:"time" yaml:"time"` // hack time, ms
	Chance   float64  `json:"chance" yaml:"chance"`
}

// Host is the closed API the game exposes to scripts. The engine only queries
// and drives it; it never changes how it behaves.
type Host interface {
	Scan(hostname string) ([]string, error)
	HasRootAccess(hostname string) bool
	MaxRAM(hostname string) (float64, error)
	UsedRAM(hostname string) (float64, error)
	ScriptRAM(script string) (float64, error)
	Processes(hostname string) ([]Process, error)

	// Exec launches script with the given thread count and returns its PID.
	Exec(script, hostname string, threads int, args ...string) (int, error)
	Kill(pid int) error
	ScriptKill(script, hostname string) error
	KillAll(hostname string) error
	Copy(scripts []string, hostname, source string) error

	ServerInfo(hostname string) (ServerData, error)
}
