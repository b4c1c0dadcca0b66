package config

import (
	"time"
)

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Scripts ScriptsConfig `yaml:"scripts"`
	Policy  PolicyConfig  `yaml:"policy"`
	Ports   PortsConfig   `yaml:"ports"`
	Data    DataConfig    `yaml:"data"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type EngineConfig struct {
	Home              string        `yaml:"home"`
	Ignore            []string      `yaml:"ignore"`
	PassInterval      time.Duration `yaml:"pass_interval"`
	WaitInterval      time.Duration `yaml:"wait_interval"`
	NodeThrottle      time.Duration `yaml:"node_throttle"`
	StartDelayMin     time.Duration `yaml:"start_delay_min"`
	StartDelayMax     time.Duration `yaml:"start_delay_max"`
	LogLevel          string        `yaml:"log_level"`
	SchedulerLogLevel string        `yaml:"scheduler_log_level"`
	Topology          string        `yaml:"topology"`
}

// ScriptsConfig describes the worker scripts. Ratio is ignored for ddos and share.
type ScriptsConfig struct {
	Dir    string       `yaml:"dir"`
	Hack   ScriptConfig `yaml:"hack"`
	Grow   ScriptConfig `yaml:"grow"`
	Weaken ScriptConfig `yaml:"weaken"`
	Ddos   ScriptConfig `yaml:"ddos"`
	Share  ScriptConfig `yaml:"share"`
}

type ScriptConfig struct {
	Src   string  `yaml:"src"`
	Ratio float64 `yaml:"ratio,omitempty"`
	RAM   float64 `yaml:"ram"`
}

const (
	FallbackGrowFirst   = "grow-first"
	FallbackWeakenFirst = "weaken-first"
	FallbackAnyFits     = "any-fits"

	EvictionLargestFirst = "largest-first"
	EvictionProcessOrder = "process-order"
)

type PolicyConfig struct {
	Fallback    string `yaml:"fallback"`
	Eviction    string `yaml:"eviction"`
	MultiTarget bool   `yaml:"multi_target"`
	// MinCapacityPerTarget is the GB a node needs per extra target; 0 derives it from the hack ratio.
	MinCapacityPerTarget float64 `yaml:"min_capacity_per_target"`
}

type PortsConfig struct {
	Dir         string `yaml:"dir"`
	State       int    `yaml:"state"`
	Goal        int    `yaml:"goal"`
	Targets     int    `yaml:"targets"`
	HomeReserve int    `yaml:"home_reserve"`
}

type DataConfig struct {
	DB DatabaseConfig `yaml:"db"`
	// SpoolDir receives pass reports while the database is disabled or unreachable; empty disables spooling.
	SpoolDir string `yaml:"spool_dir"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default mirrors the constants the engine has always shipped with.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Home:              "home",
			Ignore:            []string{"darkweb"},
			PassInterval:      time.Minute,
			WaitInterval:      10 * time.Second,
			NodeThrottle:      time.Second,
			StartDelayMin:     50 * time.Millisecond,
			StartDelayMax:     500 * time.Millisecond,
			LogLevel:          "info",
			SchedulerLogLevel: "info",
		},
		Scripts: ScriptsConfig{
			Dir:    "c2c/actions/",
			Hack:   ScriptConfig{Src: "hack.js", Ratio: 0.05, RAM: 1.7},
			Grow:   ScriptConfig{Src: "grow.js", Ratio: 0.775, RAM: 1.75},
			Weaken: ScriptConfig{Src: "weaken.js", Ratio: 0.175, RAM: 1.75},
			Ddos:   ScriptConfig{Src: "grow.js", RAM: 1.75},
			Share:  ScriptConfig{Src: "share_ram.js", RAM: 4},
		},
		Policy: PolicyConfig{
			Fallback:    FallbackGrowFirst,
			Eviction:    EvictionLargestFirst,
			MultiTarget: true,
		},
		Ports: PortsConfig{
			Dir:         "ports",
			State:       9000,
			Goal:        9001,
			Targets:     9002,
			HomeReserve: 9003,
		},
	}
}
