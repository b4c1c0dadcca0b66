package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"c2c/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*Config, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent reads filepath on top of Default() and returns the raw content as well.
func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	config, err := Parse(originalContent)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	return config, originalContent, nil
}

// Parse expands ${VAR} references, decodes content over the defaults and validates the result.
func Parse(content string) (*Config, error) {
	expanded := expandEnvVars(content)

	config := Default()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, err
	}

	config.Scripts.Dir = normalizeDir(config.Scripts.Dir)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func normalizeDir(dir string) string {
	if dir == "" || strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

func validateConfig(config *Config) error {
	engine := config.Engine
	if engine.Home == "" {
		return fmt.Errorf("engine.home is required")
	}
	if engine.PassInterval <= 0 {
		return fmt.Errorf("engine.pass_interval must be greater than 0")
	}
	if engine.WaitInterval <= 0 {
		return fmt.Errorf("engine.wait_interval must be greater than 0")
	}
	if engine.NodeThrottle < 0 {
		return fmt.Errorf("engine.node_throttle must not be negative")
	}
	if engine.StartDelayMin < 0 || engine.StartDelayMax < engine.StartDelayMin {
		return fmt.Errorf("engine.start_delay_min must be >= 0 and <= start_delay_max")
	}

	scripts := map[string]ScriptConfig{
		"hack":   config.Scripts.Hack,
		"grow":   config.Scripts.Grow,
		"weaken": config.Scripts.Weaken,
		"ddos":   config.Scripts.Ddos,
		"share":  config.Scripts.Share,
	}
	for name, script := range scripts {
		if script.Src == "" {
			return fmt.Errorf("scripts.%s: src is required", name)
		}
		if script.RAM <= 0 {
			return fmt.Errorf("scripts.%s: ram must be greater than 0", name)
		}
		if script.Ratio < 0 || script.Ratio > 1 {
			return fmt.Errorf("scripts.%s: ratio must be within [0, 1]", name)
		}
	}

	sum := config.Scripts.Hack.Ratio + config.Scripts.Grow.Ratio + config.Scripts.Weaken.Ratio
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("hack, grow and weaken ratios must sum to 1, got %.4f", sum)
	}

	switch config.Policy.Fallback {
	case FallbackGrowFirst, FallbackWeakenFirst, FallbackAnyFits:
	default:
		return fmt.Errorf("policy.fallback: unknown policy %q", config.Policy.Fallback)
	}
	switch config.Policy.Eviction {
	case EvictionLargestFirst, EvictionProcessOrder:
	default:
		return fmt.Errorf("policy.eviction: unknown policy %q", config.Policy.Eviction)
	}
	if config.Policy.MinCapacityPerTarget < 0 {
		return fmt.Errorf("policy.min_capacity_per_target must not be negative")
	}

	ports := map[int]string{}
	for name, port := range map[string]int{
		"state":        config.Ports.State,
		"goal":         config.Ports.Goal,
		"targets":      config.Ports.Targets,
		"home_reserve": config.Ports.HomeReserve,
	} {
		if port <= 0 {
			return fmt.Errorf("ports.%s must be greater than 0", name)
		}
		if other, exists := ports[port]; exists {
			return fmt.Errorf("ports.%s and ports.%s share port %d", name, other, port)
		}
		ports[port] = name
	}

	db := config.Data.DB
	if db.Enabled && (db.Host == "" || db.Name == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete database configuration")
	}

	return nil
}
