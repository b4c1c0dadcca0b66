package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := validateConfig(Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse(`
engine:
  pass_interval: 2m
  node_throttle: 0s
scripts:
  dir: scripts
policy:
  fallback: weaken-first
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Engine.PassInterval != 2*time.Minute {
		t.Fatalf("expected pass interval 2m, got %v", cfg.Engine.PassInterval)
	}
	if cfg.Engine.NodeThrottle != 0 {
		t.Fatalf("expected throttle 0, got %v", cfg.Engine.NodeThrottle)
	}
	if cfg.Engine.WaitInterval != 10*time.Second {
		t.Fatalf("expected default wait interval, got %v", cfg.Engine.WaitInterval)
	}
	if cfg.Scripts.Dir != "scripts/" {
		t.Fatalf("expected normalized dir, got %q", cfg.Scripts.Dir)
	}
	if cfg.Scripts.Grow.Src != "grow.js" || cfg.Scripts.Grow.Ratio != 0.775 {
		t.Fatalf("expected default grow script, got %+v", cfg.Scripts.Grow)
	}
	if cfg.Policy.Fallback != FallbackWeakenFirst {
		t.Fatalf("expected weaken-first, got %q", cfg.Policy.Fallback)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("C2C_TEST_HOME", "pserv-home")
	cfg, err := Parse("engine:\n  home: ${C2C_TEST_HOME}\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Engine.Home != "pserv-home" {
		t.Fatalf("expected expanded home, got %q", cfg.Engine.Home)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"ratios": {
			content: "scripts:\n  hack: {src: hack.js, ratio: 0.5, ram: 1.7}\n",
			want:    "sum to 1",
		},
		"ram": {
			content: "scripts:\n  share: {src: share.js, ram: 0}\n",
			want:    "ram must be greater than 0",
		},
		"fallback": {
			content: "policy:\n  fallback: hack-first\n",
			want:    "unknown policy",
		},
		"ports": {
			content: "ports:\n  goal: 9000\n",
			want:    "share port 9000",
		},
		"delay": {
			content: "engine:\n  start_delay_min: 1s\n  start_delay_max: 10ms\n",
			want:    "start_delay_min",
		},
		"db": {
			content: "data:\n  db:\n    enabled: true\n    host: http://localhost:8086\n",
			want:    "incomplete database configuration",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(tc.content)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfigWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c2c.yml")
	content := "engine:\n  ignore: [darkweb, CSEC]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, raw, err := LoadConfigWithContent(path)
	if err != nil {
		t.Fatalf("LoadConfigWithContent: %v", err)
	}
	if raw != content {
		t.Fatalf("expected raw content to round-trip")
	}
	if len(cfg.Engine.Ignore) != 2 || cfg.Engine.Ignore[1] != "CSEC" {
		t.Fatalf("unexpected ignore list %v", cfg.Engine.Ignore)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
