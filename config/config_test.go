package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maastricht-university/edmo-mood/model"
	"github.com/maastricht-university/edmo-mood/orchestrator"
	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != orchestrator.FallbackOnly {
		t.Errorf("default mode = %v", c.Mode())
	}
	if DurMillis(c.Detection.IntervalMs).Seconds() != 2 {
		t.Errorf("interval = %v", DurMillis(c.Detection.IntervalMs))
	}
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
detection:
  mode: primary-first
  interval_ms: 1000
model:
  runtime: onnx
  candidates:
    - model: fer.onnx
      device: gpu
    - model: fer.onnx
      device: cpu
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	v.Set("config", path)

	c, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if c.Mode() != orchestrator.PrimaryFirst || c.Detection.IntervalMs != 1000 {
		t.Errorf("detection = %+v", c.Detection)
	}
	if c.Detection.HistorySize != 50 {
		t.Errorf("unset keys should keep defaults, history_size = %d", c.Detection.HistorySize)
	}
	cands := c.Candidates()
	if len(cands) != 2 || cands[0].Device != model.Accelerated || cands[1].Device != model.CPU {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(v); err == nil {
		t.Fatal("expected error")
	}
}

func TestOverridesApplyOnTop(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent-env")
	t.Setenv("EDMO_DETECTION_MODE", "primary-first")
	v := NewViper()
	v.Set("server.addr", ":9999")

	c, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if c.Mode() != orchestrator.PrimaryFirst {
		t.Errorf("env override ignored: %q", c.Detection.Mode)
	}
	if c.Server.Addr != ":9999" {
		t.Errorf("server.addr = %q", c.Server.Addr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Root){
		"mode":     func(c *Root) { c.Detection.Mode = "sometimes" },
		"interval": func(c *Root) { c.Detection.IntervalMs = 0 },
		"history":  func(c *Root) { c.Detection.HistorySize = -1 },
		"range":    func(c *Root) { c.Fallback.MinConfidence = 0.9 },
		"runtime":  func(c *Root) { c.Model.Runtime = "tflite" },
		"device":   func(c *Root) { c.Model.Candidates[0].Device = "tpu" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
