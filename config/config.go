package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maastricht-university/edmo-mood/model"
	"github.com/maastricht-university/edmo-mood/orchestrator"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment overrides, e.g. EDMO_DETECTION_MODE.
const EnvPrefix = "EDMO"

type Service struct {
	URL string `yaml:"url"`
}
type Services struct {
	Model        Service `yaml:"model"`
	Presentation Service `yaml:"presentation"`
	TimeoutMs    int     `yaml:"timeout_ms"`
}
type Detection struct {
	Mode             string `yaml:"mode"`
	IntervalMs       int    `yaml:"interval_ms"`
	HistorySize      int    `yaml:"history_size"`
	PrimaryTimeoutMs int    `yaml:"primary_timeout_ms"`
}
type Frame struct {
	MinSide     int `yaml:"min_side"`
	JPEGQuality int `yaml:"jpeg_quality"`
	MaxPixels   int `yaml:"max_pixels"`
}
type Fallback struct {
	WindowMs      int     `yaml:"window_ms"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxConfidence float64 `yaml:"max_confidence"`
}
type ONNX struct {
	LibraryPath string   `yaml:"library_path"`
	Labels      []string `yaml:"labels"`
	NumThreads  int      `yaml:"num_threads"`
}
type Model struct {
	// Runtime is "http" (model server) or "onnx" (local).
	Runtime    string            `yaml:"runtime"`
	Candidates []model.Candidate `yaml:"candidates"`
	ONNX       ONNX              `yaml:"onnx"`
}
type Camera struct {
	Input  string `yaml:"input"`
	Format string `yaml:"format"`
	FPS    int    `yaml:"fps"`
}
type Server struct {
	Addr string `yaml:"addr"`
}
type Root struct {
	Pipeline struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		LogLvl  string `yaml:"log_level"`
	} `yaml:"pipeline"`
	Detection Detection `yaml:"detection"`
	Frame     Frame     `yaml:"frame"`
	Fallback  Fallback  `yaml:"fallback"`
	Model     Model     `yaml:"model"`
	Camera    Camera    `yaml:"camera"`
	Services  Services  `yaml:"services"`
	Server    Server    `yaml:"server"`
	Paths     struct {
		Models  string `yaml:"models"`
		Outputs string `yaml:"outputs"`
	} `yaml:"paths"`
}

// Default returns the reference behaviour: fallback-only, 2 s cadence,
// 50 entries of history.
func Default() *Root {
	var c Root
	c.Pipeline.Name = "edmo-mood"
	c.Pipeline.Version = "0.1.0"
	c.Pipeline.LogLvl = "info"
	c.Detection = Detection{Mode: "fallback-only", IntervalMs: 2000, HistorySize: 50, PrimaryTimeoutMs: 5000}
	c.Frame = Frame{MinSide: 224, JPEGQuality: 90, MaxPixels: 4096 * 4096}
	c.Fallback = Fallback{WindowMs: 3000, MinConfidence: 0.4, MaxConfidence: 0.7}
	c.Model.Runtime = "http"
	c.Model.Candidates = []model.Candidate{
		{Model: "trpakov/vit-face-expression", Device: model.Accelerated},
		{Model: "trpakov/vit-face-expression", Device: model.CPU},
		{Model: "dima806/facial_emotions_image_detection", Device: model.CPU},
	}
	c.Camera = Camera{Input: "/dev/video0", Format: "v4l2", FPS: 2}
	c.Services.Model.URL = "http://localhost:8005"
	c.Services.TimeoutMs = 60000
	c.Server.Addr = ":8090"
	c.Paths.Models = "models"
	c.Paths.Outputs = "outputs"
	return &c
}

// candidatePaths lists where a config file may live for the active CONFIG_ENV.
func candidatePaths() []string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
}

// Load builds the configuration: defaults, then the first config file found
// (v's "config" key wins over discovery), then env and flag overrides bound
// on v.
func Load(v *viper.Viper) (*Root, error) {
	cfg := Default()

	paths := candidatePaths()
	explicit := ""
	if v != nil {
		explicit = v.GetString("config")
	}
	if explicit != "" {
		paths = []string{explicit}
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			if explicit != "" {
				return nil, err
			}
			continue
		}
		err = yaml.NewDecoder(f).Decode(cfg)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		break
	}

	if v != nil {
		applyOverrides(cfg, v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper returns a viper reading EDMO_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func applyOverrides(c *Root, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	str("pipeline.log_level", &c.Pipeline.LogLvl)
	str("detection.mode", &c.Detection.Mode)
	num("detection.interval_ms", &c.Detection.IntervalMs)
	num("detection.history_size", &c.Detection.HistorySize)
	num("detection.primary_timeout_ms", &c.Detection.PrimaryTimeoutMs)
	str("model.runtime", &c.Model.Runtime)
	str("model.onnx.library_path", &c.Model.ONNX.LibraryPath)
	str("camera.input", &c.Camera.Input)
	str("camera.format", &c.Camera.Format)
	num("camera.fps", &c.Camera.FPS)
	str("services.model.url", &c.Services.Model.URL)
	str("services.presentation.url", &c.Services.Presentation.URL)
	str("server.addr", &c.Server.Addr)
	str("paths.models", &c.Paths.Models)
	str("paths.outputs", &c.Paths.Outputs)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Root) Validate() error {
	var errs []error
	if _, err := orchestrator.ParseMode(c.Detection.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Detection.IntervalMs <= 0 {
		errs = append(errs, errors.New("detection.interval_ms must be positive"))
	}
	if c.Detection.HistorySize <= 0 {
		errs = append(errs, errors.New("detection.history_size must be positive"))
	}
	if c.Fallback.WindowMs <= 0 {
		errs = append(errs, errors.New("fallback.window_ms must be positive"))
	}
	if c.Fallback.MinConfidence < 0 || c.Fallback.MaxConfidence > 1 || c.Fallback.MinConfidence > c.Fallback.MaxConfidence {
		errs = append(errs, fmt.Errorf("fallback confidence range [%v,%v] must lie within [0,1]", c.Fallback.MinConfidence, c.Fallback.MaxConfidence))
	}
	switch c.Model.Runtime {
	case "http", "onnx":
	default:
		errs = append(errs, fmt.Errorf("unknown model.runtime %q", c.Model.Runtime))
	}
	for i, cand := range c.Model.Candidates {
		if cand.Model == "" {
			errs = append(errs, fmt.Errorf("model.candidates[%d]: empty model", i))
		}
		if _, err := model.ParseDevice(string(cand.Device)); err != nil {
			errs = append(errs, fmt.Errorf("model.candidates[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Candidates returns the candidate list with devices canonicalized.
func (c *Root) Candidates() []model.Candidate {
	out := make([]model.Candidate, 0, len(c.Model.Candidates))
	for _, cand := range c.Model.Candidates {
		d, err := model.ParseDevice(string(cand.Device))
		if err != nil {
			continue
		}
		out = append(out, model.Candidate{Model: cand.Model, Device: d})
	}
	return out
}

func (c *Root) Mode() orchestrator.Mode {
	m, _ := orchestrator.ParseMode(c.Detection.Mode)
	return m
}

func DurMillis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
