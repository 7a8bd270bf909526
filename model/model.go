// Package model acquires an inference handle from an ordered list of
// (model, device) candidates.
package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/maastricht-university/edmo-mood/frame"
)

// Device selects where a candidate runs.
type Device string

const (
	CPU         Device = "cpu"
	Accelerated Device = "accelerated"
)

// ParseDevice accepts the config spelling of a device.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case CPU:
		return CPU, nil
	case Accelerated, "gpu", "cuda", "webgpu":
		return Accelerated, nil
	}
	return "", fmt.Errorf("unknown compute device %q", s)
}

// Candidate is one (model, device) pair to try.
type Candidate struct {
	Model  string `json:"model" yaml:"model"`
	Device Device `json:"device" yaml:"device"`
}

func (c Candidate) String() string { return c.Model + "@" + string(c.Device) }

// RawResult is one entry of a classifier's ranked output. Score is nil when
// the runtime did not report one.
type RawResult struct {
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}

// Handle is a loaded classifier.
type Handle interface {
	Invoke(ctx context.Context, img frame.Encoded) ([]RawResult, error)
	Close() error
}

// Factory constructs a Handle for a candidate. Implementations bind to a
// concrete inference runtime.
type Factory interface {
	Open(ctx context.Context, c Candidate) (Handle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, c Candidate) (Handle, error)

func (f FactoryFunc) Open(ctx context.Context, c Candidate) (Handle, error) { return f(ctx, c) }
