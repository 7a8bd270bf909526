package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maastricht-university/edmo-mood/emotion"
)

// Mode picks the inference path.
type Mode int

const (
	// FallbackOnly answers every frame from the heuristic.
	FallbackOnly Mode = iota
	// PrimaryFirst tries the model and falls back when it cannot answer.
	PrimaryFirst
)

func (m Mode) String() string {
	if m == PrimaryFirst {
		return "primary-first"
	}
	return "fallback-only"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary-first", "primary":
		return PrimaryFirst, nil
	case "fallback-only", "fallback", "":
		return FallbackOnly, nil
	}
	return FallbackOnly, fmt.Errorf("unknown detection mode %q", s)
}

var (
	// ErrClassifierInvocationFailed covers model errors and malformed output.
	ErrClassifierInvocationFailed = errors.New("classifier invocation failed")
	// ErrNoPrimaryResult means the primary path had nothing for this frame.
	ErrNoPrimaryResult = errors.New("primary classifier produced no result")
	// ErrPrimaryBusy means an earlier model call is still running.
	ErrPrimaryBusy = errors.New("primary classifier still busy")
)

// Clock returns the current wall time.
type Clock func() time.Time

// Summary aggregates a run of predictions.
type Summary struct {
	Count          int                       `json:"count"`
	Dominant       emotion.Label             `json:"dominant,omitempty"`
	Counts         map[emotion.Label]int     `json:"counts"`
	MeanConfidence map[emotion.Label]float64 `json:"mean_confidence"`
	FallbackShare  float64                   `json:"fallback_share"`
	From           int64                     `json:"from,omitempty"`
	To             int64                     `json:"to,omitempty"`
}
