package emotion

import (
	"math"
	"time"
)

// DefaultConfidence stands in for scores a model did not report.
const DefaultConfidence = 0.5

// Which path produced a prediction.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Prediction is a single classified emotional state. Timestamp is unix milliseconds.
type Prediction struct {
	Emotion    Label   `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
	Source     string  `json:"source,omitempty"`
}

// Time returns the prediction timestamp as a time.Time.
func (p Prediction) Time() time.Time { return time.UnixMilli(p.Timestamp) }

// ClampConfidence forces a raw score into [0,1]. A nil or NaN score becomes
// DefaultConfidence.
func ClampConfidence(score *float64) float64 {
	if score == nil || math.IsNaN(*score) {
		return DefaultConfidence
	}
	return math.Min(1, math.Max(0, *score))
}

// NewPrediction builds a normalized prediction from raw classifier output.
func NewPrediction(rawLabel string, score *float64, ts int64, source string) Prediction {
	return Prediction{
		Emotion:    Normalize(rawLabel),
		Confidence: ClampConfidence(score),
		Timestamp:  ts,
		Source:     source,
	}
}
