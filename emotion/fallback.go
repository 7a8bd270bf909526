package emotion

import (
	"math/rand/v2"
	"sync"
)

const (
	DefaultWindowMillis  = 3000
	DefaultMinConfidence = 0.4
	DefaultMaxConfidence = 0.7
)

// CycleOrder is the fixed order the fallback walks through.
var CycleOrder = []Label{Happy, Neutral, Surprised, Sad, Angry, Fear, Disgust}

// Fallback is a model-free predictor. The label depends only on the time
// window; the confidence is random within [Min, Max].
type Fallback struct {
	WindowMillis int64
	Min, Max     float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFallback returns a Fallback with the reference window and range.
func NewFallback() *Fallback {
	return &Fallback{WindowMillis: DefaultWindowMillis, Min: DefaultMinConfidence, Max: DefaultMaxConfidence}
}

// WithRand swaps the random source, mostly for tests.
func (f *Fallback) WithRand(r *rand.Rand) *Fallback {
	f.mu.Lock()
	f.rnd = r
	f.mu.Unlock()
	return f
}

// LabelAt returns the label selected for the window containing now.
func (f *Fallback) LabelAt(now int64) Label {
	w := f.WindowMillis
	if w <= 0 {
		w = DefaultWindowMillis
	}
	n := int64(len(CycleOrder))
	// floored division keeps negative instants on the cycle
	idx := ((floorDiv(now, w) % n) + n) % n
	return CycleOrder[idx]
}

// Classify never fails.
func (f *Fallback) Classify(now int64) Prediction {
	return Prediction{
		Emotion:    f.LabelAt(now),
		Confidence: f.confidence(),
		Timestamp:  now,
		Source:     SourceFallback,
	}
}

func (f *Fallback) confidence() float64 {
	lo, hi := f.Min, f.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	f.mu.Lock()
	var u float64
	if f.rnd != nil {
		u = f.rnd.Float64()
	} else {
		u = rand.Float64()
	}
	f.mu.Unlock()
	c := lo + u*(hi-lo)
	return ClampConfidence(&c)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
