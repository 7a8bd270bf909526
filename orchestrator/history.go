package orchestrator

import "github.com/maastricht-university/edmo-mood/emotion"

// DefaultHistorySize is how many predictions the poller keeps.
const DefaultHistorySize = 50

// History is a fixed-capacity ring of predictions, oldest first. It is not
// safe for concurrent use; the Poller guards it.
type History struct {
	buf   []emotion.Prediction
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]emotion.Prediction, capacity)}
}

// Append adds p, evicting the oldest entry when full.
func (h *History) Append(p emotion.Prediction) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = p
		h.n++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int { return h.n }

// Snapshot copies the entries in insertion order.
func (h *History) Snapshot() []emotion.Prediction {
	out := make([]emotion.Prediction, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the newest entry.
func (h *History) Last() (emotion.Prediction, bool) {
	if h.n == 0 {
		return emotion.Prediction{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}
