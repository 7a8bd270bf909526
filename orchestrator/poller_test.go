package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/frame"
)

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

// withManualTickers makes every Attach hand its ticker to the returned channel.
func withManualTickers(p *Poller) <-chan *manualTicker {
	out := make(chan *manualTicker, 4)
	p.newTicker = func(time.Duration) ticker {
		mt := &manualTicker{ch: make(chan time.Time)}
		out <- mt
		return mt
	}
	return out
}

// blockingPredictor holds each detection until released.
type blockingPredictor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingPredictor) DetectWithFallback(context.Context, frame.Source) emotion.Prediction {
	b.started <- struct{}{}
	<-b.release
	return emotion.Prediction{Emotion: emotion.Happy, Confidence: 0.5, Timestamp: 1}
}

func (b *blockingPredictor) ModelReady() bool { return false }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(50)
	for i := 0; i < 51; i++ {
		h.Append(emotion.Prediction{Timestamp: int64(i)})
	}
	if h.Len() != 50 {
		t.Fatalf("len = %d", h.Len())
	}
	snap := h.Snapshot()
	for i, p := range snap {
		if p.Timestamp != int64(i+1) {
			t.Fatalf("entry %d has timestamp %d, want %d", i, p.Timestamp, i+1)
		}
	}
	if last, _ := h.Last(); last.Timestamp != 50 {
		t.Errorf("last = %d", last.Timestamp)
	}
}

func TestHistoryNeverExceedsCapacity(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 500; i++ {
		h.Append(emotion.Prediction{Timestamp: int64(i)})
		if h.Len() > DefaultHistorySize {
			t.Fatalf("len %d after %d appends", h.Len(), i+1)
		}
	}
	if _, ok := NewHistory(3).Last(); ok {
		t.Error("empty history has no last entry")
	}
}

func TestPollerThreeTicksWithThrowingPrimary(t *testing.T) {
	d := newDetector(PrimaryFirst, loaderFor(&scriptedHandle{err: errors.New("model threw")}, nil))
	p := NewPoller(PollerConfig{Interval: 2 * time.Second}, d, quietLogger())
	tickers := withManualTickers(p)
	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	p.Attach(context.Background(), newTestSource())
	mt := <-tickers
	var seen []emotion.Prediction
	for i := 0; i < 3; i++ {
		mt.ch <- time.Now()
		seen = append(seen, <-updates)
	}
	p.Detach()

	hist := p.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	for i, e := range hist {
		if !e.Emotion.Valid() || e != seen[i] {
			t.Errorf("entry %d = %+v", i, e)
		}
	}
	cur, ok := p.Current()
	if !ok || cur != hist[2] {
		t.Errorf("current = %+v, want third entry %+v", cur, hist[2])
	}
	if p.Attached() {
		t.Error("still attached after Detach")
	}
}

func TestPollerDiscardsResultAfterDetach(t *testing.T) {
	b := &blockingPredictor{started: make(chan struct{}), release: make(chan struct{})}
	p := NewPoller(PollerConfig{}, b, quietLogger())
	tickers := withManualTickers(p)

	p.Attach(context.Background(), newTestSource())
	mt := <-tickers
	mt.ch <- time.Now()
	<-b.started

	p.Detach()
	close(b.release)

	waitFor(t, "discard", func() bool { return p.Stats().Discarded == 1 })
	if len(p.History()) != 0 {
		t.Errorf("history mutated after detach: %v", p.History())
	}
	if _, ok := p.Current(); ok {
		t.Error("current set after detach")
	}
}

func TestPollerSkipsTickWhileBusy(t *testing.T) {
	b := &blockingPredictor{started: make(chan struct{}), release: make(chan struct{})}
	p := NewPoller(PollerConfig{}, b, quietLogger())
	tickers := withManualTickers(p)

	p.Attach(context.Background(), newTestSource())
	first := <-tickers
	first.ch <- time.Now()
	<-b.started

	// a second source while the first detection is still running
	p.Attach(context.Background(), newTestSource())
	second := <-tickers
	second.ch <- time.Now()
	waitFor(t, "busy skip", func() bool { return p.Stats().SkippedBusy == 1 })

	close(b.release)
	waitFor(t, "discard", func() bool { return p.Stats().Discarded == 1 })
	p.Detach()
	if p.Stats().Recorded != 0 {
		t.Errorf("recorded = %d", p.Stats().Recorded)
	}
}

func TestPollerSkipsUnreadySource(t *testing.T) {
	d := newDetector(FallbackOnly, nil)
	p := NewPoller(PollerConfig{}, d, quietLogger())
	tickers := withManualTickers(p)

	p.Attach(context.Background(), &testSource{w: 10, h: 10, ready: false})
	mt := <-tickers
	mt.ch <- time.Now()
	waitFor(t, "not-ready skip", func() bool { return p.Stats().SkippedNotReady == 1 })
	p.Detach()
	if len(p.History()) != 0 {
		t.Error("unready source produced history")
	}
}

func TestPollerReattachKeepsHistory(t *testing.T) {
	d := newDetector(FallbackOnly, nil)
	p := NewPoller(PollerConfig{HistorySize: 50}, d, quietLogger())
	tickers := withManualTickers(p)
	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	p.Attach(context.Background(), newTestSource())
	mt := <-tickers
	mt.ch <- time.Now()
	<-updates
	firstSession := p.Stats().Session

	p.Attach(context.Background(), newTestSource())
	mt = <-tickers
	for i := 0; i < 60; i++ {
		mt.ch <- time.Now()
		<-updates
	}
	p.Close()

	hist := p.History()
	if n := len(hist); n != 50 {
		t.Errorf("history length = %d, want 50", n)
	}
	if cur, ok := p.Current(); !ok || cur != hist[len(hist)-1] {
		t.Errorf("current = %+v, want newest history entry", cur)
	}
	if p.Stats().Session == firstSession {
		t.Error("re-attach should start a new session")
	}
	if p.Stats().Recorded != 61 {
		t.Errorf("recorded = %d", p.Stats().Recorded)
	}
}

func TestPollerRealTicker(t *testing.T) {
	d := newDetector(FallbackOnly, nil)
	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond}, d, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	p.Attach(ctx, newTestSource())
	waitFor(t, "two predictions", func() bool { return len(p.History()) >= 2 })
	cancel()
	p.Detach()
	if p.ModelReady() {
		t.Error("fallback-only detector has no model")
	}
}

func TestSummarize(t *testing.T) {
	preds := []emotion.Prediction{
		{Emotion: emotion.Happy, Confidence: 0.6, Timestamp: 1, Source: emotion.SourceFallback},
		{Emotion: emotion.Sad, Confidence: 0.9, Timestamp: 2, Source: emotion.SourcePrimary},
		{Emotion: emotion.Happy, Confidence: 0.4, Timestamp: 3, Source: emotion.SourcePrimary},
	}
	s := Summarize(preds)
	if s.Count != 3 || s.Dominant != emotion.Happy || s.Counts[emotion.Happy] != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.MeanConfidence[emotion.Happy] != 0.5 {
		t.Errorf("mean happy = %v", s.MeanConfidence[emotion.Happy])
	}
	if s.From != 1 || s.To != 3 {
		t.Errorf("span = %d..%d", s.From, s.To)
	}
	if len(Since(preds, 2)) != 2 {
		t.Error("Since should keep the last two")
	}
	if Summarize(nil).Dominant != "" {
		t.Error("empty summary has no dominant label")
	}
}

func TestExportWritesBundle(t *testing.T) {
	d := newDetector(FallbackOnly, nil)
	p := NewPoller(PollerConfig{}, d, quietLogger())
	tickers := withManualTickers(p)
	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	p.Attach(context.Background(), newTestSource())
	mt := <-tickers
	mt.ch <- time.Now()
	<-updates
	p.Detach()

	path, err := Export(t.TempDir(), "test", FallbackOnly, p)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var b PersistBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		t.Fatal(err)
	}
	if len(b.Predictions) != 1 || b.SessionID == "" || b.Mode != "fallback-only" {
		t.Errorf("bundle = %+v", b)
	}
}
