package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the polling cadence.
const DefaultInterval = 2 * time.Second

const subscriberBuffer = 16

// Predictor is what the Poller drives each tick. *Detector implements it.
type Predictor interface {
	DetectWithFallback(ctx context.Context, src frame.Source) emotion.Prediction
	ModelReady() bool
}

// PollerConfig tunes a Poller.
type PollerConfig struct {
	Interval    time.Duration
	HistorySize int
}

// PollerStats counts what happened to ticks.
type PollerStats struct {
	Attached        bool   `json:"attached"`
	Session         string `json:"session,omitempty"`
	Recorded        uint64 `json:"recorded"`
	SkippedBusy     uint64 `json:"skipped_busy"`
	SkippedNotReady uint64 `json:"skipped_not_ready"`
	Discarded       uint64 `json:"discarded"`
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Poller owns the current prediction and the history. While a source is
// attached it asks the Predictor for a prediction every interval.
type Poller struct {
	cfg       PollerConfig
	predictor Predictor
	log       logrus.FieldLogger
	newTicker func(time.Duration) ticker

	// set while a detection is in flight, across attach generations
	busy atomic.Bool

	mu      sync.Mutex
	history *History
	gen     uint64
	cancel  context.CancelFunc
	session string
	subs    map[int]chan emotion.Prediction
	nextSub int
	stats   PollerStats
}

func NewPoller(cfg PollerConfig, p Predictor, log logrus.FieldLogger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Poller{
		cfg:       cfg,
		predictor: p,
		log:       log,
		newTicker: func(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} },
		history:   NewHistory(cfg.HistorySize),
		subs:      map[int]chan emotion.Prediction{},
	}
}

// Attach binds src and starts polling it. An already attached source is
// replaced; history is kept. Polling stops when ctx ends or on Detach.
func (p *Poller) Attach(ctx context.Context, src frame.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.session = uuid.NewString()
	p.stats.Attached = true
	p.stats.Session = p.session

	p.log.WithFields(logrus.Fields{"session": p.session, "interval": p.cfg.Interval}).Info("source attached")
	go p.run(ctx, p.newTicker(p.cfg.Interval), src, gen)
}

// Detach stops polling. A detection still running is allowed to finish but
// its result is dropped.
func (p *Poller) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.gen++
	p.stats.Attached = false
	p.log.WithField("session", p.session).Info("source detached")
}

// Close detaches and ends every subscription.
func (p *Poller) Close() {
	p.Detach()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

func (p *Poller) run(ctx context.Context, t ticker, src frame.Source, gen uint64) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			p.tick(ctx, src, gen)
		}
	}
}

func (p *Poller) tick(ctx context.Context, src frame.Source, gen uint64) {
	if !src.Ready() {
		p.count(func(s *PollerStats) { s.SkippedNotReady++ })
		return
	}
	if !p.busy.CompareAndSwap(false, true) {
		p.count(func(s *PollerStats) { s.SkippedBusy++ })
		p.log.Debug("previous detection still running, skipping tick")
		return
	}
	defer p.busy.Store(false)

	pred := p.predictor.DetectWithFallback(context.WithoutCancel(ctx), src)
	p.record(gen, pred)
}

func (p *Poller) count(f func(*PollerStats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

func (p *Poller) record(gen uint64, pred emotion.Prediction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		p.stats.Discarded++
		return
	}
	p.history.Append(pred)
	p.stats.Recorded++

	p.log.WithFields(logrus.Fields{
		"emotion":    pred.Emotion,
		"confidence": pred.Confidence,
		"source":     pred.Source,
	}).Debug("emotion updated")

	for _, ch := range p.subs {
		select {
		case ch <- pred:
		default:
		}
	}
}

// Current returns the latest prediction, if any.
func (p *Poller) Current() (emotion.Prediction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Last()
}

// History returns the retained predictions, oldest first.
func (p *Poller) History() []emotion.Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Snapshot()
}

func (p *Poller) Summary() Summary { return Summarize(p.History()) }

func (p *Poller) ModelReady() bool { return p.predictor.ModelReady() }

func (p *Poller) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) Stats() PollerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Subscribe streams each recorded prediction. Slow subscribers miss updates
// rather than stall the poller. Call cancel to unsubscribe.
func (p *Poller) Subscribe() (<-chan emotion.Prediction, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan emotion.Prediction, subscriberBuffer)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
	}
}
