package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/maastricht-university/edmo-mood/model"
	"github.com/sirupsen/logrus"
)

// DetectorConfig tunes a Detector.
type DetectorConfig struct {
	Mode Mode
	// PrimaryTimeout bounds one primary attempt, model initialization included.
	PrimaryTimeout time.Duration
}

// Detector composes frame extraction, the primary classifier and the
// fallback into one prediction per call.
type Detector struct {
	cfg        DetectorConfig
	extractor  *frame.Extractor
	loader     *model.Loader
	classifier *Classifier
	fallback   *emotion.Fallback
	clock      Clock
	log        logrus.FieldLogger

	// set from the start of a model call until it returns, even past the timeout
	inFlight atomic.Bool

	mu   sync.Mutex
	last int64
}

func NewDetector(cfg DetectorConfig, ex *frame.Extractor, l *model.Loader, fb *emotion.Fallback, log logrus.FieldLogger) *Detector {
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = 5 * time.Second
	}
	return &Detector{
		cfg:        cfg,
		extractor:  ex,
		loader:     l,
		classifier: NewClassifier(l, log),
		fallback:   fb,
		clock:      time.Now,
		log:        log,
	}
}

// WithClock swaps the time source.
func (d *Detector) WithClock(c Clock) *Detector {
	d.clock = c
	return d
}

func (d *Detector) Mode() Mode { return d.cfg.Mode }

// ModelReady reports whether the primary model is loaded.
func (d *Detector) ModelReady() bool { return d.loader != nil && d.loader.Ready() }

// Initialize starts loading the model unless running fallback-only.
func (d *Detector) Initialize(ctx context.Context) error {
	if d.cfg.Mode == FallbackOnly || d.loader == nil {
		return nil
	}
	return d.loader.Initialize(ctx)
}

// Dispose releases the loaded model.
func (d *Detector) Dispose() error {
	if d.loader == nil {
		return nil
	}
	return d.loader.Dispose()
}

// stamp returns now in unix ms, never earlier than a previous stamp.
func (d *Detector) stamp() int64 {
	now := d.clock().UnixMilli()
	d.mu.Lock()
	defer d.mu.Unlock()
	if now < d.last {
		now = d.last
	}
	d.last = now
	return now
}

// Detect runs the configured path once. In primary-first mode it returns
// frame.ErrRenderContextUnavailable or ErrNoPrimaryResult when the model
// cannot answer this frame. While an earlier model call is still running the
// primary path is skipped with ErrPrimaryBusy.
func (d *Detector) Detect(ctx context.Context, src frame.Source) (emotion.Prediction, error) {
	if d.cfg.Mode == FallbackOnly || d.loader == nil {
		return d.fallback.Classify(d.stamp()), nil
	}

	if !d.inFlight.CompareAndSwap(false, true) {
		return emotion.Prediction{}, fmt.Errorf("%w: %w", ErrNoPrimaryResult, ErrPrimaryBusy)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.PrimaryTimeout)
	defer cancel()

	img, err := d.extractor.Extract(ctx, src)
	if err != nil {
		d.inFlight.Store(false)
		return emotion.Prediction{}, err
	}

	// a handle that ignores ctx must not hold the caller past the timeout
	type outcome struct {
		p  emotion.Prediction
		ok bool
	}
	ch := make(chan outcome, 1)
	ts := d.stamp()
	go func() {
		p, ok := d.classifier.Classify(ctx, img, ts)
		d.inFlight.Store(false)
		ch <- outcome{p, ok}
	}()
	select {
	case o := <-ch:
		if !o.ok {
			return emotion.Prediction{}, ErrNoPrimaryResult
		}
		return o.p, nil
	case <-ctx.Done():
		return emotion.Prediction{}, fmt.Errorf("%w: %w", ErrNoPrimaryResult, ctx.Err())
	}
}

// DetectWithFallback always yields a prediction.
func (d *Detector) DetectWithFallback(ctx context.Context, src frame.Source) emotion.Prediction {
	p, err := d.Detect(ctx, src)
	if err == nil {
		return p
	}
	entry := d.log.WithError(err)
	if errors.Is(err, frame.ErrRenderContextUnavailable) {
		entry.Warn("frame extraction failed, using fallback")
	} else {
		entry.Debug("using fallback prediction")
	}
	return d.fallback.Classify(d.stamp())
}
