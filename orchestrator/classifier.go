package orchestrator

import (
	"context"
	"fmt"

	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/maastricht-university/edmo-mood/model"
	"github.com/sirupsen/logrus"
)

// Classifier runs the loaded model on an encoded frame.
type Classifier struct {
	loader *model.Loader
	log    logrus.FieldLogger
}

func NewClassifier(l *model.Loader, log logrus.FieldLogger) *Classifier {
	return &Classifier{loader: l, log: log}
}

// Classify returns false when the model could not answer for this frame. The
// first call pays for initialization.
func (c *Classifier) Classify(ctx context.Context, img frame.Encoded, now int64) (emotion.Prediction, bool) {
	p, err := c.classify(ctx, img, now)
	if err != nil {
		c.log.WithError(err).Debug("primary classifier had no answer")
		return emotion.Prediction{}, false
	}
	return p, true
}

func (c *Classifier) classify(ctx context.Context, img frame.Encoded, now int64) (p emotion.Prediction, err error) {
	if !c.loader.Ready() {
		if err := c.loader.Initialize(ctx); err != nil {
			return p, fmt.Errorf("model not ready: %w", err)
		}
	}
	h, ok := c.loader.Handle()
	if !ok {
		return p, fmt.Errorf("model not ready: %s", c.loader.State())
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrClassifierInvocationFailed, r)
		}
	}()
	results, err := h.Invoke(ctx, img)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrClassifierInvocationFailed, err)
	}
	top, ok := topResult(results)
	if !ok {
		return p, fmt.Errorf("%w: %d results, none usable", ErrClassifierInvocationFailed, len(results))
	}
	return emotion.NewPrediction(top.Label, top.Score, now, emotion.SourcePrimary), nil
}

// topResult returns the highest scoring entry. Missing scores rank as the
// default confidence. An unlabelled top entry makes the whole set unusable.
func topResult(results []model.RawResult) (model.RawResult, bool) {
	if len(results) == 0 {
		return model.RawResult{}, false
	}
	best, bestScore := results[0], emotion.ClampConfidence(results[0].Score)
	for _, r := range results[1:] {
		if s := emotion.ClampConfidence(r.Score); s > bestScore {
			best, bestScore = r, s
		}
	}
	return best, best.Label != ""
}
