package cmd

import (
	"context"

	"github.com/maastricht-university/edmo-mood/clients"
	"github.com/maastricht-university/edmo-mood/config"
	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/maastricht-university/edmo-mood/model"
	"github.com/maastricht-university/edmo-mood/onnx"
	"github.com/maastricht-university/edmo-mood/orchestrator"
	"github.com/maastricht-university/edmo-mood/server"
	"github.com/sirupsen/logrus"
)

// stack is the wired detection pipeline for one process.
type stack struct {
	conf     *config.Root
	http     *clients.HTTP
	loader   *model.Loader
	detector *orchestrator.Detector
	log      logrus.FieldLogger
}

func newFactory(c *config.Root, h *clients.HTTP, log logrus.FieldLogger) model.Factory {
	if c.Model.Runtime == "onnx" {
		oc := onnx.DefaultConfig()
		oc.LibraryPath = c.Model.ONNX.LibraryPath
		oc.ModelsDir = c.Paths.Models
		oc.NumThreads = c.Model.ONNX.NumThreads
		if len(c.Model.ONNX.Labels) > 0 {
			oc.Labels = c.Model.ONNX.Labels
		}
		return onnx.NewFactory(oc, log)
	}
	return clients.NewModelServer(h, c.Services.Model.URL)
}

// buildStack wires extractor, loader, fallback and detector from c. The
// loader is only created in primary-first mode.
func buildStack(ctx context.Context, c *config.Root, log logrus.FieldLogger) *stack {
	h := clients.NewHTTP(config.DurMillis(c.Services.TimeoutMs))
	ex := frame.NewExtractor(frame.Config{
		MinSide:     c.Frame.MinSide,
		JPEGQuality: c.Frame.JPEGQuality,
		MaxPixels:   c.Frame.MaxPixels,
	}, log)

	fb := emotion.NewFallback()
	fb.WindowMillis = int64(c.Fallback.WindowMs)
	fb.Min = c.Fallback.MinConfidence
	fb.Max = c.Fallback.MaxConfidence

	var loader *model.Loader
	if c.Mode() == orchestrator.PrimaryFirst {
		loader = model.NewLoader(ctx, newFactory(c, h, log), c.Candidates(), log)
	}
	d := orchestrator.NewDetector(orchestrator.DetectorConfig{
		Mode:           c.Mode(),
		PrimaryTimeout: config.DurMillis(c.Detection.PrimaryTimeoutMs),
	}, ex, loader, fb, log)

	return &stack{conf: c, http: h, loader: loader, detector: d, log: log}
}

// warmUp starts model loading without blocking the caller.
func (s *stack) warmUp(ctx context.Context) {
	if s.loader == nil {
		return
	}
	go func() {
		if err := s.detector.Initialize(ctx); err != nil {
			s.log.WithError(err).Warn("primary model unavailable, using fallback")
			return
		}
		if c, ok := s.loader.Active(); ok {
			s.log.WithField("candidate", c.String()).Info("primary model ready")
		}
	}()
}

func (s *stack) newPoller() *orchestrator.Poller {
	return orchestrator.NewPoller(orchestrator.PollerConfig{
		Interval:    config.DurMillis(s.conf.Detection.IntervalMs),
		HistorySize: s.conf.Detection.HistorySize,
	}, s.detector, s.log)
}

func (s *stack) modelInfo() server.ModelInfo {
	info := server.ModelInfo{Ready: s.detector.ModelReady(), Mode: s.detector.Mode().String()}
	if s.loader != nil {
		info.State = s.loader.State().String()
		if c, ok := s.loader.Active(); ok {
			info.Active = c.String()
		}
	}
	return info
}

func (s *stack) close() {
	if err := s.detector.Dispose(); err != nil {
		s.log.WithError(err).Warn("dispose model")
	}
}
