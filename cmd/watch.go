package cmd

import (
	"context"
	"time"

	"github.com/maastricht-university/edmo-mood/clients"
	"github.com/maastricht-university/edmo-mood/orchestrator"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var noExport bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the camera and log the current emotion",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), nil)
	},
}

func init() {
	f := watchCmd.Flags()
	f.BoolVar(&noExport, "no-export", false, "skip writing the history bundle on exit")
	rootCmd.AddCommand(watchCmd)
}

// runWatch polls the configured source until ctx ends. attach, when set, is
// called with the running poller so other surfaces can read from it.
func runWatch(ctx context.Context, attach func(context.Context, *stack, *orchestrator.Poller) error) error {
	s := buildStack(ctx, conf, log)
	defer s.close()
	s.warmUp(ctx)

	src, closer, err := openSource(ctx, conf, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	p := s.newPoller()
	p.Attach(ctx, src)
	log.WithFields(logrus.Fields{
		"input":    conf.Camera.Input,
		"mode":     s.detector.Mode().String(),
		"interval": conf.Detection.IntervalMs,
	}).Info("watching")

	go relay(ctx, s, p)

	if attach != nil {
		err = attach(ctx, s, p)
	} else {
		<-ctx.Done()
	}
	p.Close()

	if !noExport {
		if path, xerr := orchestrator.Export(conf.Paths.Outputs, conf.Camera.Input, s.detector.Mode(), p); xerr != nil {
			log.WithError(xerr).Warn("export history")
		} else {
			log.WithField("path", path).Info("history written")
		}
	}
	return err
}

// relay logs every prediction and forwards it to the presentation layer
// when one is configured.
func relay(ctx context.Context, s *stack, p *orchestrator.Poller) {
	updates, cancel := p.Subscribe()
	defer cancel()
	url := s.conf.Services.Presentation.URL
	for {
		select {
		case <-ctx.Done():
			return
		case pred, ok := <-updates:
			if !ok {
				return
			}
			log.WithFields(logrus.Fields{
				"emotion":    pred.Emotion,
				"confidence": pred.Confidence,
				"source":     pred.Source,
				"at":         pred.Time().Format(time.RFC3339Nano),
			}).Info("emotion")
			if url == "" {
				continue
			}
			pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
			err := s.http.PublishEmotion(pctx, url, clients.EmotionUpdate{Current: pred, ModelReady: p.ModelReady()})
			pcancel()
			if err != nil {
				log.WithError(err).Debug("publish emotion")
			}
		}
	}
}
