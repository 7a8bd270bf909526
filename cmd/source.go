package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/maastricht-university/edmo-mood/config"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/sirupsen/logrus"
)

// openCamera is set when the binary is built with the gocv tag.
var openCamera func(device string) (frame.Source, io.Closer, error)

// openSource starts the configured live input. camera.format "gocv" reads
// the device through OpenCV; anything else goes through ffmpeg.
func openSource(ctx context.Context, c *config.Root, log logrus.FieldLogger) (frame.Source, io.Closer, error) {
	if c.Camera.Format == "gocv" {
		if openCamera == nil {
			return nil, nil, errors.New("camera.format gocv requires a build with -tags gocv")
		}
		return openCamera(c.Camera.Input)
	}
	s := frame.NewMJPEGStream(frame.StreamConfig{
		Input:  c.Camera.Input,
		Format: c.Camera.Format,
		FPS:    c.Camera.FPS,
	}, log)
	if err := s.Start(ctx); err != nil {
		return nil, nil, err
	}
	return s, s, nil
}
