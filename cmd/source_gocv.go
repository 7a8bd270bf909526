//go:build gocv

package cmd

import (
	"io"

	"github.com/maastricht-university/edmo-mood/frame"
)

func init() {
	openCamera = func(device string) (frame.Source, io.Closer, error) {
		cam, err := frame.OpenCamera(device)
		if err != nil {
			return nil, nil, err
		}
		return cam, cam, nil
	}
}
