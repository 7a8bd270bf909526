//go:build gocv

package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Camera is a Source reading directly from a capture device through OpenCV.
type Camera struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera opens a capture device by index or URL.
func OpenCamera(device string) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", device, err)
	}
	return &Camera{cap: vc, mat: gocv.NewMat()}, nil
}

func (c *Camera) Dimensions() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.cap.Get(gocv.VideoCaptureFrameWidth)), int(c.cap.Get(gocv.VideoCaptureFrameHeight))
}

func (c *Camera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cap.IsOpened()
}

func (c *Camera) Frame(context.Context) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errors.New("camera returned no frame")
	}
	return c.mat.ToImage()
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.cap.Close()
}
