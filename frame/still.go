package frame

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// StillImage is a Source over a single decoded image.
type StillImage struct {
	Name string
	img  image.Image
}

// NewStillImage wraps an already decoded image.
func NewStillImage(name string, img image.Image) *StillImage {
	return &StillImage{Name: name, img: img}
}

// OpenStillImage decodes an image file, honouring EXIF orientation.
func OpenStillImage(path string) (*StillImage, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open still %s: %w", path, err)
	}
	return &StillImage{Name: path, img: img}, nil
}

func (s *StillImage) Dimensions() (int, int) {
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *StillImage) Ready() bool { return s.img != nil }

func (s *StillImage) Frame(context.Context) (image.Image, error) { return s.img, nil }
