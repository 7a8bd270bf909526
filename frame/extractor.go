// Package frame turns live video or still images into fixed-size encoded
// stills suitable for model input.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// MinSide is the smallest edge handed to a model.
const MinSide = 224

// ErrRenderContextUnavailable means no raster could be produced for this frame.
var ErrRenderContextUnavailable = errors.New("render context unavailable")

// Source is anything with a current frame: a live stream or a still image.
type Source interface {
	Dimensions() (width, height int)
	Ready() bool
	Frame(ctx context.Context) (image.Image, error)
}

// Encoded is a compressed still ready for a classifier.
type Encoded struct {
	Data   []byte
	Format imaging.Format
	Width  int
	Height int
}

// MIME returns the content type of the encoded bytes.
func (e Encoded) MIME() string {
	if e.Format == imaging.PNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Encoder compresses a raster. Extractor tries encoders in order.
type Encoder struct {
	Format  imaging.Format
	Options []imaging.EncodeOption
}

// Config controls extraction.
type Config struct {
	MinSide     int
	JPEGQuality int
	// MaxPixels bounds the raster size; 0 disables the check.
	MaxPixels int
}

// Extractor renders and encodes frames.
type Extractor struct {
	cfg      Config
	encoders []Encoder
	log      logrus.FieldLogger
}

// NewExtractor builds an Extractor preferring JPEG and falling back to PNG.
func NewExtractor(cfg Config, log logrus.FieldLogger) *Extractor {
	if cfg.MinSide <= 0 {
		cfg.MinSide = MinSide
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	return &Extractor{
		cfg: cfg,
		encoders: []Encoder{
			{Format: imaging.JPEG, Options: []imaging.EncodeOption{imaging.JPEGQuality(cfg.JPEGQuality)}},
			{Format: imaging.PNG, Options: []imaging.EncodeOption{imaging.PNGCompressionLevel(png.DefaultCompression)}},
		},
		log: log,
	}
}

// WithEncoders replaces the encoder preference list.
func (e *Extractor) WithEncoders(encs ...Encoder) *Extractor {
	e.encoders = encs
	return e
}

// TargetSize applies the per-axis minimum side.
func TargetSize(width, height, minSide int) (int, int) {
	return max(width, minSide), max(height, minSide)
}

// Extract renders the current frame of src at the target size and encodes it.
func (e *Extractor) Extract(ctx context.Context, src Source) (Encoded, error) {
	w, h := src.Dimensions()
	if w <= 0 || h <= 0 {
		return Encoded{}, fmt.Errorf("%w: source reports %dx%d", ErrRenderContextUnavailable, w, h)
	}
	tw, th := TargetSize(w, h, e.cfg.MinSide)
	if e.cfg.MaxPixels > 0 && tw*th > e.cfg.MaxPixels {
		return Encoded{}, fmt.Errorf("%w: raster %dx%d exceeds limit", ErrRenderContextUnavailable, tw, th)
	}

	img, err := src.Frame(ctx)
	if err != nil {
		return Encoded{}, fmt.Errorf("%w: %v", ErrRenderContextUnavailable, err)
	}
	if img == nil {
		return Encoded{}, fmt.Errorf("%w: no frame", ErrRenderContextUnavailable)
	}

	raster := render(img, tw, th)

	var lastErr error
	for _, enc := range e.encoders {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, raster, enc.Format, enc.Options...); err != nil {
			lastErr = err
			e.log.WithError(err).WithField("format", enc.Format.String()).Warn("encoder failed, trying next")
			continue
		}
		return Encoded{Data: buf.Bytes(), Format: enc.Format, Width: tw, Height: th}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no encoders configured")
	}
	return Encoded{}, fmt.Errorf("encode frame: %w", lastErr)
}

// render draws img stretched onto a w x h raster.
func render(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}
