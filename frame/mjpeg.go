package frame

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

const megabyte = 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SplitJPEG is a bufio.SplitFunc yielding whole JPEG images from an MJPEG
// byte stream, skipping anything between them.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// StreamConfig describes an ffmpeg-readable video input.
type StreamConfig struct {
	// Input is the ffmpeg -i argument, e.g. /dev/video0 or rtsp://...
	Input string
	// Format is the optional ffmpeg -f demuxer, e.g. v4l2 or avfoundation.
	Format string
	// FPS throttles decoding; 0 keeps the native rate.
	FPS int
}

// MJPEGStream is a live Source fed by an ffmpeg subprocess emitting MJPEG.
// Only the latest frame is retained.
type MJPEGStream struct {
	cfg StreamConfig
	log logrus.FieldLogger

	mu      sync.RWMutex
	latest  []byte
	width   int
	height  int
	frames  uint64
	stderr  bytes.Buffer
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewMJPEGStream prepares a stream; call Start to spawn ffmpeg.
func NewMJPEGStream(cfg StreamConfig, log logrus.FieldLogger) *MJPEGStream {
	return &MJPEGStream{cfg: cfg, log: log, done: make(chan struct{})}
}

func (s *MJPEGStream) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.cfg.Format != "" {
		args = append(args, "-f", s.cfg.Format)
	}
	args = append(args, "-i", s.cfg.Input)
	if s.cfg.FPS > 0 {
		args = append(args, "-vf", "fps="+strconv.Itoa(s.cfg.FPS))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// Start spawns ffmpeg and begins consuming frames in the background.
func (s *MJPEGStream) Start(ctx context.Context) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", s.args()...)
	cmd.Stderr = &s.stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	s.cmd = cmd
	s.cancel = cancel

	go func() {
		defer close(s.done)
		err := s.consume(out)
		if werr := cmd.Wait(); werr != nil && ctx.Err() == nil {
			err = errors.Join(err, fmt.Errorf("ffmpeg exited: %w: %s", werr, s.stderr.String()))
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if err != nil {
			s.log.WithError(err).Warn("video stream ended")
		}
	}()
	return nil
}

// consume reads MJPEG frames from r until EOF.
func (s *MJPEGStream) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJPEG)
	for scanner.Scan() {
		tok := scanner.Bytes()
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(tok))
		if err != nil {
			s.log.WithError(err).Debug("skipping undecodable frame")
			continue
		}
		buf := make([]byte, len(tok))
		copy(buf, tok)

		s.mu.Lock()
		s.latest = buf
		s.width, s.height = cfg.Width, cfg.Height
		s.frames++
		s.mu.Unlock()
	}
	return scanner.Err()
}

// Dimensions of the most recent frame; zero before the first one arrives.
func (s *MJPEGStream) Dimensions() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Ready reports whether at least one frame has been decoded.
func (s *MJPEGStream) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest != nil
}

// Frames returns the number of frames received so far.
func (s *MJPEGStream) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

func (s *MJPEGStream) Frame(context.Context) (image.Image, error) {
	s.mu.RLock()
	data := s.latest
	s.mu.RUnlock()
	if data == nil {
		return nil, errors.New("no frame yet")
	}
	return imaging.Decode(bytes.NewReader(data))
}

// Err returns the error that ended the stream, if any.
func (s *MJPEGStream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Close stops ffmpeg and waits for the reader to drain.
func (s *MJPEGStream) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}
