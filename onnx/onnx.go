// Package onnx runs emotion models locally through ONNX Runtime.
package onnx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/maastricht-university/edmo-mood/model"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultLabels is the FER-2013 class order most face-expression models emit.
var DefaultLabels = []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}

// Config controls the local runtime.
type Config struct {
	// LibraryPath points at the onnxruntime shared library; empty uses the default lookup.
	LibraryPath string
	// ModelsDir resolves relative candidate identifiers.
	ModelsDir  string
	Labels     []string
	NumThreads int
	// Mean and Std normalize pixel values scaled to [0,1].
	Mean, Std float32
}

// DefaultConfig matches ViT-style preprocessing.
func DefaultConfig() Config {
	return Config{Labels: DefaultLabels, Mean: 0.5, Std: 0.5}
}

var envMu sync.Mutex

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx: %w", err)
	}
	return nil
}

// Factory is a model.Factory opening .onnx files.
type Factory struct {
	cfg Config
	log logrus.FieldLogger
}

func NewFactory(cfg Config, log logrus.FieldLogger) *Factory {
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels
	}
	if cfg.Std == 0 {
		cfg.Std = 1
	}
	return &Factory{cfg: cfg, log: log}
}

// ModelPath resolves a candidate identifier to a file on disk.
func (f *Factory) ModelPath(id string) string {
	p := id
	if filepath.Ext(p) == "" {
		p += ".onnx"
	}
	if !filepath.IsAbs(p) && f.cfg.ModelsDir != "" {
		p = filepath.Join(f.cfg.ModelsDir, p)
	}
	return p
}

func (f *Factory) Open(ctx context.Context, c model.Candidate) (model.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.ModelPath(c.Model)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if err := initEnvironment(f.cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input, got %dD", len(in.Dimensions))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			f.log.WithError(err).Warn("destroy session options")
		}
	}()
	if f.cfg.NumThreads > 0 {
		_ = opts.SetIntraOpNumThreads(f.cfg.NumThreads)
	}
	if c.Device == model.Accelerated {
		if err := appendCUDA(opts); err != nil {
			return nil, err
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(path, []string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	h := &session{sess: sess, labels: f.cfg.Labels, mean: f.cfg.Mean, std: f.cfg.Std, inH: 224, inW: 224}
	if v := in.Dimensions[2]; v > 0 {
		h.inH = int(v)
	}
	if v := in.Dimensions[3]; v > 0 {
		h.inW = int(v)
	}
	return h, nil
}

func appendCUDA(opts *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("cuda options: %w", err)
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
		return fmt.Errorf("cuda options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("cuda provider: %w", err)
	}
	return nil
}

type session struct {
	mu       sync.Mutex
	sess     *ort.DynamicAdvancedSession
	labels   []string
	mean     float32
	std      float32
	inH, inW int
}

func (s *session) Invoke(ctx context.Context, img frame.Encoded) ([]model.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoded, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	data := Preprocess(decoded, s.inW, s.inH, s.mean, s.std)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(s.inH), int64(s.inW)), data)
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	defer input.Destroy()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, errors.New("session closed")
	}
	outputs := []ort.Value{nil}
	if err := s.sess.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	return Rank(Softmax(t.GetData()), s.labels), nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return err
}

// Preprocess resizes img and lays it out as normalized CHW float32.
func Preprocess(img image.Image, w, h int, mean, std float32) []float32 {
	resized := imaging.Resize(img, w, h, imaging.Linear)
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := resized.PixOffset(x, y)
			p := y*w + x
			for c := 0; c < 3; c++ {
				v := float32(resized.Pix[i+c]) / 255
				out[c*plane+p] = (v - mean) / std
			}
		}
	}
	return out
}

// Softmax turns logits into probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l - maxLogit))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Rank pairs probabilities with labels, highest first. Classes without a
// label are reported as class_<i>.
func Rank(probs []float64, labels []string) []model.RawResult {
	out := make([]model.RawResult, len(probs))
	for i, p := range probs {
		label := fmt.Sprintf("class_%d", i)
		if i < len(labels) {
			label = labels[i]
		}
		score := p
		out[i] = model.RawResult{Label: label, Score: &score}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	return out
}
