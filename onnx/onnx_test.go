package onnx

import (
	"context"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/maastricht-university/edmo-mood/model"
	"github.com/sirupsen/logrus"
)

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3, -4})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("sum = %v", sum)
	}
	if probs[2] <= probs[1] || probs[1] <= probs[0] {
		t.Errorf("ordering lost: %v", probs)
	}
	if Softmax(nil) != nil {
		t.Error("empty logits should give nil")
	}
}

func TestRankOrdersDescending(t *testing.T) {
	res := Rank([]float64{0.1, 0.6, 0.3}, []string{"angry", "happy"})
	if res[0].Label != "happy" || *res[0].Score != 0.6 {
		t.Errorf("top = %+v", res[0])
	}
	if res[1].Label != "class_2" {
		t.Errorf("unlabelled class = %q", res[1].Label)
	}
}

func TestPreprocessLayout(t *testing.T) {
	img := imaging.New(2, 2, color.NRGBA{R: 255, G: 0, B: 255, A: 255})
	data := Preprocess(img, 2, 2, 0.5, 0.5)
	if len(data) != 3*2*2 {
		t.Fatalf("len = %d", len(data))
	}
	// red plane all 1, green plane all -1
	if data[0] != 1 || data[4] != -1 || data[8] != 1 {
		t.Errorf("planes = %v", data)
	}
}

func TestModelPath(t *testing.T) {
	f := NewFactory(Config{ModelsDir: "/models"}, logrus.New())
	if got := f.ModelPath("vit"); got != filepath.Join("/models", "vit.onnx") {
		t.Errorf("got %q", got)
	}
	if got := f.ModelPath("/abs/m.onnx"); got != "/abs/m.onnx" {
		t.Errorf("got %q", got)
	}
}

func TestOpenMissingModelFails(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	f := NewFactory(Config{ModelsDir: t.TempDir()}, l)
	if _, err := f.Open(context.Background(), model.Candidate{Model: "nope", Device: model.CPU}); err == nil {
		t.Fatal("expected error for missing model file")
	}
}
