package model

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type stubHandle struct{ closed atomic.Bool }

func (h *stubHandle) Invoke(context.Context, frame.Encoded) ([]RawResult, error) { return nil, nil }
func (h *stubHandle) Close() error                                             { h.closed.Store(true); return nil }

// scriptedFactory fails every candidate whose device is in fail and counts opens.
type scriptedFactory struct {
	fail  map[Device]bool
	gate  chan struct{}
	opens atomic.Int32
}

func (f *scriptedFactory) Open(ctx context.Context, c Candidate) (Handle, error) {
	f.opens.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[c.Device] {
		return nil, errors.New("device unavailable")
	}
	return &stubHandle{}, nil
}

var twoCandidates = []Candidate{
	{Model: "vit-face-expression", Device: Accelerated},
	{Model: "vit-face-expression", Device: CPU},
}

func TestLoaderFallsThroughToNextCandidate(t *testing.T) {
	f := &scriptedFactory{fail: map[Device]bool{Accelerated: true}}
	l := NewLoader(context.Background(), f, twoCandidates, quietLogger())

	if err := l.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !l.Ready() {
		t.Fatalf("state = %v", l.State())
	}
	if c, _ := l.Active(); c.Device != CPU {
		t.Errorf("active = %v, want cpu candidate", c)
	}
	if f.opens.Load() != 2 {
		t.Errorf("opens = %d, want 2", f.opens.Load())
	}

	// ready is a no-op
	if err := l.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.opens.Load() != 2 || l.Attempts() != 1 {
		t.Errorf("second Initialize reloaded: opens=%d attempts=%d", f.opens.Load(), l.Attempts())
	}
}

func TestLoaderAllCandidatesFail(t *testing.T) {
	f := &scriptedFactory{fail: map[Device]bool{Accelerated: true, CPU: true}}
	l := NewLoader(context.Background(), f, twoCandidates, quietLogger())

	err := l.Initialize(context.Background())
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatalf("expected ErrAllCandidatesFailed, got %v", err)
	}
	var cerr *CandidateLoadError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a CandidateLoadError inside %v", err)
	}
	if l.State() != Failed || l.Ready() {
		t.Fatalf("state = %v", l.State())
	}

	for i := 0; i < 3; i++ {
		if err := l.Initialize(context.Background()); !errors.Is(err, ErrAllCandidatesFailed) {
			t.Errorf("retry %d: %v", i, err)
		}
	}
	if l.Ready() || f.opens.Load() != 2 {
		t.Errorf("failed loader retried: opens=%d", f.opens.Load())
	}
}

func TestLoaderNoCandidates(t *testing.T) {
	l := NewLoader(context.Background(), &scriptedFactory{}, nil, quietLogger())
	err := l.Initialize(context.Background())
	if !errors.Is(err, ErrAllCandidatesFailed) || !errors.Is(err, ErrNoCandidates) {
		t.Errorf("got %v", err)
	}
}

func TestLoaderConcurrentInitializeLoadsOnce(t *testing.T) {
	f := &scriptedFactory{gate: make(chan struct{})}
	l := NewLoader(context.Background(), f, twoCandidates, quietLogger())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Initialize(context.Background())
		}(i)
	}

	deadline := time.After(2 * time.Second)
	for l.State() != Initializing {
		select {
		case <-deadline:
			t.Fatal("loader never entered initializing")
		case <-time.After(time.Millisecond):
		}
	}
	close(f.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if l.Attempts() != 1 || f.opens.Load() != 1 {
		t.Errorf("attempts=%d opens=%d, want 1 and 1", l.Attempts(), f.opens.Load())
	}
	if !l.Ready() {
		t.Errorf("state = %v", l.State())
	}
}

func TestLoaderCallerTimeoutDoesNotAbortLoad(t *testing.T) {
	f := &scriptedFactory{gate: make(chan struct{})}
	l := NewLoader(context.Background(), f, twoCandidates, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Initialize(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if l.State() != Initializing {
		t.Fatalf("state = %v", l.State())
	}

	close(f.gate)
	if err := l.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.Ready() || l.Attempts() != 1 {
		t.Errorf("ready=%v attempts=%d", l.Ready(), l.Attempts())
	}
}

func TestLoaderDispose(t *testing.T) {
	l := NewLoader(context.Background(), &scriptedFactory{}, twoCandidates, quietLogger())
	if err := l.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	h, _ := l.Handle()
	if err := l.Dispose(); err != nil {
		t.Fatal(err)
	}
	if !h.(*stubHandle).closed.Load() {
		t.Error("handle not closed")
	}
	if l.State() != Uninitialized {
		t.Errorf("state = %v", l.State())
	}
	if err := l.Initialize(context.Background()); err != nil || !l.Ready() {
		t.Errorf("re-initialize after dispose: %v", err)
	}
}

func TestParseDevice(t *testing.T) {
	for in, want := range map[string]Device{"cpu": CPU, "GPU": Accelerated, "webgpu": Accelerated, "accelerated": Accelerated} {
		if got, err := ParseDevice(in); err != nil || got != want {
			t.Errorf("ParseDevice(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDevice("tpu"); err == nil {
		t.Error("expected error")
	}
}
