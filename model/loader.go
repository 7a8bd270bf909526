package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// State of a Loader.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "uninitialized"
}

var (
	// ErrAllCandidatesFailed is terminal: the loader stays failed for its lifetime.
	ErrAllCandidatesFailed = errors.New("all model candidates failed")
	ErrNoCandidates        = errors.New("no model candidates configured")
	ErrDisposed            = errors.New("loader disposed")
)

// CandidateLoadError records one candidate that could not be constructed.
type CandidateLoadError struct {
	Candidate Candidate
	Err       error
}

func (e *CandidateLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Candidate, e.Err)
}

func (e *CandidateLoadError) Unwrap() error { return e.Err }

// Loader walks the candidate list until one opens. At most one load runs at
// a time; concurrent callers share its outcome.
type Loader struct {
	factory    Factory
	candidates []Candidate
	log        logrus.FieldLogger

	// loads run under base so a caller giving up does not abort them
	base context.Context

	group singleflight.Group

	mu       sync.RWMutex
	state    State
	handle   Handle
	active   Candidate
	err      error
	attempts int
}

// NewLoader builds a Loader. base bounds every load; cancel it to abort
// in-flight model construction on shutdown.
func NewLoader(base context.Context, f Factory, candidates []Candidate, log logrus.FieldLogger) *Loader {
	cs := make([]Candidate, len(candidates))
	copy(cs, candidates)
	return &Loader{factory: f, candidates: cs, log: log, base: base}
}

func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loader) Ready() bool { return l.State() == Ready }

// Handle returns the loaded classifier, if any.
func (l *Loader) Handle() (Handle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle, l.state == Ready
}

// Active returns the candidate that loaded successfully.
func (l *Loader) Active() (Candidate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active, l.state == Ready
}

// Attempts counts how many times the candidate list has been walked.
func (l *Loader) Attempts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attempts
}

// Err returns the terminal error once failed.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Initialize loads a model if none is loaded. It returns nil when ready,
// the stored error when failed, and otherwise joins or starts the single
// in-flight load. If ctx ends first, Initialize returns ctx.Err() while the
// load carries on.
func (l *Loader) Initialize(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case Ready:
		l.mu.Unlock()
		return nil
	case Failed:
		err := l.err
		l.mu.Unlock()
		return err
	case Uninitialized:
		l.state = Initializing
	}
	l.mu.Unlock()

	ch := l.group.DoChan("load", func() (any, error) {
		return nil, l.load()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) load() error {
	l.mu.Lock()
	// a joiner may arrive after the previous flight finished
	if l.state != Initializing {
		err := l.err
		l.mu.Unlock()
		return err
	}
	l.attempts++
	l.mu.Unlock()

	if len(l.candidates) == 0 {
		return l.finish(nil, Candidate{}, fmt.Errorf("%w: %w", ErrAllCandidatesFailed, ErrNoCandidates))
	}

	var errs []error
	for _, c := range l.candidates {
		if err := l.base.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		log := l.log.WithFields(logrus.Fields{"model": c.Model, "device": c.Device})
		log.Info("loading model candidate")

		h, err := l.factory.Open(l.base, c)
		if err == nil && h == nil {
			err = errors.New("factory returned no handle")
		}
		if err != nil {
			cerr := &CandidateLoadError{Candidate: c, Err: err}
			log.WithError(err).Warn("model candidate failed")
			errs = append(errs, cerr)
			continue
		}
		log.Info("model ready")
		return l.finish(h, c, nil)
	}
	return l.finish(nil, Candidate{}, fmt.Errorf("%w: %w", ErrAllCandidatesFailed, errors.Join(errs...)))
}

func (l *Loader) finish(h Handle, c Candidate, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Initializing {
		// disposed while loading
		if h != nil {
			_ = h.Close()
		}
		return ErrDisposed
	}
	if err != nil {
		l.state = Failed
		l.err = err
		l.log.WithError(err).Error("no model available, continuing without primary classifier")
		return err
	}
	l.state = Ready
	l.handle = h
	l.active = c
	return nil
}

// Dispose closes the handle and returns the loader to uninitialized.
func (l *Loader) Dispose() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.handle != nil {
		err = l.handle.Close()
	}
	l.handle = nil
	l.active = Candidate{}
	l.err = nil
	l.state = Uninitialized
	return err
}
