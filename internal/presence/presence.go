// Package presence reads the object-detection signal that gates admission.
//
// A Source reports the raw signal. Reader wraps a Source with fail-closed
// semantics: any read error yields Present=false and is logged, never
// returned to the caller.
package presence

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/config"
	"grimm.is/turnstile/internal/logging"
)

// Source produces the raw presence signal.
type Source interface {
	Name() string
	Read(ctx context.Context) (bool, error)
}

// New builds the Source described by cfg.
func New(cfg *config.PresenceConfig) (Source, error) {
	if cfg == nil {
		return Static(false), nil
	}
	switch cfg.Source {
	case config.SourceGPIO:
		return NewGPIOSource(cfg.GPIOPin, cfg.ActiveLow, cfg.Path), nil
	case config.SourceFile:
		return NewFileSource(cfg.Path), nil
	case config.SourceStatic, "":
		return Static(cfg.Present), nil
	default:
		return nil, fmt.Errorf("unknown presence source %q", cfg.Source)
	}
}

// Reader turns a Source into timestamped, fail-closed readings.
type Reader struct {
	src    Source
	clock  clock.Clock
	logger *logging.Logger

	mu      sync.RWMutex
	last    access.Reading
	faulted bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithClock sets the clock used to stamp readings.
func WithClock(c clock.Clock) ReaderOption {
	return func(r *Reader) { r.clock = c }
}

// WithLogger sets the logger used for fault reports.
func WithLogger(l *logging.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// NewReader wraps src.
func NewReader(src Source, opts ...ReaderOption) *Reader {
	r := &Reader{src: src, clock: &clock.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger, "presence")
	return r
}

// Read polls the source. It never fails: a source error is reported as
// an absent reading with Fault set.
func (r *Reader) Read(ctx context.Context) access.Reading {
	present, err := r.src.Read(ctx)
	reading := access.Reading{Present: present, ReadAt: r.clock.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		perr := access.Wrap(access.KindPresenceUnavailable, "", err, "presence source %s unreadable", r.src.Name())
		reading.Present = false
		reading.Fault = perr.Error()
		if !r.faulted {
			r.logger.Warn("presence unavailable, treating as absent", "source", r.src.Name(), "error", err)
		} else {
			r.logger.Debug("presence still unavailable", "source", r.src.Name(), "error", err)
		}
		r.faulted = true
	} else {
		if r.faulted {
			r.logger.Info("presence source recovered", "source", r.src.Name())
		}
		r.faulted = false
		if present != r.last.Present {
			r.logger.Debug("presence changed", "present", present)
		}
	}

	r.last = reading
	return reading
}

// Last returns the most recent reading without touching the source.
// Before the first Read it is the zero Reading (absent).
func (r *Reader) Last() access.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// SourceName reports the wrapped source's name.
func (r *Reader) SourceName() string {
	return r.src.Name()
}
