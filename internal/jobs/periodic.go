// Package jobs runs background maintenance tasks on a fixed interval.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/logger"
)

// ErrBusy is returned by Trigger while a run is already in flight.
var ErrBusy = errors.New("job already running")

type RunFunc[T any] func(ctx context.Context) (T, error)

type Status struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Scheduled    bool          `json:"scheduled"`
	Runs         int           `json:"runs"`
	LastStart    time.Time     `json:"lastStart,omitzero"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
}

// Periodic runs fn every interval on a ticker. Runs never overlap: a tick
// that lands while a run is in flight is dropped. Stop cancels the context
// handed to fn, so a run ends after the item it is working on.
type Periodic[T any] struct {
	name     string
	interval time.Duration
	fn       RunFunc[T]
	log      *slog.Logger

	busy atomic.Bool

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	status Status
}

func New[T any](name string, interval time.Duration, fn RunFunc[T], log *slog.Logger) *Periodic[T] {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Periodic[T]{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      log,
		status:   Status{Name: name, Interval: interval},
	}
}

func (p *Periodic[T]) Name() string { return p.name }

// Start schedules the job. Calling Start on a started job is a no-op.
func (p *Periodic[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil || p.interval <= 0 {
		return
	}
	runCtx, cancel := context.WithCancel(logger.WithJob(ctx, p.name))
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.cancel = cancel
	p.status.Scheduled = true

	go p.loop(runCtx, p.stop, p.done)
	p.log.InfoContext(ctx, "job scheduled", "job", p.name, "interval", p.interval)
}

func (p *Periodic[T]) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Trigger(ctx); errors.Is(err, ErrBusy) {
				p.log.DebugContext(ctx, "tick skipped, previous run still active", "job", p.name)
			}
		}
	}
}

// Stop prevents further scheduled runs and waits for the loop to exit,
// including any run it started.
func (p *Periodic[T]) Stop() {
	p.mu.Lock()
	stop, done, cancel := p.stop, p.done, p.cancel
	p.stop, p.done, p.cancel = nil, nil, nil
	p.status.Scheduled = false
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	cancel()
	<-done
}

// Trigger runs the job now on the caller's goroutine, or returns ErrBusy.
// A panicking run is recovered and reported as an error.
func (p *Periodic[T]) Trigger(ctx context.Context) (res T, err error) {
	if !p.busy.CompareAndSwap(false, true) {
		return res, ErrBusy
	}
	defer p.busy.Store(false)

	start := time.Now()
	p.mu.Lock()
	p.status.Running = true
	p.status.LastStart = start
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", p.name, r)
		}
		d := time.Since(start)
		observability.ObserveJobRun(p.name, err, d.Seconds())

		p.mu.Lock()
		p.status.Running = false
		p.status.Runs++
		p.status.LastDuration = d
		p.status.LastError = ""
		if err != nil {
			p.status.LastError = err.Error()
		}
		p.mu.Unlock()

		if err != nil {
			p.log.ErrorContext(ctx, "job run failed", "job", p.name, "err", err, "duration", d)
		} else {
			p.log.InfoContext(ctx, "job run complete", "job", p.name, "duration", d)
		}
	}()

	return p.fn(ctx)
}

// Exclusive runs fn under the same no-overlap guard as Trigger, for partial
// runs that must not race a full one. It does not count as a run.
func (p *Periodic[T]) Exclusive(fn func() error) error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.busy.Store(false)
	return fn()
}

func (p *Periodic[T]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
