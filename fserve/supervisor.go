package fserve

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
)

// DefaultSupervisorBuffer is how many unhandled errors may be queued
// before Report logs inline.
const DefaultSupervisorBuffer = 64

// Supervisor is the last stop for errors that nothing else can turn
// into a response: failed downloads, responses that could not be
// written, and background work started with Go.  Every error is logged
// with its stack when it has one.  Nothing is retried or restarted.
type Supervisor struct {
	log     *slog.Logger
	errs    chan error
	notify  func(error)
	wg      sync.WaitGroup
	running sync.Mutex
}

var _ fvelope.Reporter = &Supervisor{}

// NewSupervisor makes a Supervisor that logs to log.  notify, when not
// nil, is also called with each error after it was logged.
func NewSupervisor(log *slog.Logger, buffer int, notify func(error)) *Supervisor {
	if buffer <= 0 {
		buffer = DefaultSupervisorBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		log:    log,
		errs:   make(chan error, buffer),
		notify: notify,
	}
}

// Report queues err.  It never blocks: when the queue is full the error
// is handled on the caller's goroutine.
func (s *Supervisor) Report(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
		s.handle(err)
	}
}

// Go runs fn in the background.  An error or a panic from fn is
// reported.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.Report(errors.WithStack(fvelope.PanicError{Value: r, Stack: string(debug.Stack())}))
			}
		}()
		if err := fn(ctx); err != nil {
			s.Report(errors.Wrap(err, name))
		}
	}()
}

// Wait blocks until everything started with Go has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Run handles reported errors until ctx is done, then drains what is
// already queued.  Only one Run may be active at a time.
func (s *Supervisor) Run(ctx context.Context) {
	s.running.Lock()
	defer s.running.Unlock()
	for {
		select {
		case err := <-s.errs:
			s.handle(err)
		case <-ctx.Done():
			for {
				select {
				case err := <-s.errs:
					s.handle(err)
				default:
					return
				}
			}
		}
	}
}

func (s *Supervisor) handle(err error) {
	attrs := []any{"error", err.Error()}
	if stack := fvelope.RecoverStack(err); stack != "" {
		attrs = append(attrs, "stack", stack)
	} else {
		attrs = append(attrs, "detail", fmt.Sprintf("%+v", err))
	}
	s.log.Error("unhandled error", attrs...)
	if s.notify != nil {
		s.notify(err)
	}
}
