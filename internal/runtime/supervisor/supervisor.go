package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"releasebot/pkg/logx"
)

// Supervisor manages the long-running loops of the bot, tied to a shared context.
//   - Named goroutines (for logging and exit diagnostics)
//   - Panic recovery
//   - First error wins and cancels every sibling
//
// The loops here (poller, dispatcher, router, platform client) are expected to
// run until shutdown. A loop that returns, with or without an error, takes the
// whole process down: Wait() reports which one died first.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	errOnce   sync.Once
	firstErr  atomic.Value // stores error
	firstName atomic.Value // stores string

	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	err, _ := v.(error)
	return err
}

// FailedTask returns the name of the goroutine whose exit was recorded first,
// or "" if none has exited abnormally yet.
func (s *Supervisor) FailedTask() string {
	v := s.firstName.Load()
	if v == nil {
		return ""
	}
	name, _ := v.(string)
	return name
}

// Go runs fn under the supervisor. Any return before shutdown is treated as a
// failure of the named subsystem and cancels the remaining goroutines.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		defer func() {
			if r := recover(); r != nil {
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked",
						logx.String("name", name),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
				s.setErr(name, fmt.Errorf("panic in %s: %v", name, r))
				s.cancel()
			}
		}()

		if !s.log.IsZero() {
			s.log.Debug("goroutine started", logx.String("name", name))
		}
		err := fn(s.ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			s.setErr(name, fmt.Errorf("%s: %w", name, err))
			s.cancel()
		case err == nil && s.ctx.Err() == nil:
			// A clean return before shutdown still means the subsystem is gone.
			s.setErr(name, fmt.Errorf("%s: exited", name))
			s.cancel()
		}
		if !s.log.IsZero() {
			s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
		}
	}()
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has exited or ctx is done, and returns the
// first recorded error (nil on a clean shutdown).
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(name string, err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.firstErr.Store(err)
		s.firstName.Store(name)
	})
}
