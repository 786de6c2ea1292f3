package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Supervisor runs janitor tasks in the background. It is shared between all
// pools of an index generation so the total number of concurrent background
// clears stays capped server-wide, regardless of how many fields are
// faceted.
//
// With zero workers, tasks run inline on the submitting goroutine; counter
// clearing then happens during release, as the original inline-cleaning mode
// did.
type Supervisor struct {
	workers int64
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithClearRate limits how many janitor tasks may start per second. Use it
// to keep a busy janitor from stealing CPU from foreground requests.
func WithClearRate(perSecond float64) SupervisorOption {
	return func(s *Supervisor) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewSupervisor creates a Supervisor with the given number of background
// workers. Zero workers means inline execution.
func NewSupervisor(workers int, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{workers: int64(workers)}
	if workers > 0 {
		s.sem = semaphore.NewWeighted(int64(workers))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit schedules a janitor task. Submission never blocks; bursts queue up
// as parked goroutines waiting on the worker semaphore.
func (s *Supervisor) Submit(task func()) {
	if s.workers <= 0 {
		s.throttle()
		task()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		s.throttle()
		task()
	}()
}

func (s *Supervisor) throttle() {
	if s.limiter != nil {
		_ = s.limiter.Wait(context.Background())
	}
}

// Wait blocks until all submitted tasks have finished. Tests and shutdown
// paths use it to observe a quiescent pool.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
