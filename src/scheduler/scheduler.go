// Package scheduler runs capture cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrInvalidInterval is returned for intervals of one second or less.
var ErrInvalidInterval = errors.New("capture interval must be greater than 1 second")

// ErrRunning is returned by Start when the scheduler is already running.
var ErrRunning = errors.New("scheduler already running")

// CycleFunc runs one capture cycle. Errors are logged and never stop the scheduler.
type CycleFunc func(ctx context.Context) error

// Scheduler is idle until Start and returns to idle on Stop.
type Scheduler struct {
	cycle CycleFunc

	// Tick is the countdown granularity; zero means one second.
	Tick time.Duration
	// OnCountdown, when set, receives the seconds remaining before the next cycle.
	OnCountdown func(remaining int)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns an idle scheduler for cycle.
func New(cycle CycleFunc) *Scheduler {
	return &Scheduler{cycle: cycle}
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start runs the first cycle immediately and then one every intervalSec seconds
// until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context, intervalSec int) error {
	if intervalSec <= 1 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, intervalSec, s.stop, s.done)
	log.Printf("Scheduler started (interval=%ds)", intervalSec)
	return nil
}

// Stop disarms the scheduler. A cycle already in progress finishes; Stop waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
	log.Printf("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, intervalSec int, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.stop == stop {
			s.running = false
		}
		s.mu.Unlock()
	}()

	tick := s.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if err := s.cycle(ctx); err != nil {
			log.Printf("Capture cycle failed: %v", err)
		}
		// The countdown starts when the cycle ends, not on the ticker's old phase.
		ticker.Reset(tick)
		for remaining := intervalSec; remaining > 0; remaining-- {
			if s.OnCountdown != nil {
				s.OnCountdown(remaining)
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}
