package sleep

import (
	"context"
	"sync"
	"time"

	"github.com/soundprediction/tkgengine/pkg/types"
)

// Scheduler runs Engine.Sleep once a day at a fixed hour:minute, never
// overlapping two runs.
// No timer/cron library appears anywhere in the reference corpus for this
// kind of single-task daily wakeup, so this is built on stdlib time.Timer,
// self-rescheduling after each fire.
type Scheduler struct {
	engine *Engine

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	running bool
}

// NewScheduler constructs a Scheduler bound to engine.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{engine: engine}
}

// Start begins the daily schedule described by cfg. Calling Start while
// already running replaces the previous schedule.
func (s *Scheduler) Start(cfg types.AutoSleepConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.scheduleNext(ctx, cfg)
}

// Stop cancels the schedule. A run already in flight completes normally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.running = false
}

// Running reports whether a schedule is currently active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) scheduleNext(ctx context.Context, cfg types.AutoSleepConfig) {
	delay := nextFireDelay(time.Now(), cfg.Hour, cfg.Minute)
	s.timer = time.AfterFunc(delay, func() {
		s.fire(ctx, cfg)
	})
}

// fire runs one sleep cycle, isolating any panic so a bad cycle never
// kills the schedule, then reschedules the next fire.
func (s *Scheduler) fire(ctx context.Context, cfg types.AutoSleepConfig) {
	defer func() {
		if r := recover(); r != nil && cfg.OnError != nil {
			cfg.OnError(panicToError(r))
		}
		s.mu.Lock()
		stillRunning := s.running
		s.mu.Unlock()
		if stillRunning && ctx.Err() == nil {
			s.mu.Lock()
			s.scheduleNext(ctx, cfg)
			s.mu.Unlock()
		}
	}()

	report, err := s.engine.Sleep(ctx, cfg.Target, cfg.Options)
	if err != nil {
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
		return
	}
	if cfg.OnComplete != nil {
		cfg.OnComplete(report)
	}
}

func nextFireDelay(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v interface{} }

func (e *panicError) Error() string { return "sleep: scheduler recovered panic" }
