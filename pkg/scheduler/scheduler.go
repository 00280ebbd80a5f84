package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one scheduler iteration.
type Task func(context.Context) error

// Config tunes loop behaviour.
type Config struct {
	Period time.Duration
	Jitter float64
	Logger *zap.Logger
}

// Scheduler runs a task on a fixed period with jitter. A failing iteration is
// logged and the loop continues; only context cancellation stops it.
type Scheduler struct {
	name   string
	task   Task
	period time.Duration
	jitter float64
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New builds a scheduler around the provided task.
func New(name string, task Task, cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.Jitter <= 0 || cfg.Jitter >= 1 {
		cfg.Jitter = 0.1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Scheduler{
		name:   name,
		task:   task,
		period: cfg.Period,
		jitter: cfg.Jitter,
		logger: cfg.Logger,
	}
}

// Start launches the loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "scheduler", s.name, "period", s.period)
}

// Stop cancels the loop and waits for the current iteration to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped", "scheduler", s.name)
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		s.runOnce()

		timer := time.NewTimer(s.nextDelay())
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Sugar().Errorw("scheduler iteration panicked", "scheduler", s.name, "panic", r)
		}
	}()

	if err := s.task(s.ctx); err != nil {
		s.logger.Sugar().Warnw("scheduler iteration failed", "scheduler", s.name, "error", err)
	}
}

// nextDelay randomizes the period so multiple instances do not fire in sync.
func (s *Scheduler) nextDelay() time.Duration {
	spread := 1 - s.jitter + 2*s.jitter*rand.Float64()
	return time.Duration(float64(s.period) * spread)
}
