// Package plugin ships the optional lifecycle components that install
// into a database: the leader-gated scheduler and the TTL reaper built
// on it. Plugins hold no state in the blob store beyond what their task
// writes; leadership, and therefore scheduling, is decided by the shared
// coordination service.
package plugin

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/coordinator"
)

// Task is one scheduled unit of work. Errors are logged, not fatal; the
// next tick retries.
type Task func(ctx context.Context) error

// Scheduler runs a task on a jittered interval, only while the attached
// coordination service holds the lease. A nil service runs the task
// unconditionally (single-process deployments, tests).
type Scheduler struct {
	name     string
	svc      *coordinator.Service
	interval time.Duration
	task     Task

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(name string, svc *coordinator.Service, interval time.Duration, task Task) *Scheduler {
	return &Scheduler{
		name:     name,
		svc:      svc,
		interval: interval,
		task:     task,
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	stopCh, stoppedCh := s.stopCh, s.stoppedCh
	s.mu.Unlock()

	logger.Info("scheduler starting", "task", s.name, "interval", s.interval)

	go func() {
		defer close(stoppedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-time.After(s.tick()):
			}
			if s.svc != nil && !s.svc.IsLeader() {
				continue
			}
			if err := s.task(ctx); err != nil {
				logger.Warn("scheduled task failed", "task", s.name, "error", err)
			}
		}
	}()
}

// RunOnce executes the task immediately, bypassing the leader gate.
// Exported for deterministic tests.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.task(ctx)
}

// Stop halts the loop, letting an in-flight task finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stoppedCh := s.stoppedCh
	s.mu.Unlock()

	<-stoppedCh
	logger.Info("scheduler stopped", "task", s.name)
}

// tick jitters the interval ±10% so schedulers across a fleet drift
// apart instead of sweeping in lockstep.
func (s *Scheduler) tick() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(s.interval)/5+1)) - s.interval/10
	return s.interval + jitter
}
