// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig holds configuration for the cleanup scheduler.
//
// # Fields
//
//   - Interval: How often to run cleanup cycles. Default: 1 hour.
//   - BatchSize: Maximum items each sweeper deletes per cycle. Default: 500.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:  time.Hour,
		BatchSize: 500,
	}
}

// scheduler implements Scheduler with a ticker and a done channel.
//
// # Thread Safety
//
// All public methods are thread-safe. A mutex protects state transitions
// and cycles never overlap.
type scheduler struct {
	sweepers []Sweeper
	config   SchedulerConfig
	now      func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
	cycle   sync.Mutex
}

// NewScheduler creates a cleanup scheduler over sweepers.
//
// # Description
//
// The scheduler runs one cycle immediately on Start and then every
// Interval. A failing sweeper is logged and does not stop the others.
//
// # Examples
//
//	s := ttl.NewScheduler(ttl.DefaultSchedulerConfig(),
//	    ttl.ConversationRetention(store, 90*24*time.Hour),
//	    ttl.PendingExpiry(pending))
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop()
func NewScheduler(config SchedulerConfig, sweepers ...Sweeper) Scheduler {
	d := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = d.BatchSize
	}
	return &scheduler{
		sweepers: sweepers,
		config:   config,
		now:      time.Now,
	}
}

// Start begins the background cleanup loop. It fails if the scheduler is
// already running.
func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	slog.Info("cleanup scheduler starting",
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize,
		"sweepers", len(s.sweepers),
	)
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for an in-flight cycle to finish. Safe to
// call multiple times.
func (s *scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	slog.Info("cleanup scheduler stopped")
	return nil
}

// RunNow performs a cleanup cycle immediately.
func (s *scheduler) RunNow(ctx context.Context) CleanupResult {
	return s.runCycle(ctx)
}

func (s *scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logCycle(s.runCycle(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.logCycle(s.runCycle(ctx))
		}
	}
}

func (s *scheduler) runCycle(ctx context.Context) CleanupResult {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	now := s.now()
	result := CleanupResult{StartTime: now, Removed: make(map[string]int, len(s.sweepers))}
	for _, sw := range s.sweepers {
		if ctx.Err() != nil {
			break
		}
		n, err := sw.Sweep(ctx, now, s.config.BatchSize)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Sweeper: sw.Name(), Err: err})
			continue
		}
		result.Removed[sw.Name()] = n
	}
	result.EndTime = s.now()
	return result
}

func (s *scheduler) logCycle(result CleanupResult) {
	for _, e := range result.Errors {
		slog.Error("cleanup sweeper failed", "sweeper", e.Sweeper, "error", e.Err)
	}
	if result.Total() > 0 {
		attrs := []any{"duration_ms", result.Duration().Milliseconds()}
		for name, n := range result.Removed {
			attrs = append(attrs, name, n)
		}
		slog.Info("cleanup cycle completed", attrs...)
		return
	}
	slog.Debug("cleanup cycle completed (nothing expired)")
}
