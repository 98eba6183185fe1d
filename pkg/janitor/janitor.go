// Package janitor runs the gateway's periodic housekeeping: expired
// truncation-recovery records are deleted and a stale model catalogue is
// dropped so the next request refetches it.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/recovery"
)

// Schedule is the sweep cadence. Recovery records live minutes; sweeping
// once a minute keeps the error between TTL and actual lifetime small
// without the caches needing their own timers.
const Schedule = "@every 1m"

// Janitor owns the cron runner. Either cache may be nil.
type Janitor struct {
	recovery *recovery.Cache
	models   *kiro.ModelCache

	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// New creates a janitor for the given caches.
func New(cache *recovery.Cache, models *kiro.ModelCache, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		recovery: cache,
		models:   models,
		cron:     cron.New(),
		logger:   logger.With("component", "janitor"),
	}
}

// Start schedules the sweep and returns immediately. The janitor stops when
// ctx is canceled.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	if _, err := j.cron.AddFunc(Schedule, j.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	j.cron.Start()
	j.running = true
	j.logger.Info("janitor started", "schedule", Schedule)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// sweep runs one housekeeping pass.
func (j *Janitor) sweep() {
	swept := 0
	if j.recovery != nil {
		swept = j.recovery.SweepExpired()
	}
	if j.models != nil {
		j.models.Purge()
	}

	if swept > 0 {
		j.logger.Info("swept expired recovery records", "deleted", swept)
	} else {
		j.logger.Debug("sweep completed, nothing expired")
	}
}

// Stop halts the schedule and waits for a running sweep to finish. Safe to
// call more than once.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil && j.running {
		<-j.cron.Stop().Done()
		j.running = false
		j.logger.Info("janitor stopped")
	}
}

// IsRunning reports whether the schedule is active.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// NextRun returns the next scheduled sweep time, or the zero time when the
// janitor is not running.
func (j *Janitor) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron == nil {
		return time.Time{}
	}
	entries := j.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
