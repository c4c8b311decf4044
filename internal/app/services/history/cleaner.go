package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arrowhead-lite/orchestrator/internal/app/metrics"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/app/system"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Cleaner removes ledger rows older than the retention window. Rows
// exactly at the boundary are kept.
type Cleaner struct {
	jobs     storage.JobStore
	interval time.Duration
	maxAge   time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Cleaner)(nil)

// NewCleaner constructs a cleaner that runs every interval and removes
// rows older than maxAge.
func NewCleaner(jobs storage.JobStore, interval, maxAge time.Duration, log *logger.Logger) *Cleaner {
	if log == nil {
		log = logger.NewDefault("history-cleaner")
	}
	return &Cleaner{
		jobs:     jobs,
		interval: interval,
		maxAge:   maxAge,
		log:      log,
		now:      time.Now,
	}
}

func (c *Cleaner) Name() string { return "history-cleaner" }

// Start schedules the periodic sweep.
func (c *Cleaner) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("history cleaner already running")
	}
	if c.interval <= 0 {
		return fmt.Errorf("history cleaner interval must be positive")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.interval), c.sweep); err != nil {
		return fmt.Errorf("schedule history cleaner: %w", err)
	}
	c.cron.Start()
	c.running = true
	c.log.WithFields(map[string]any{
		"interval": c.interval.String(),
		"maxAge":   c.maxAge.String(),
	}).Info("history cleaner started")
	return nil
}

// Stop halts the schedule and waits for a sweep in flight.
func (c *Cleaner) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	done := c.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.Info("history cleaner stopped")
	return nil
}

// Sweep runs one retention pass immediately and returns the number of
// rows removed.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	cutoff := c.now().UTC().Add(-c.maxAge)
	deleted, err := c.jobs.DeleteJobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.RecordCleanup(deleted)
		c.log.WithField("deleted", deleted).Info("aged ledger rows removed")
	}
	return deleted, nil
}

func (c *Cleaner) sweep() {
	if _, err := c.Sweep(context.Background()); err != nil {
		c.log.WithError(err).Error("history sweep failed")
	}
}
