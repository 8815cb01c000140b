// Package cleanup deactivates subscribers who have gone without a
// notification for too long.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"newsletter-notifier/pkg/newsletter"
)

// DefaultDormancyMonths is how long a subscriber may go un-notified.
const DefaultDormancyMonths = 6

const maxConcurrentWrites = 16

// Store interface for the dormancy query and deactivation.
type Store interface {
	ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]*newsletter.Subscriber, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// Result summarizes one cleanup run.
type Result struct {
	Error         string `json:"error,omitempty"`
	InactiveCount int    `json:"inactiveCount"`
	Success       bool   `json:"success"`
}

// Job deactivates dormant subscribers.
type Job struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	months int
}

// New creates a cleanup job. months <= 0 uses DefaultDormancyMonths.
func New(store Store, logger *slog.Logger, months int) *Job {
	if months <= 0 {
		months = DefaultDormancyMonths
	}
	return &Job{
		store:  store,
		logger: logger,
		now:    time.Now,
		months: months,
	}
}

// Cutoff returns the lastNotified instant before which subscribers are dormant.
func (j *Job) Cutoff() time.Time {
	return j.now().AddDate(0, -j.months, 0)
}

// Run deactivates every subscriber whose lastNotified is before the cutoff.
// Subscribers that were never notified have no lastNotified and are left alone.
func (j *Job) Run(ctx context.Context) Result {
	start := time.Now()
	cutoff := j.Cutoff()

	subs, err := j.store.ListNotifiedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("Cleanup query failed", "cutoff", cutoff.Format(time.RFC3339), "error", err)
		return Result{Error: fmt.Sprintf("list dormant subscribers: %v", err)}
	}

	// Each write is independent: a failed one must not cancel the rest.
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	g.SetLimit(maxConcurrentWrites)
	for _, sub := range subs {
		g.Go(func() error {
			if err := j.store.SetActive(ctx, sub.ID, false); err != nil {
				j.logger.Warn("Failed to deactivate subscriber", "email", sub.Email, "error", err)
				mu.Lock()
				failed = append(failed, fmt.Errorf("deactivate %s: %w", sub.Email, err))
				mu.Unlock()
				return nil
			}
			j.logger.Debug("Subscriber deactivated", "email", sub.Email, "last_notified", sub.LastNotified)
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) > 0 {
		j.logger.Error("Cleanup finished with failures",
			"cutoff", cutoff.Format(time.RFC3339),
			"failed", len(failed),
			"inactive_count", len(subs)-len(failed))
		return Result{Error: errors.Join(failed...).Error(), InactiveCount: len(subs) - len(failed)}
	}

	j.logger.Info("Cleanup completed",
		"cutoff", cutoff.Format(time.RFC3339),
		"inactive_count", len(subs),
		"duration_ms", time.Since(start).Milliseconds())
	return Result{Success: true, InactiveCount: len(subs)}
}
