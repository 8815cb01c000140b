// Package trigger connects content events and operator requests to the
// notification pipeline.
//
// Every path into notify goes through Dispatcher.OnContentCreated: content
// creation observed by the Watcher, CMS webhooks, and manual triggers, which
// write a marker that is picked up like any other creation.
package trigger

import (
	"context"
	"log/slog"
	"time"

	"newsletter-notifier/notify"
	"newsletter-notifier/pkg/newsletter"
)

// Notifier sends publish notifications.
type Notifier interface {
	NotifyOnPublish(ctx context.Context, item *newsletter.ContentItem) *notify.Result
}

// Dispatcher is the single entry point into the notification batch.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
	}
}

// OnContentCreated runs the notification batch for a newly created item.
// It never returns an error; the outcome is logged and returned.
func (d *Dispatcher) OnContentCreated(ctx context.Context, item *newsletter.ContentItem) *notify.Result {
	if item == nil {
		return nil
	}
	start := time.Now()
	d.logger.Info("Content created", "post_id", item.ID, "title", item.Title, "published", item.IsPublished)

	res := d.notifier.NotifyOnPublish(ctx, item)
	switch {
	case res == nil:
		d.logger.Info("Nothing to send", "post_id", item.ID)
	case !res.Success:
		d.logger.Error("Notification batch failed", "post_id", item.ID, "error", res.Error)
	default:
		d.logger.Info("Notification batch dispatched",
			"post_id", item.ID,
			"emails_sent", res.EmailsSent,
			"total_subscribers", res.TotalSubscribers,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return res
}
