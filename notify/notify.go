// Package notify broadcasts published content to active subscribers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"newsletter-notifier/email"
	"newsletter-notifier/pkg/newsletter"
)

// Store interface for subscriber queries and delivery bookkeeping.
type Store interface {
	ListActive(ctx context.Context) ([]*newsletter.Subscriber, error)
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

// Mailer composes and delivers notification emails.
type Mailer interface {
	ComposePublishNotification(item *newsletter.ContentItem) (email.Message, error)
	Deliver(ctx context.Context, msg email.Message, to, token string) error
}

// Outcome is the delivery result for one subscriber.
type Outcome struct {
	Email   string `json:"email"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// Result summarizes one notification batch.
type Result struct {
	Error            string    `json:"error,omitempty"`
	Outcomes         []Outcome `json:"outcomes,omitempty"`
	EmailsSent       int       `json:"emailsSent"`
	TotalSubscribers int       `json:"totalSubscribers"`
	Success          bool      `json:"success"`
}

// Notifier sends publish notifications.
type Notifier struct {
	store       Store
	mailer      Mailer
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// New creates a new notifier. concurrency bounds the number of sends in
// flight; zero or less means one goroutine per subscriber.
func New(store Store, mailer Mailer, logger *slog.Logger, concurrency int) *Notifier {
	return &Notifier{
		store:       store,
		mailer:      mailer,
		logger:      logger,
		now:         time.Now,
		concurrency: concurrency,
	}
}

// NotifyOnPublish emails item to every active subscriber.
//
// It returns nil when there is nothing to do: the item is missing or
// unpublished, or nobody is subscribed. A failed individual send is recorded
// in Outcomes and never fails the batch; only the subscriber query or
// message composition can.
func (n *Notifier) NotifyOnPublish(ctx context.Context, item *newsletter.ContentItem) *Result {
	if item == nil || !item.IsPublished {
		if item != nil {
			n.logger.Info("Skipping unpublished content", "post_id", item.ID)
		}
		return nil
	}

	subs, err := n.store.ListActive(ctx)
	if err != nil {
		n.logger.Error("Failed to list active subscribers", "post_id", item.ID, "error", err)
		return &Result{Error: fmt.Sprintf("list active subscribers: %v", err)}
	}
	if len(subs) == 0 {
		n.logger.Info("No active subscribers", "post_id", item.ID)
		return nil
	}

	msg, err := n.mailer.ComposePublishNotification(item)
	if err != nil {
		n.logger.Error("Failed to compose notification", "post_id", item.ID, "error", err)
		return &Result{Error: fmt.Sprintf("compose notification: %v", err)}
	}

	start := time.Now()
	n.logger.Info("Sending notifications",
		"post_id", item.ID,
		"title", item.Title,
		"subscribers", len(subs))

	p := pool.NewWithResults[Outcome]()
	if n.concurrency > 0 {
		p = p.WithMaxGoroutines(n.concurrency)
	}
	for _, sub := range subs {
		p.Go(func() Outcome {
			return n.notifyOne(ctx, msg, sub)
		})
	}
	outcomes := p.Wait()

	res := &Result{
		Success:          true,
		TotalSubscribers: len(subs),
		Outcomes:         outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			res.EmailsSent++
		}
	}

	n.logger.Info("Notification batch completed",
		"post_id", item.ID,
		"emails_sent", res.EmailsSent,
		"total_subscribers", res.TotalSubscribers,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

func (n *Notifier) notifyOne(ctx context.Context, msg email.Message, sub *newsletter.Subscriber) Outcome {
	if err := n.mailer.Deliver(ctx, msg, sub.Email, sub.ID); err != nil {
		n.logger.Warn("Notification send failed", "email", sub.Email, "error", err)
		return Outcome{Email: sub.Email, Error: err.Error()}
	}
	if err := n.store.MarkNotified(ctx, sub.ID, n.now()); err != nil {
		n.logger.Warn("Failed to record notification", "email", sub.Email, "error", err)
		return Outcome{Email: sub.Email, Error: fmt.Sprintf("mark notified: %v", err)}
	}
	return Outcome{Email: sub.Email, Success: true}
}
