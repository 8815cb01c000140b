// Package poll watches a WordPress site for newly published posts and feeds
// them into the notification pipeline.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"newsletter-notifier/content"
	"newsletter-notifier/notify"
	"newsletter-notifier/pkg/newsletter"
)

const (
	fetchLimit        = 10
	maxPostsPerCheck  = 5 // Safety limit: max posts announced in a single check
	idleInterval      = 6 * time.Hour
	unknownInterval   = time.Hour
	minimumRetryDelay = 5 * time.Minute
)

// Lister lists the newest posts of a site.
type Lister interface {
	Latest(ctx context.Context, limit int) ([]content.Entry, error)
}

// Dispatcher receives newly published posts.
type Dispatcher interface {
	OnContentCreated(ctx context.Context, item *newsletter.ContentItem) *notify.Result
}

// Monitor handles post polling logic. The cursor is the newest post already
// seen or announced and only moves forward. State is kept in memory: after a
// restart the first check only records the newest post.
type Monitor struct {
	lastPostTime time.Time
	lastPolledAt time.Time
	lastSeenTime time.Time
	lister       Lister
	dispatcher   Dispatcher
	logger       *slog.Logger
	now          func() time.Time
	lastPostID   string
	mu           sync.Mutex
}

// New creates a new poll monitor.
func New(lister Lister, dispatcher Dispatcher, logger *slog.Logger) *Monitor {
	return &Monitor{
		lister:     lister,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Run checks for new posts until ctx is cancelled, waiting between checks
// according to how recently the site last published.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Starting post monitor")
	for {
		wait := minimumRetryDelay
		if err := m.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("Post check failed", "error", err)
		} else {
			wait = m.NextInterval()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Post monitor stopped")
			return nil
		case <-timer.C:
		}
	}
}

// NextInterval reports how long to wait before the next check.
func (m *Monitor) NextInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return calculateInterval(m.lastPostTime, m.lastPolledAt, m.now())
}

// Check fetches the newest posts once and dispatches any published since the
// previous check, oldest first.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entries, err := m.lister.Latest(ctx, fetchLimit)
	if err != nil {
		return fmt.Errorf("fetch latest posts: %w", err)
	}
	m.lastPolledAt = now

	if len(entries) == 0 {
		return errors.New("no posts found")
	}

	latest := entries[0]
	if !latest.Published.IsZero() {
		m.lastPostTime = latest.Published
	}

	m.logger.Info("Posts fetched for comparison",
		"total_posts", len(entries),
		"latest_post_id", latest.Item.ID,
		"last_seen_post_id", m.lastPostID,
		"last_post_time", m.lastPostTime.Format(time.RFC3339))

	if m.lastPostID == "" {
		// First check - just record the latest post
		m.lastSeenTime = latest.Published
		m.lastPostID = latest.Item.ID
		m.logger.Info("Initial post ID recorded", "post_id", latest.Item.ID, "title", latest.Item.Title)
		return nil
	}

	// Only posts newer than the cursor count. An unpublished or deleted
	// latest post leaves older posts behind the cursor, never ahead of it.
	var newPosts []content.Entry
	for _, e := range entries {
		if m.newer(e) {
			newPosts = append(newPosts, e)
		}
	}
	if len(newPosts) == 0 {
		if latest.Item.ID != m.lastPostID {
			m.logger.Info("Last seen post no longer listed, nothing newer",
				"last_seen_post_id", m.lastPostID,
				"latest_post_id", latest.Item.ID)
		}
		return nil
	}

	if len(newPosts) > maxPostsPerCheck {
		m.logger.Warn("Too many new posts, limiting to most recent",
			"total_new", len(newPosts),
			"sending", maxPostsPerCheck)
		newPosts = newPosts[:maxPostsPerCheck]
	}

	for i := len(newPosts) - 1; i >= 0; i-- {
		item := newPosts[i].Item
		m.logger.Info("New post detected", "post_id", item.ID, "title", item.Title)
		m.dispatcher.OnContentCreated(ctx, item)
	}

	m.lastSeenTime = newPosts[0].Published
	m.lastPostID = newPosts[0].Item.ID
	return nil
}

// newer reports whether e was published after the cursor. Posts sharing the
// cursor's timestamp are ordered by their numeric WordPress id.
func (m *Monitor) newer(e content.Entry) bool {
	if !e.Published.Equal(m.lastSeenTime) {
		return e.Published.After(m.lastSeenTime)
	}
	id, err := strconv.ParseInt(e.Item.ID, 10, 64)
	if err != nil {
		return false
	}
	last, err := strconv.ParseInt(m.lastPostID, 10, 64)
	if err != nil {
		return false
	}
	return id > last
}

// calculateInterval determines how often to poll based on publishing activity.
func calculateInterval(lastPostTime, lastPolledAt, now time.Time) time.Duration {
	// If never polled, poll now
	if lastPolledAt.IsZero() {
		return 0
	}
	if lastPostTime.IsZero() {
		return unknownInterval
	}

	timeSinceLastPost := now.Sub(lastPostTime)

	var interval time.Duration
	switch {
	case timeSinceLastPost < 30*time.Minute:
		interval = 5 * time.Minute
	case timeSinceLastPost < 2*time.Hour:
		interval = 10 * time.Minute
	case timeSinceLastPost < 6*time.Hour:
		interval = 20 * time.Minute
	case timeSinceLastPost < 24*time.Hour:
		interval = 1 * time.Hour
	default:
		interval = idleInterval
	}

	// The next check is due relative to the previous one.
	if remaining := interval - now.Sub(lastPolledAt); remaining > 0 {
		return remaining
	}
	return 0
}
