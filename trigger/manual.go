package trigger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsletter-notifier/auth"
	"newsletter-notifier/content"
	"newsletter-notifier/pkg/newsletter"
)

// Ack acknowledges a manual trigger. Delivery results are only visible in logs.
type Ack struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Manual lets an operator re-announce an existing post.
type Manual struct {
	content content.Source
	sink    MarkerSink
	logger  *slog.Logger
	now     func() time.Time
}

// NewManual creates a manual trigger.
func NewManual(src content.Source, sink MarkerSink, logger *slog.Logger) *Manual {
	return &Manual{
		content: src,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
}

// Trigger writes a marker for postID. It does not send anything itself;
// the marker re-enters the creation path through the sink.
//
// All errors are *CallableError.
func (m *Manual) Trigger(ctx context.Context, caller *auth.Caller, postID string) (*Ack, error) {
	if caller == nil {
		return nil, errUnauthenticated("User must be authenticated")
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, errInvalidArgument("Post ID is required")
	}

	item, err := m.content.Get(ctx, postID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return nil, errNotFound("Post not found")
		}
		m.logger.Error("Failed to load post", "post_id", postID, "error", err)
		return nil, errInternal("Failed to trigger notification")
	}

	marker := &newsletter.TriggerMarker{
		ID:          uuid.NewString(),
		PostID:      item.ID,
		Title:       item.Title,
		Excerpt:     item.Excerpt,
		TriggeredBy: caller.UID,
		TriggeredAt: m.now().UTC(),
	}
	if err := m.sink.Put(ctx, marker); err != nil {
		m.logger.Error("Failed to write trigger marker", "post_id", postID, "error", err)
		return nil, errInternal("Failed to trigger notification")
	}

	m.logger.Info("Manual notification triggered", "post_id", postID, "marker_id", marker.ID, "triggered_by", caller.UID)
	return &Ack{Success: true, Message: "Notification triggered successfully"}, nil
}
