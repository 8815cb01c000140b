package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"

	"newsletter-notifier/pkg/newsletter"
)

// MarkerSink records a trigger marker so that it re-enters the creation path.
type MarkerSink interface {
	Put(ctx context.Context, m *newsletter.TriggerMarker) error
}

// markerDoc is the Firestore shape of a trigger marker. isPublished is always
// true so the document also reads as a published post.
type markerDoc struct {
	TriggeredAt time.Time `firestore:"triggeredAt"`
	PostID      string    `firestore:"postId"`
	Title       string    `firestore:"title"`
	Excerpt     string    `firestore:"excerpt"`
	TriggeredBy string    `firestore:"triggeredBy"`
	IsPublished bool      `firestore:"isPublished"`
}

func decodeMarker(snap *firestore.DocumentSnapshot) (*newsletter.TriggerMarker, error) {
	var doc markerDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode marker %s: %w", snap.Ref.ID, err)
	}
	return &newsletter.TriggerMarker{
		ID:          snap.Ref.ID,
		PostID:      doc.PostID,
		Title:       doc.Title,
		Excerpt:     doc.Excerpt,
		TriggeredBy: doc.TriggeredBy,
		TriggeredAt: doc.TriggeredAt,
	}, nil
}

// FirestoreMarkers writes markers to a Firestore collection watched by Watcher.
type FirestoreMarkers struct {
	client     *firestore.Client
	logger     *slog.Logger
	collection string
}

// NewFirestoreMarkers creates a Firestore marker sink.
func NewFirestoreMarkers(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreMarkers {
	return &FirestoreMarkers{
		client:     client,
		logger:     logger,
		collection: collection,
	}
}

// Put creates the marker document. The trigger time is assigned by the server.
func (f *FirestoreMarkers) Put(ctx context.Context, m *newsletter.TriggerMarker) error {
	_, err := f.client.Collection(f.collection).Doc(m.ID).Create(ctx, map[string]any{
		"postId":      m.PostID,
		"title":       m.Title,
		"excerpt":     m.Excerpt,
		"triggeredBy": m.TriggeredBy,
		"triggeredAt": firestore.ServerTimestamp,
		"isPublished": true,
	})
	if err != nil {
		return fmt.Errorf("create marker %s: %w", m.ID, err)
	}
	f.logger.Info("Trigger marker written", "marker_id", m.ID, "post_id", m.PostID)
	return nil
}

// LoopbackSink stands in for the creation trigger when there is no Firestore:
// each marker is handed to the dispatcher in the background.
type LoopbackSink struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewLoopbackSink creates a sink that dispatches markers in-process.
func NewLoopbackSink(dispatcher *Dispatcher, logger *slog.Logger) *LoopbackSink {
	return &LoopbackSink{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Put schedules dispatch of the marker and returns immediately.
func (l *LoopbackSink) Put(ctx context.Context, m *newsletter.TriggerMarker) error {
	ctx = context.WithoutCancel(ctx)
	l.logger.Info("Trigger marker queued", "marker_id", m.ID, "post_id", m.PostID)
	l.wg.Go(func() {
		l.dispatcher.OnContentCreated(ctx, m.ContentItem())
	})
	return nil
}

// Wait blocks until every queued marker has been dispatched.
func (l *LoopbackSink) Wait() {
	l.wg.Wait()
}
