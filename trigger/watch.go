package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"newsletter-notifier/content"
)

// Watcher listens for new blog posts and trigger markers in Firestore and
// dispatches each one.
type Watcher struct {
	client     *firestore.Client
	dispatcher *Dispatcher
	logger     *slog.Logger
	posts      string
	markers    string
}

// NewWatcher creates a watcher over the posts and markers collections.
func NewWatcher(client *firestore.Client, dispatcher *Dispatcher, posts, markers string, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
		posts:      posts,
		markers:    markers,
	}
}

// Run blocks until ctx is cancelled or a listener fails.
func (w *Watcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.watchPosts(gctx) })
	g.Go(func() error { return w.watchMarkers(gctx) })
	return g.Wait()
}

// watchPosts dispatches posts added after the listener started. The first
// snapshot lists every existing post and is skipped.
func (w *Watcher) watchPosts(ctx context.Context) error {
	it := w.client.Collection(w.posts).Snapshots(ctx)
	defer it.Stop()

	first := true
	for {
		snap, err := it.Next()
		if err != nil {
			return w.listenerDone(ctx, w.posts, err)
		}
		if first {
			first = false
			w.logger.Info("Watching for new posts", "collection", w.posts, "existing", snap.Size)
			continue
		}
		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			item, err := content.DecodeSnapshot(change.Doc)
			if err != nil {
				w.logger.Warn("Skipping undecodable post", "post_id", change.Doc.Ref.ID, "error", err)
				continue
			}
			w.dispatcher.OnContentCreated(ctx, item)
		}
	}
}

// watchMarkers dispatches every marker, including ones left from before a
// restart, and deletes it afterwards.
func (w *Watcher) watchMarkers(ctx context.Context) error {
	it := w.client.Collection(w.markers).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			return w.listenerDone(ctx, w.markers, err)
		}
		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			marker, err := decodeMarker(change.Doc)
			if err != nil {
				w.logger.Warn("Skipping undecodable marker", "marker_id", change.Doc.Ref.ID, "error", err)
				continue
			}
			w.dispatcher.OnContentCreated(ctx, marker.ContentItem())
			if _, err := change.Doc.Ref.Delete(ctx); err != nil {
				w.logger.Warn("Failed to delete trigger marker", "marker_id", marker.ID, "error", err)
			}
		}
	}
}

func (w *Watcher) listenerDone(ctx context.Context, collection string, err error) error {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
		w.logger.Info("Listener stopped", "collection", collection)
		return nil
	}
	return fmt.Errorf("listen %s: %w", collection, err)
}
