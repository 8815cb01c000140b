package content

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"newsletter-notifier/pkg/newsletter"
)

// postDoc is the Firestore shape of a blog post. Other fields are ignored.
type postDoc struct {
	Title       string `firestore:"title"`
	Excerpt     string `firestore:"excerpt"`
	IsPublished bool   `firestore:"isPublished"`
}

// DecodeSnapshot converts a blog post document into a content item.
func DecodeSnapshot(snap *firestore.DocumentSnapshot) (*newsletter.ContentItem, error) {
	var doc postDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", snap.Ref.ID, err)
	}
	return &newsletter.ContentItem{
		ID:          snap.Ref.ID,
		Title:       doc.Title,
		Excerpt:     doc.Excerpt,
		IsPublished: doc.IsPublished,
	}, nil
}

// FirestoreSource reads blog posts from a Firestore collection.
type FirestoreSource struct {
	client     *firestore.Client
	logger     *slog.Logger
	collection string
}

// NewFirestore creates a Firestore content source.
func NewFirestore(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreSource {
	return &FirestoreSource{
		client:     client,
		logger:     logger,
		collection: collection,
	}
}

// Get loads the post document with the given id.
func (s *FirestoreSource) Get(ctx context.Context, id string) (*newsletter.ContentItem, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	item, err := DecodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Post loaded", "post_id", id, "published", item.IsPublished)
	return item, nil
}
