// Package content reads blog posts from the site's content store.
package content

import (
	"context"
	"errors"

	"newsletter-notifier/pkg/newsletter"
)

// ErrNotFound is returned when no content item has the requested id.
var ErrNotFound = errors.New("content: item doesn't exist")

// Source reads one content item by id.
type Source interface {
	Get(ctx context.Context, id string) (*newsletter.ContentItem, error)
}
