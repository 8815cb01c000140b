package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"newsletter-notifier/pkg/newsletter"
)

// wpPost is the subset of a WordPress REST API post we read.
type wpPost struct {
	Title   wpRendered `json:"title"`
	Excerpt wpRendered `json:"excerpt"`
	Status  string     `json:"status"`
	Slug    string     `json:"slug"`
	DateGMT string     `json:"date_gmt"`
	ID      int64      `json:"id"`
}

// wpDateLayout is the format of date_gmt, which carries no zone suffix.
const wpDateLayout = "2006-01-02T15:04:05"

// Entry is a post together with its publication time.
type Entry struct {
	Published time.Time
	Item      *newsletter.ContentItem
}

type wpRendered struct {
	Rendered string `json:"rendered"`
}

// WordPressSource reads posts from a WordPress site's REST API.
type WordPressSource struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewWordPress creates a WordPress content source for the site at baseURL.
func NewWordPress(client *http.Client, baseURL string, logger *slog.Logger) *WordPressSource {
	return &WordPressSource{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Get fetches a post by numeric id, or by slug for anything else.
func (s *WordPressSource) Get(ctx context.Context, id string) (*newsletter.ContentItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	var post *wpPost
	var err error
	if _, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
		post, err = s.fetchByID(ctx, id)
	} else {
		post, err = s.fetchBySlug(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	return post.item(id), nil
}

// Latest returns up to limit published posts, newest first. Items are keyed
// by numeric post id.
func (s *WordPressSource) Latest(ctx context.Context, limit int) ([]Entry, error) {
	var posts []wpPost
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/posts?per_page=%d&orderby=date&order=desc&_fields=id,slug,status,date_gmt,title,excerpt",
		s.baseURL, limit)
	if err := s.getJSON(ctx, endpoint, &posts); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(posts))
	for i := range posts {
		post := &posts[i]
		published, err := time.ParseInLocation(wpDateLayout, post.DateGMT, time.UTC)
		if err != nil {
			s.logger.Warn("Unparseable post date", "post_id", post.ID, "date_gmt", post.DateGMT, "error", err)
		}
		entries = append(entries, Entry{
			Published: published,
			Item:      post.item(strconv.FormatInt(post.ID, 10)),
		})
	}
	return entries, nil
}

func (p *wpPost) item(id string) *newsletter.ContentItem {
	return &newsletter.ContentItem{
		ID:          id,
		Title:       htmlToText(p.Title.Rendered),
		Excerpt:     htmlToText(p.Excerpt.Rendered),
		IsPublished: p.Status == "publish",
	}
}

func (s *WordPressSource) fetchByID(ctx context.Context, id string) (*wpPost, error) {
	var post wpPost
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/posts/%s", s.baseURL, url.PathEscape(id))
	if err := s.getJSON(ctx, endpoint, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *WordPressSource) fetchBySlug(ctx context.Context, slug string) (*wpPost, error) {
	var posts []wpPost
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/posts?slug=%s", s.baseURL, url.QueryEscape(slug))
	if err := s.getJSON(ctx, endpoint, &posts); err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return &posts[0], nil
}

// getJSON fetches endpoint into v. A 404 (WordPress answers rest_post_invalid_id
// with one) maps to ErrNotFound; 5xx and transport errors are retried.
func (s *WordPressSource) getJSON(ctx context.Context, endpoint string, v any) error {
	var missing bool
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Debug("HTTP request completed",
				"url", endpoint,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			switch {
			case resp.StatusCode == http.StatusNotFound:
				missing = true
				return retry.Unrecoverable(ErrNotFound)
			case resp.StatusCode >= 500:
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}

			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying WordPress fetch after error", "attempt", n, "error", err)
		}),
	)
	if missing {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return nil
}

// htmlToText reduces rendered WordPress HTML to plain text with entities decoded
// and whitespace collapsed.
func htmlToText(rendered string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return strings.Join(strings.Fields(rendered), " ")
	}
	// Excerpts end with a "Continue reading" link on many themes.
	doc.Find("a.more-link, .screen-reader-text").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
