package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"newsletter-notifier/pkg/newsletter"
)

// DefaultTeaser is used in notifications for posts without an excerpt.
const DefaultTeaser = "Check out our latest blog post!"

// recipientToken stands in for the subscriber token in a shared body until
// Deliver fills it in.
const recipientToken = "RECIPIENT_TOKEN"

// Config holds what the sender needs to address and link emails.
type Config struct {
	BaseURL  string // site root, for links in emails
	From     string // From header, e.g. "Agency <news@agency.example>"
	SiteName string
}

// Sender composes newsletter emails and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	cfg      Config
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger, cfg Config) *Sender {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Sender{
		provider: provider,
		logger:   logger,
		cfg:      cfg,
	}
}

// PostURL returns the public link for a blog post.
func (s *Sender) PostURL(id string) string {
	return fmt.Sprintf("%s/blog/%s", s.cfg.BaseURL, url.PathEscape(id))
}

// UnsubscribeURL returns the personal unsubscribe link for a subscriber token.
func (s *Sender) UnsubscribeURL(token string) string {
	return fmt.Sprintf("%s/unsubscribe?token=%s", s.cfg.BaseURL, url.QueryEscape(token))
}

// ComposePublishNotification renders the message announcing item. The
// message has no recipient; one message is shared by a whole batch and its
// unsubscribe link is personalised by Deliver.
func (s *Sender) ComposePublishNotification(item *newsletter.ContentItem) (Message, error) {
	teaser := strings.TrimSpace(item.Excerpt)
	if teaser == "" {
		teaser = DefaultTeaser
	}

	body, err := render("publish.html.tmpl", publishData{
		SiteName: s.cfg.SiteName,
		Title:    item.Title,
		Teaser:   teaser,
		Link:           s.PostURL(item.ID),
		BaseURL:        s.cfg.BaseURL,
		UnsubscribeURL: s.UnsubscribeURL(recipientToken),
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		From:    s.cfg.From,
		Subject: "New Blog Post: " + item.Title,
		HTML:    body,
	}, nil
}

// Deliver sends a composed message to one recipient, whose token goes into
// the unsubscribe link.
func (s *Sender) Deliver(ctx context.Context, msg Message, to, token string) error {
	msg.To = to
	msg.HTML = strings.ReplaceAll(msg.HTML, recipientToken, url.QueryEscape(token))
	start := time.Now()
	if err := s.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver to %s: %w", to, err)
	}
	s.logger.Info("Email delivered",
		"to", to,
		"subject", msg.Subject,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// SendWelcome sends a welcome email when a user first subscribes.
func (s *Sender) SendWelcome(ctx context.Context, sub *newsletter.Subscriber) error {
	body, err := render("welcome.html.tmpl", welcomeData{
		SiteName:       s.cfg.SiteName,
		Name:           sub.Name,
		BaseURL:        s.cfg.BaseURL,
		UnsubscribeURL: s.UnsubscribeURL(sub.ID),
	})
	if err != nil {
		return err
	}

	s.logger.Info("Sending welcome email", "to", sub.Email)

	return s.Deliver(ctx, Message{
		From:    s.cfg.From,
		Subject: fmt.Sprintf("Welcome to the %s newsletter", s.cfg.SiteName),
		HTML:    body,
	}, sub.Email, sub.ID)
}
