package email

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"newsletter-notifier/pkg/newsletter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSender(p Provider) *Sender {
	return New(p, testLogger(), Config{
		BaseURL:  "https://agency.example/",
		From:     "Agency <news@agency.example>",
		SiteName: "Agency",
	})
}

func TestComposePublishNotification(t *testing.T) {
	tests := []struct {
		name       string
		item       newsletter.ContentItem
		wantTeaser string
	}{
		{
			name:       "excerpt used as teaser",
			item:       newsletter.ContentItem{ID: "p1", Title: "Hello", Excerpt: "A short intro", IsPublished: true},
			wantTeaser: "A short intro",
		},
		{
			name:       "empty excerpt falls back",
			item:       newsletter.ContentItem{ID: "p1", Title: "Hello", IsPublished: true},
			wantTeaser: DefaultTeaser,
		},
		{
			name:       "whitespace excerpt falls back",
			item:       newsletter.ContentItem{ID: "p1", Title: "Hello", Excerpt: "  \n ", IsPublished: true},
			wantTeaser: DefaultTeaser,
		},
	}

	s := testSender(NewMockProvider(testLogger()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := s.ComposePublishNotification(&tt.item)
			if err != nil {
				t.Fatalf("ComposePublishNotification: %v", err)
			}
			if msg.Subject != "New Blog Post: Hello" {
				t.Errorf("Subject = %q", msg.Subject)
			}
			if msg.To != "" {
				t.Errorf("composed message should have no recipient, got %q", msg.To)
			}
			if !strings.Contains(msg.HTML, tt.wantTeaser) {
				t.Errorf("body missing teaser %q", tt.wantTeaser)
			}
			if !strings.Contains(msg.HTML, `href="https://agency.example/blog/p1"`) {
				t.Errorf("body missing post link:\n%s", msg.HTML)
			}
		})
	}
}

func TestComposePublishNotificationEscapesTitle(t *testing.T) {
	s := testSender(NewMockProvider(testLogger()))
	msg, err := s.ComposePublishNotification(&newsletter.ContentItem{
		ID:      "p2",
		Title:   `<script>alert("x")</script>`,
		Excerpt: "Tom & Jerry",
	})
	if err != nil {
		t.Fatalf("ComposePublishNotification: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Error("title should be HTML-escaped in body")
	}
	if !strings.Contains(msg.HTML, "Tom &amp; Jerry") {
		t.Error("excerpt should be HTML-escaped in body")
	}
}

func TestPostURLEscapesID(t *testing.T) {
	s := testSender(nil)
	if got, want := s.PostURL("a b/c"), "https://agency.example/blog/a%20b%2Fc"; got != want {
		t.Errorf("PostURL = %q, want %q", got, want)
	}
}

func TestDeliver(t *testing.T) {
	mock := NewMockProvider(testLogger())
	s := testSender(mock)

	msg, err := s.ComposePublishNotification(&newsletter.ContentItem{ID: "p1", Title: "Hello"})
	if err != nil {
		t.Fatal(err)
	}
	token := strings.Repeat("cd", 32)
	if err := s.Deliver(context.Background(), msg, "a@x.com", token); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].To != "a@x.com" || sent[0].From != "Agency <news@agency.example>" {
		t.Errorf("unexpected envelope: %+v", sent[0])
	}
	if !strings.Contains(sent[0].HTML, `href="https://agency.example/unsubscribe?token=`+token+`"`) {
		t.Errorf("body missing personal unsubscribe link:\n%s", sent[0].HTML)
	}
	if strings.Contains(msg.HTML, token) {
		t.Error("Deliver should not change the shared message body")
	}

	boom := errors.New("boom")
	mock.FailFor("b@x.com", boom)
	if err := s.Deliver(context.Background(), msg, "b@x.com", token); !errors.Is(err, boom) {
		t.Errorf("Deliver error = %v, want wrapped boom", err)
	}
}

func TestSendWelcome(t *testing.T) {
	mock := NewMockProvider(testLogger())
	s := testSender(mock)
	token := strings.Repeat("ab", 32)

	err := s.SendWelcome(context.Background(), &newsletter.Subscriber{
		ID:    token,
		Email: "a@x.com",
		Name:  "Ada",
	})
	if err != nil {
		t.Fatalf("SendWelcome: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].Subject != "Welcome to the Agency newsletter" {
		t.Errorf("Subject = %q", sent[0].Subject)
	}
	if !strings.Contains(sent[0].HTML, "Hi Ada,") {
		t.Error("welcome body should greet by name")
	}
	if !strings.Contains(sent[0].HTML, "https://agency.example/unsubscribe?token="+token) {
		t.Error("welcome body should carry the unsubscribe link")
	}
}
