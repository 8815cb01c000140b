package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"newsletter-notifier/pkg/newsletter"
)

func newLocalStore(t *testing.T) *BucketStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBucket(nil, "", t.TempDir(), []byte("test-salt"), logger)
}

func newSubscriber(email string) *newsletter.Subscriber {
	return &newsletter.Subscriber{
		Email:       email,
		IsActive:    true,
		Preferences: newsletter.DefaultPreferences(),
	}
}

func TestTokenFromEmailNormalizes(t *testing.T) {
	s := newLocalStore(t)
	a := s.TokenFromEmail("User@Example.com")
	b := s.TokenFromEmail("  user@example.com ")
	if a != b {
		t.Errorf("TokenFromEmail() not normalized: %s vs %s", a, b)
	}
	if !validToken(a) {
		t.Errorf("TokenFromEmail() = %q, want 64 hex characters", a)
	}

	other := NewBucket(nil, "", "", []byte("other-salt"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if other.TokenFromEmail("user@example.com") == a {
		t.Error("tokens should depend on the salt")
	}
}

func TestSubscriberKey(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{
			name:  "valid token",
			token: strings.Repeat("ab", 32),
			want:  "sub-" + strings.Repeat("ab", 32) + ".json",
		},
		{
			name:  "too short",
			token: "abc",
			want:  "",
		},
		{
			name:  "uppercase hex",
			token: strings.Repeat("AB", 32),
			want:  "",
		},
		{
			name:  "path traversal",
			token: "../" + strings.Repeat("a", 61),
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubscriberKey(tt.token); got != tt.want {
				t.Errorf("SubscriberKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	sub := newSubscriber("Reader@Example.com")
	sub.Name = "Reader"
	if err := s.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sub.ID == "" {
		t.Fatal("Create() should assign an id")
	}
	if !sub.SubscriptionDate.Equal(fixed) {
		t.Errorf("SubscriptionDate = %v, want %v", sub.SubscriptionDate, fixed)
	}

	got, err := s.FindByEmail(ctx, "reader@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if got.Email != "reader@example.com" || got.Name != "Reader" || !got.IsActive {
		t.Errorf("FindByEmail() = %+v", got)
	}
	if got.LastNotified != nil {
		t.Error("new subscriber should have no lastNotified")
	}

	if err := s.Create(ctx, newSubscriber("reader@example.com")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create() error = %v, want ErrAlreadyExists", err)
	}

	if _, err := s.FindByEmail(ctx, "nobody@example.com"); !IsNotFound(err) {
		t.Errorf("FindByEmail() missing error = %v, want not found", err)
	}

	byToken, err := s.LoadByToken(ctx, sub.ID)
	if err != nil || byToken.Email != sub.Email {
		t.Errorf("LoadByToken() = %+v, %v", byToken, err)
	}
	if _, err := s.LoadByToken(ctx, "bogus"); !IsNotFound(err) {
		t.Errorf("LoadByToken(bogus) error = %v, want not found", err)
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if err := s.Create(ctx, newSubscriber(email)); err != nil {
			t.Fatalf("Create(%s) error = %v", email, err)
		}
	}
	b, _ := s.FindByEmail(ctx, "b@x.com")
	c, _ := s.FindByEmail(ctx, "c@x.com")

	if err := s.SetActive(ctx, b.ID, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if err := s.MarkNotified(ctx, c.ID, now.AddDate(-1, 0, 0)); err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListActive() returned %d subscribers, want 2", len(active))
	}
	for _, sub := range active {
		if sub.Email == "b@x.com" {
			t.Error("ListActive() returned an inactive subscriber")
		}
	}

	stale, err := s.ListNotifiedBefore(ctx, now.AddDate(0, -6, 0))
	if err != nil {
		t.Fatalf("ListNotifiedBefore() error = %v", err)
	}
	if len(stale) != 1 || stale[0].Email != "c@x.com" {
		t.Errorf("ListNotifiedBefore() = %v, want only c@x.com (never-notified excluded)", stale)
	}

	if err := s.MarkNotified(ctx, strings.Repeat("0", 64), now); !IsNotFound(err) {
		t.Errorf("MarkNotified(unknown) error = %v, want not found", err)
	}
}

func TestConcurrentUpdatesKeepBothFields(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := range 20 {
		email := fmt.Sprintf("race%d@x.com", i)
		if err := s.Create(ctx, newSubscriber(email)); err != nil {
			t.Fatalf("Create(%s) error = %v", email, err)
		}
		sub, err := s.FindByEmail(ctx, email)
		if err != nil {
			t.Fatalf("FindByEmail(%s) error = %v", email, err)
		}

		var wg sync.WaitGroup
		wg.Go(func() {
			if err := s.MarkNotified(ctx, sub.ID, now); err != nil {
				t.Errorf("MarkNotified() error = %v", err)
			}
		})
		wg.Go(func() {
			if err := s.SetActive(ctx, sub.ID, false); err != nil {
				t.Errorf("SetActive() error = %v", err)
			}
		})
		wg.Wait()

		got, err := s.FindByEmail(ctx, email)
		if err != nil {
			t.Fatalf("FindByEmail(%s) error = %v", email, err)
		}
		if got.IsActive {
			t.Errorf("%s: notification write resurrected isActive", email)
		}
		if got.LastNotified == nil || !got.LastNotified.Equal(now) {
			t.Errorf("%s: LastNotified = %v, want %v", email, got.LastNotified, now)
		}
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)

	if err := s.Create(ctx, newSubscriber("gone@x.com")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Delete(ctx, "gone@x.com"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.FindByEmail(ctx, "gone@x.com"); !IsNotFound(err) {
		t.Errorf("FindByEmail() after delete error = %v, want not found", err)
	}
	if err := s.Delete(ctx, "gone@x.com"); !IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)

	if err := os.WriteFile(filepath.Join(s.localPath, "notes.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.localPath, "sub-broken.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newSubscriber("ok@x.com")); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("ListActive() returned %d subscribers, want 1", len(active))
	}
}

func TestListMissingDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewBucket(nil, "", filepath.Join(t.TempDir(), "missing"), []byte("salt"), logger)
	if _, err := s.ListActive(context.Background()); err == nil {
		t.Error("ListActive() on a missing directory should fail")
	}
}
