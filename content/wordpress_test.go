package content

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newWordPressServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/wp/v2/posts/42", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `{
			"id": 42,
			"slug": "hello-world",
			"status": "publish",
			"title": {"rendered": "Hello &#8211; World"},
			"excerpt": {"rendered": "<p>First  post\n on the <em>new</em> blog. <a class=\"more-link\" href=\"#\">Continue reading</a></p>\n"}
		}`
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test
	})
	mux.HandleFunc("/wp-json/wp/v2/posts/7", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": 7, "status": "draft", "title": {"rendered": "Draft"}, "excerpt": {"rendered": ""}}`)) //nolint:errcheck // test
	})
	mux.HandleFunc("/wp-json/wp/v2/posts/404", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"rest_post_invalid_id","message":"Invalid post ID.","data":{"status":404}}`)) //nolint:errcheck // test
	})
	mux.HandleFunc("/wp-json/wp/v2/posts/401", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") == "hello-world" {
			_, _ = w.Write([]byte(`[{"id": 42, "status": "publish", "title": {"rendered": "Hello"}, "excerpt": {"rendered": "<p>Hi</p>"}}]`)) //nolint:errcheck // test
			return
		}
		if r.URL.Query().Get("per_page") == "3" && r.URL.Query().Get("order") == "desc" {
			body := `[
				{"id": 43, "status": "publish", "date_gmt": "2026-03-02T09:30:00", "title": {"rendered": "Second"}, "excerpt": {"rendered": ""}},
				{"id": 42, "status": "publish", "date_gmt": "2026-03-01T08:00:00", "title": {"rendered": "Hello"}, "excerpt": {"rendered": "<p>Hi</p>"}}
			]`
			_, _ = w.Write([]byte(body)) //nolint:errcheck // test
			return
		}
		_, _ = w.Write([]byte(`[]`)) //nolint:errcheck // test
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWordPressGet(t *testing.T) {
	srv := newWordPressServer(t)
	src := NewWordPress(&http.Client{Timeout: 5 * time.Second}, srv.URL+"/", testLogger())

	tests := []struct {
		name          string
		id            string
		wantTitle     string
		wantExcerpt   string
		wantPublished bool
	}{
		{
			name:          "published by id",
			id:            "42",
			wantTitle:     "Hello – World",
			wantExcerpt:   "First post on the new blog.",
			wantPublished: true,
		},
		{
			name:      "draft",
			id:        "7",
			wantTitle: "Draft",
		},
		{
			name:          "by slug",
			id:            "hello-world",
			wantTitle:     "Hello",
			wantExcerpt:   "Hi",
			wantPublished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := src.Get(context.Background(), tt.id)
			if err != nil {
				t.Fatalf("Get(%q): %v", tt.id, err)
			}
			if item.ID != tt.id {
				t.Errorf("ID = %q, want %q", item.ID, tt.id)
			}
			if item.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", item.Title, tt.wantTitle)
			}
			if item.Excerpt != tt.wantExcerpt {
				t.Errorf("Excerpt = %q, want %q", item.Excerpt, tt.wantExcerpt)
			}
			if item.IsPublished != tt.wantPublished {
				t.Errorf("IsPublished = %v, want %v", item.IsPublished, tt.wantPublished)
			}
		})
	}
}

func TestWordPressGetNotFound(t *testing.T) {
	srv := newWordPressServer(t)
	src := NewWordPress(&http.Client{Timeout: 5 * time.Second}, srv.URL, testLogger())

	for _, id := range []string{"404", "no-such-slug", ""} {
		if _, err := src.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestWordPressGetClientError(t *testing.T) {
	srv := newWordPressServer(t)
	src := NewWordPress(&http.Client{Timeout: 5 * time.Second}, srv.URL, testLogger())

	_, err := src.Get(context.Background(), "401")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("401 should not be reported as not found")
	}
}

func TestWordPressLatest(t *testing.T) {
	srv := newWordPressServer(t)
	src := NewWordPress(&http.Client{Timeout: 5 * time.Second}, srv.URL, testLogger())

	entries, err := src.Latest(context.Background(), 3)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Latest() returned %d entries, want 2", len(entries))
	}
	first := entries[0]
	if first.Item.ID != "43" || first.Item.Title != "Second" || !first.Item.IsPublished {
		t.Errorf("first entry = %+v", first.Item)
	}
	if want := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC); !first.Published.Equal(want) {
		t.Errorf("Published = %v, want %v", first.Published, want)
	}
	if entries[1].Item.Excerpt != "Hi" {
		t.Errorf("second excerpt = %q, want Hi", entries[1].Item.Excerpt)
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>Plain</p>", "Plain"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"<p>a<br/>\n b</p>", "a b"},
		{"", ""},
		{`<p>Intro <span class="screen-reader-text">Read more</span></p>`, "Intro"},
	}
	for _, tt := range tests {
		if got := htmlToText(tt.in); got != tt.want {
			t.Errorf("htmlToText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
