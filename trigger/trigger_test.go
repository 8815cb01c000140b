package trigger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"newsletter-notifier/auth"
	"newsletter-notifier/content"
	"newsletter-notifier/notify"
	"newsletter-notifier/pkg/newsletter"
)

type stubSource struct {
	items map[string]*newsletter.ContentItem
	err   error
}

func (s *stubSource) Get(_ context.Context, id string) (*newsletter.ContentItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, content.ErrNotFound
	}
	return item, nil
}

type recordingSink struct {
	mu      sync.Mutex
	markers []*newsletter.TriggerMarker
	err     error
}

func (r *recordingSink) Put(_ context.Context, m *newsletter.TriggerMarker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.markers = append(r.markers, m)
	return nil
}

type stubNotifier struct {
	mu    sync.Mutex
	items []*newsletter.ContentItem
}

func (s *stubNotifier) NotifyOnPublish(_ context.Context, item *newsletter.ContentItem) *notify.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return &notify.Result{Success: true, EmailsSent: 1, TotalSubscribers: 1}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSource() *stubSource {
	return &stubSource{items: map[string]*newsletter.ContentItem{
		"p1": {ID: "p1", Title: "Hello", Excerpt: "Intro", IsPublished: true},
		"p2": {ID: "p2", Title: "Draft"},
	}}
}

func TestManualTriggerErrors(t *testing.T) {
	admin := &auth.Caller{UID: "uid-1"}

	tests := []struct {
		name     string
		caller   *auth.Caller
		postID   string
		source   *stubSource
		sinkErr  error
		wantCode string
	}{
		{name: "unauthenticated", caller: nil, postID: "p1", source: testSource(), wantCode: CodeUnauthenticated},
		{name: "missing post id", caller: admin, postID: "  ", source: testSource(), wantCode: CodeInvalidArgument},
		{name: "unknown post", caller: admin, postID: "nope", source: testSource(), wantCode: CodeNotFound},
		{name: "content store down", caller: admin, postID: "p1", source: &stubSource{err: errors.New("unavailable")}, wantCode: CodeInternal},
		{name: "marker write fails", caller: admin, postID: "p1", source: testSource(), sinkErr: errors.New("quota"), wantCode: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{err: tt.sinkErr}
			m := NewManual(tt.source, sink, testLogger())

			ack, err := m.Trigger(context.Background(), tt.caller, tt.postID)
			if ack != nil {
				t.Errorf("Ack = %+v, want nil", ack)
			}
			var ce *CallableError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *CallableError", err)
			}
			if ce.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", ce.Code, tt.wantCode)
			}
			if len(sink.markers) != 0 {
				t.Errorf("%d markers written, want 0", len(sink.markers))
			}
		})
	}
}

func TestManualTriggerWritesMarker(t *testing.T) {
	sink := &recordingSink{}
	m := NewManual(testSource(), sink, testLogger())
	fixed := time.Date(2025, 5, 4, 3, 2, 1, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	ack, err := m.Trigger(context.Background(), &auth.Caller{UID: "uid-1"}, " p2 ")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !ack.Success || ack.Message == "" {
		t.Errorf("Ack = %+v", ack)
	}

	if len(sink.markers) != 1 {
		t.Fatalf("%d markers written, want 1", len(sink.markers))
	}
	mk := sink.markers[0]
	if mk.ID == "" || mk.PostID != "p2" || mk.Title != "Draft" || mk.TriggeredBy != "uid-1" || !mk.TriggeredAt.Equal(fixed) {
		t.Errorf("marker = %+v", mk)
	}
	// A marker always announces a published item, even for a draft.
	if item := mk.ContentItem(); !item.IsPublished || item.ID != "p2" {
		t.Errorf("ContentItem() = %+v", item)
	}
}

func TestManualTriggerDoesNotDispatchDirectly(t *testing.T) {
	n := &stubNotifier{}
	_ = NewDispatcher(n, testLogger())
	m := NewManual(testSource(), &recordingSink{}, testLogger())

	if _, err := m.Trigger(context.Background(), &auth.Caller{UID: "uid-1"}, "p1"); err != nil {
		t.Fatal(err)
	}
	if len(n.items) != 0 {
		t.Error("manual trigger must only write a marker")
	}
}

func TestLoopbackSinkDispatches(t *testing.T) {
	n := &stubNotifier{}
	sink := NewLoopbackSink(NewDispatcher(n, testLogger()), testLogger())
	m := NewManual(testSource(), sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := m.Trigger(ctx, &auth.Caller{UID: "uid-1"}, "p1"); err != nil {
		t.Fatal(err)
	}
	// Dispatch outlives the request.
	cancel()
	sink.Wait()

	if len(n.items) != 1 {
		t.Fatalf("dispatched %d items, want 1", len(n.items))
	}
	if got := n.items[0]; got.ID != "p1" || got.Title != "Hello" || got.Excerpt != "Intro" || !got.IsPublished {
		t.Errorf("dispatched item = %+v", got)
	}
}

func TestDispatcherOnContentCreated(t *testing.T) {
	n := &stubNotifier{}
	d := NewDispatcher(n, testLogger())

	if res := d.OnContentCreated(context.Background(), nil); res != nil {
		t.Errorf("nil item Result = %+v, want nil", res)
	}
	res := d.OnContentCreated(context.Background(), &newsletter.ContentItem{ID: "p1", IsPublished: true})
	if res == nil || res.EmailsSent != 1 {
		t.Errorf("Result = %+v", res)
	}
	if len(n.items) != 1 {
		t.Errorf("notifier called %d times, want 1", len(n.items))
	}
}

func TestCallableErrorMapping(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus string
		wantHTTP   int
	}{
		{CodeUnauthenticated, "UNAUTHENTICATED", http.StatusUnauthorized},
		{CodeInvalidArgument, "INVALID_ARGUMENT", http.StatusBadRequest},
		{CodeNotFound, "NOT_FOUND", http.StatusNotFound},
		{CodeInternal, "INTERNAL", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		e := &CallableError{Code: tt.code, Message: "m"}
		if e.Status() != tt.wantStatus || e.HTTPStatus() != tt.wantHTTP {
			t.Errorf("%s -> %s/%d, want %s/%d", tt.code, e.Status(), e.HTTPStatus(), tt.wantStatus, tt.wantHTTP)
		}
	}

	if ce := AsCallableError(errors.New("db password is hunter2")); ce.Code != CodeInternal || ce.Message != "internal error" {
		t.Errorf("AsCallableError(plain) = %+v", ce)
	}
	orig := &CallableError{Code: CodeNotFound, Message: "Post not found"}
	if ce := AsCallableError(orig); ce != orig {
		t.Error("AsCallableError should unwrap existing callable errors")
	}
}
