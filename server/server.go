// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"newsletter-notifier/auth"
	"newsletter-notifier/cleanup"
	"newsletter-notifier/notify"
	"newsletter-notifier/pkg/newsletter"
	"newsletter-notifier/subscribe"
	"newsletter-notifier/trigger"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

const maxBodyBytes = 64 << 10

// Subscriber interface for the subscription service.
type Subscriber interface {
	Subscribe(ctx context.Context, req subscribe.Request) (subscribe.Result, error)
	Unsubscribe(ctx context.Context, token string) (*newsletter.Subscriber, error)
	Remove(ctx context.Context, email string) error
}

// Trigger interface for manual notification requests.
type Trigger interface {
	Trigger(ctx context.Context, caller *auth.Caller, postID string) (*trigger.Ack, error)
}

// Cleaner interface for the dormant subscriber sweep.
type Cleaner interface {
	Run(ctx context.Context) cleanup.Result
}

// Dispatcher interface for content creation events.
type Dispatcher interface {
	OnContentCreated(ctx context.Context, item *newsletter.ContentItem) *notify.Result
}

// Server handles HTTP requests.
type Server struct {
	subscriber       Subscriber
	trigger          Trigger
	cleaner          Cleaner
	dispatcher       Dispatcher
	auth             auth.Authenticator
	logger           *slog.Logger
	subscribeLimiter *rateLimiter
	lookupLimiter    *rateLimiter
	siteName         string
	baseURL          string
	taskToken        string
}

// Config holds server configuration.
type Config struct {
	Subscriber    Subscriber
	Trigger       Trigger
	Cleaner       Cleaner
	Dispatcher    Dispatcher
	Authenticator auth.Authenticator
	Logger        *slog.Logger
	SiteName      string
	BaseURL       string
	// TaskToken guards the scheduler and webhook endpoints. Empty disables them.
	TaskToken string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		subscriber:       cfg.Subscriber,
		trigger:          cfg.Trigger,
		cleaner:          cfg.Cleaner,
		dispatcher:       cfg.Dispatcher,
		auth:             cfg.Authenticator,
		logger:           cfg.Logger,
		subscribeLimiter: newRateLimiter(5, time.Hour),
		lookupLimiter:    newRateLimiter(30, time.Hour),
		siteName:         cfg.SiteName,
		baseURL:          cfg.BaseURL,
		taskToken:        cfg.TaskToken,
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/subscribe", s.handleSubscribe)
	r.Get("/unsubscribe", s.handleUnsubscribe)

	r.Route("/callable", func(r chi.Router) {
		r.Post("/triggerNotification", s.handleTriggerNotification)
		r.Post("/deleteSubscriber", s.handleDeleteSubscriber)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireTaskToken)
		r.Post("/tasks/cleanup", s.handleCleanup)
		r.Post("/events/content-created", s.handleContentCreated)
	})
	return r
}

// Run serves HTTP on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute, // a content event runs the whole batch
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
	}
}
