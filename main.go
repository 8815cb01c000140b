// Package main implements a Cloud Run service that manages newsletter
// subscribers and emails them when a new blog post is published.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"newsletter-notifier/auth"
	"newsletter-notifier/cleanup"
	"newsletter-notifier/config"
	"newsletter-notifier/content"
	"newsletter-notifier/email"
	"newsletter-notifier/notify"
	"newsletter-notifier/poll"
	"newsletter-notifier/server"
	"newsletter-notifier/storage"
	"newsletter-notifier/subscribe"
	"newsletter-notifier/trigger"
)

// subscriberStore is everything the service needs from a subscriber backend.
type subscriberStore interface {
	subscribe.Store
	notify.Store
	cleanup.Store
}

// clients holds the lazily created cloud clients shared by components.
type clients struct {
	firestore *firestore.Client
	storage   *gcs.Client
	projectID string
}

func (c *clients) Firestore(ctx context.Context) (*firestore.Client, error) {
	if c.firestore != nil {
		return c.firestore, nil
	}
	fc, err := firestore.NewClient(ctx, c.projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	c.firestore = fc
	return fc, nil
}

func (c *clients) Storage(ctx context.Context) (*gcs.Client, error) {
	if c.storage != nil {
		return c.storage, nil
	}
	sc, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	c.storage = sc
	return sc, nil
}

func (c *clients) Close(logger *slog.Logger) {
	if c.firestore != nil {
		if err := c.firestore.Close(); err != nil {
			logger.Warn("Failed to close firestore client", "error", err)
		}
	}
	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
}

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Local {
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage, "base_url", cfg.BaseURL)
	}

	cl := &clients{projectID: cfg.ProjectID}
	defer cl.Close(logger)

	store, err := openStore(ctx, cfg, cl, logger)
	if err != nil {
		return err
	}

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sender := email.New(provider, logger, email.Config{
		BaseURL:  cfg.BaseURL,
		From:     cfg.From(),
		SiteName: cfg.SiteName,
	})

	src, err := newContentSource(ctx, cfg, cl, logger)
	if err != nil {
		return err
	}
	wp, _ := src.(*content.WordPressSource)

	notifier := notify.New(store, sender, logger, cfg.NotifyConcurrency)
	dispatcher := trigger.NewDispatcher(notifier, logger)

	var sink trigger.MarkerSink
	var loopback *trigger.LoopbackSink
	if cfg.WatchFirestore {
		fc, err := cl.Firestore(ctx)
		if err != nil {
			return err
		}
		sink = trigger.NewFirestoreMarkers(fc, cfg.Triggers, logger)
	} else {
		loopback = trigger.NewLoopbackSink(dispatcher, logger)
		sink = loopback
	}

	job := cleanup.New(store, logger, cfg.DormancyMonths)

	srv := server.New(&server.Config{
		Subscriber:    subscribe.New(store, sender, logger),
		Trigger:       trigger.NewManual(src, sink, logger),
		Cleaner:       job,
		Dispatcher:    dispatcher,
		Authenticator: newAuthenticator(cfg, logger),
		Logger:        logger,
		SiteName:      cfg.SiteName,
		BaseURL:       cfg.BaseURL,
		TaskToken:     cfg.TaskToken,
	})

	if cfg.CleanupSchedule != "" {
		sched, err := cleanup.NewScheduler(job, logger, cfg.CleanupSchedule, cfg.CleanupTimezone)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() {
			<-sched.Stop().Done()
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Port)
	})
	if cfg.WatchFirestore {
		fc, err := cl.Firestore(ctx)
		if err != nil {
			return err
		}
		watcher := trigger.NewWatcher(fc, dispatcher, cfg.Posts, cfg.Triggers, logger)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if cfg.PollWordPress && wp != nil {
		monitor := poll.New(wp, dispatcher, logger)
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	err = g.Wait()
	if loopback != nil {
		loopback.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Service stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, cl *clients, logger *slog.Logger) (subscriberStore, error) {
	salt := []byte(cfg.SubscriberSalt)

	if cfg.StoreBackend == config.BackendFirestore {
		fc, err := cl.Firestore(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("Using firestore subscriber store", "project", cfg.ProjectID, "collection", cfg.Subscribers)
		return storage.NewFirestore(fc, cfg.Subscribers, salt, logger), nil
	}

	if cfg.Bucket == "" {
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, fmt.Errorf("create local storage directory: %w", err)
		}
		logger.Info("Using local subscriber store", "path", cfg.LocalStorage)
		return storage.NewBucket(nil, "", cfg.LocalStorage, salt, logger), nil
	}

	sc, err := cl.Storage(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Using bucket subscriber store", "bucket", cfg.Bucket)
	return storage.NewBucket(sc, cfg.Bucket, "", salt, logger), nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.Provider, error) {
	switch cfg.EmailProvider {
	case config.ProviderSMTP:
		logger.Info("Using SMTP email provider", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return email.NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, logger), nil
	case config.ProviderEmailJS:
		logger.Info("Using EmailJS email provider", "service_id", cfg.EmailJSServiceID)
		return email.NewEmailJSProvider(cfg.EmailJSServiceID, cfg.EmailJSTemplateID, cfg.EmailJSPublicKey, cfg.EmailJSPrivateKey, logger), nil
	case config.ProviderGmail:
		svc, err := initGmailService(ctx, cfg.GoogleCredentials)
		if err != nil {
			if !cfg.Local {
				return nil, fmt.Errorf("initialize gmail service: %w", err)
			}
			logger.Warn("Failed to initialize Gmail service, using mock email", "error", err)
			return email.NewMockProvider(logger), nil
		}
		logger.Info("Using Gmail API email provider")
		return email.NewGmailProvider(svc, logger), nil
	default:
		logger.Info("Mock email mode enabled, messages are only logged")
		return email.NewMockProvider(logger), nil
	}
}

func newContentSource(ctx context.Context, cfg *config.Config, cl *clients, logger *slog.Logger) (content.Source, error) {
	if cfg.ContentSource == config.SourceFirestore {
		fc, err := cl.Firestore(ctx)
		if err != nil {
			return nil, err
		}
		return content.NewFirestore(fc, cfg.Posts, logger), nil
	}
	if cfg.WordPressURL == "" {
		logger.Warn("No WORDPRESS_URL set, manual triggers will not find any post")
	}
	return content.NewWordPress(&http.Client{Timeout: 30 * time.Second}, cfg.WordPressURL, logger), nil
}

func newAuthenticator(cfg *config.Config, logger *slog.Logger) auth.Authenticator {
	if cfg.ProjectID != "" {
		return auth.NewFirebaseVerifier(cfg.ProjectID)
	}
	if cfg.TaskToken == "" {
		logger.Warn("No GCP_PROJECT or TASK_TOKEN set, callable endpoints reject every caller")
	} else {
		logger.Info("Callable endpoints accept TASK_TOKEN as a bearer token")
	}
	return auth.NewStaticToken(cfg.TaskToken)
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// On Cloud Run the service account supplies Application Default Credentials.
	// It needs Gmail API access (gmail.send scope).
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
