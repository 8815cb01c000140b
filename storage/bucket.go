package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"newsletter-notifier/pkg/newsletter"
)

const (
	keyPrefix         = "sub-"
	maxUpdateAttempts = 5
)

// errConflict means the object changed between read and write.
var errConflict = errors.New("subscriber changed concurrently")

// BucketStore keeps one JSON object per subscriber, in Cloud Storage or in a
// local directory when localPath is set.
type BucketStore struct {
	tokenizer
	client    *storage.Client
	logger    *slog.Logger
	now       func() time.Time
	localPath string
	bucket    string
	localMu   sync.Mutex // serializes read-modify-write in local mode
}

// NewBucket creates a new bucket-backed subscriber store.
func NewBucket(client *storage.Client, bucket string, localPath string, salt []byte, logger *slog.Logger) *BucketStore {
	return &BucketStore{
		tokenizer: tokenizer{salt: salt},
		client:    client,
		logger:    logger,
		now:       time.Now,
		localPath: localPath,
		bucket:    bucket,
	}
}

// SubscriberKey generates a stable object name from a token.
// Returns "" for anything that is not a 64 character hex token, which
// rules out path traversal through the key.
func SubscriberKey(token string) string {
	if !validToken(token) {
		return ""
	}
	return fmt.Sprintf("%s%s.json", keyPrefix, token)
}

func retryOptions(ctx context.Context, logger *slog.Logger, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	}
}

// FindByEmail loads the subscriber for an email address.
// The HMAC token is the object name, so this is a direct lookup.
func (s *BucketStore) FindByEmail(ctx context.Context, email string) (*newsletter.Subscriber, error) {
	return s.load(ctx, SubscriberKey(s.TokenFromEmail(email)))
}

// LoadByToken loads a subscriber by its token.
func (s *BucketStore) LoadByToken(ctx context.Context, token string) (*newsletter.Subscriber, error) {
	key := SubscriberKey(token)
	if key == "" {
		return nil, ErrNotFound
	}
	return s.load(ctx, key)
}

// Create stores a new subscriber. The subscription date is assigned here.
func (s *BucketStore) Create(ctx context.Context, sub *newsletter.Subscriber) error {
	sub.Email = newsletter.NormalizeEmail(sub.Email)
	sub.ID = s.TokenFromEmail(sub.Email)
	sub.SubscriptionDate = s.now().UTC()

	if err := s.write(ctx, sub, storage.Conditions{DoesNotExist: true}); err != nil {
		if errors.Is(err, errConflict) {
			return ErrAlreadyExists
		}
		return err
	}
	s.logger.Info("Subscriber created", "id", sub.ID, "email", sub.Email)
	return nil
}

// ListActive returns every subscriber with isActive set.
func (s *BucketStore) ListActive(ctx context.Context) ([]*newsletter.Subscriber, error) {
	return s.filter(ctx, func(sub *newsletter.Subscriber) bool {
		return sub.IsActive
	})
}

// ListNotifiedBefore returns subscribers whose lastNotified is before cutoff.
// Subscribers never notified have no lastNotified and are not returned,
// matching a range query on an absent field.
func (s *BucketStore) ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]*newsletter.Subscriber, error) {
	return s.filter(ctx, func(sub *newsletter.Subscriber) bool {
		return sub.LastNotified != nil && sub.LastNotified.Before(cutoff)
	})
}

// MarkNotified sets lastNotified for the subscriber with the given id.
func (s *BucketStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, func(sub *newsletter.Subscriber) {
		t := at.UTC()
		sub.LastNotified = &t
	})
}

// SetActive flips isActive for the subscriber with the given id.
func (s *BucketStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, id, func(sub *newsletter.Subscriber) {
		sub.IsActive = active
	})
}

// Delete removes a subscriber by email.
func (s *BucketStore) Delete(ctx context.Context, email string) error {
	key := SubscriberKey(s.TokenFromEmail(email))
	s.logger.Debug("Deleting subscriber", "key", key, "email", email)

	if s.localPath != "" {
		s.localMu.Lock()
		defer s.localMu.Unlock()
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil {
			if os.IsNotExist(err) {
				return ErrNotFound
			}
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("Subscriber deleted from local storage", "path", filePath, "email", email)
		return nil
	}

	var missing bool
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retryOptions(ctx, s.logger, "delete", key)...,
	)
	if err != nil {
		if missing {
			return ErrNotFound
		}
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("Subscriber deleted", "key", key, "email", email)
	return nil
}

func (s *BucketStore) update(ctx context.Context, id string, mutate func(*newsletter.Subscriber)) error {
	key := SubscriberKey(id)
	if key == "" {
		return ErrNotFound
	}
	if s.localPath != "" {
		s.localMu.Lock()
		defer s.localMu.Unlock()
	}

	// Object writes are conditioned on the generation that was read, so a
	// concurrent update forces a fresh read instead of being overwritten.
	for attempt := range maxUpdateAttempts {
		sub, gen, err := s.loadGeneration(ctx, key)
		if err != nil {
			return err
		}
		mutate(sub)
		err = s.write(ctx, sub, storage.Conditions{GenerationMatch: gen})
		if !errors.Is(err, errConflict) {
			return err
		}
		s.logger.Info("Subscriber changed during update, retrying", "key", key, "attempt", attempt+1)
	}
	return fmt.Errorf("update %s: %w", key, errConflict)
}

func (s *BucketStore) filter(ctx context.Context, keep func(*newsletter.Subscriber) bool) ([]*newsletter.Subscriber, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	var subs []*newsletter.Subscriber
	for _, sub := range all {
		if keep(sub) {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// write stores sub under its key. cond guards the object write; when it does
// not hold the write fails with errConflict. In local mode only DoesNotExist
// is honoured.
func (s *BucketStore) write(ctx context.Context, sub *newsletter.Subscriber, cond storage.Conditions) error {
	key := SubscriberKey(sub.ID)
	if key == "" {
		return errors.New("invalid token format")
	}

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if cond.DoesNotExist {
			flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
		f, err := os.OpenFile(filePath, flags, 0o600)
		if err != nil {
			if os.IsExist(err) {
				return errConflict
			}
			return fmt.Errorf("open local storage: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close local storage: %w", err)
		}
		s.logger.Debug("Subscriber saved to local storage", "path", filePath, "email", sub.Email)
		return nil
	}

	var conflict bool
	err = retry.Do(
		func() error {
			obj := s.client.Bucket(s.bucket).Object(key)
			if cond.DoesNotExist || cond.GenerationMatch != 0 {
				obj = obj.If(cond)
			}
			w := obj.NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				var apiErr *googleapi.Error
				if errors.As(closeErr, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
					conflict = true
					return retry.Unrecoverable(errConflict)
				}
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retryOptions(ctx, s.logger, "save", key)...,
	)
	if err != nil {
		if conflict {
			return errConflict
		}
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("Subscriber saved", "key", key, "email", sub.Email)
	return nil
}

func (s *BucketStore) load(ctx context.Context, key string) (*newsletter.Subscriber, error) {
	sub, _, err := s.loadGeneration(ctx, key)
	return sub, err
}

// loadGeneration reads a subscriber and the object generation it came from.
// Local files have no generation and report 0.
func (s *BucketStore) loadGeneration(ctx context.Context, key string) (*newsletter.Subscriber, int64, error) {
	if key == "" {
		return nil, 0, ErrNotFound
	}

	var (
		data []byte
		gen  int64
	)

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, 0, ErrNotFound
			}
			return nil, 0, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		var missing bool
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						missing = true
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				gen = r.Attrs.Generation
				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retryOptions(ctx, s.logger, "load", key)...,
		)
		if err != nil {
			if missing {
				return nil, 0, ErrNotFound
			}
			return nil, 0, fmt.Errorf("load after retries: %w", err)
		}
	}

	var sub newsletter.Subscriber
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, 0, fmt.Errorf("unmarshal subscriber: %w", err)
	}
	return &sub, gen, nil
}

func (s *BucketStore) list(ctx context.Context) ([]*newsletter.Subscriber, error) {
	var subs []*newsletter.Subscriber

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			sub, err := s.load(ctx, entry.Name())
			if err != nil {
				s.logger.Warn("Failed to load subscriber", "file", entry.Name(), "error", err)
				continue
			}
			subs = append(subs, sub)
		}
		return subs, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: keyPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		sub, err := s.load(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("Failed to load subscriber", "key", attrs.Name, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
