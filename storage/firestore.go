package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"newsletter-notifier/pkg/newsletter"
)

// subscriberDoc is the Firestore shape of a subscriber.
type subscriberDoc struct {
	SubscriptionDate time.Time      `firestore:"subscriptionDate"`
	LastNotified     *time.Time     `firestore:"lastNotified,omitempty"`
	Preferences      preferencesDoc `firestore:"preferences"`
	Email            string         `firestore:"email"`
	Name             string         `firestore:"name,omitempty"`
	Source           string         `firestore:"source,omitempty"`
	IsActive         bool           `firestore:"isActive"`
}

type preferencesDoc struct {
	Frequency string   `firestore:"frequency"`
	Topics    []string `firestore:"topics"`
}

// encodeSubscriber builds the document written on creation. The subscription
// date is left to the server.
func encodeSubscriber(sub *newsletter.Subscriber) map[string]any {
	topics := sub.Preferences.Topics
	if topics == nil {
		topics = []string{}
	}
	data := map[string]any{
		"email":            sub.Email,
		"isActive":         sub.IsActive,
		"subscriptionDate": firestore.ServerTimestamp,
		"preferences": map[string]any{
			"frequency": string(sub.Preferences.Frequency),
			"topics":    topics,
		},
	}
	if sub.Name != "" {
		data["name"] = sub.Name
	}
	if sub.Source != "" {
		data["source"] = sub.Source
	}
	return data
}

func decodeSubscriber(snap *firestore.DocumentSnapshot) (*newsletter.Subscriber, error) {
	var doc subscriberDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode subscriber %s: %w", snap.Ref.ID, err)
	}
	return &newsletter.Subscriber{
		ID:               snap.Ref.ID,
		Email:            doc.Email,
		Name:             doc.Name,
		Source:           doc.Source,
		SubscriptionDate: doc.SubscriptionDate,
		LastNotified:     doc.LastNotified,
		IsActive:         doc.IsActive,
		Preferences: newsletter.Preferences{
			Frequency: newsletter.Frequency(doc.Preferences.Frequency),
			Topics:    doc.Preferences.Topics,
		},
	}, nil
}

// FirestoreStore keeps subscribers in a Firestore collection, one document per
// email keyed by the email's HMAC token.
type FirestoreStore struct {
	tokenizer
	client     *firestore.Client
	logger     *slog.Logger
	collection string
}

// NewFirestore creates a Firestore-backed subscriber store.
func NewFirestore(client *firestore.Client, collection string, salt []byte, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{
		tokenizer:  tokenizer{salt: salt},
		client:     client,
		logger:     logger,
		collection: collection,
	}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// FindByEmail queries for the subscriber with the given email.
func (s *FirestoreStore) FindByEmail(ctx context.Context, email string) (*newsletter.Subscriber, error) {
	subs, err := s.query(ctx, s.col().Where("email", "==", newsletter.NormalizeEmail(email)).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return subs[0], nil
}

// LoadByToken loads a subscriber by document id.
func (s *FirestoreStore) LoadByToken(ctx context.Context, token string) (*newsletter.Subscriber, error) {
	if !validToken(token) {
		return nil, ErrNotFound
	}
	snap, err := s.col().Doc(token).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return decodeSubscriber(snap)
}

// Create inserts a new subscriber document. A second create for the same
// email fails with ErrAlreadyExists, which also covers racing signups.
func (s *FirestoreStore) Create(ctx context.Context, sub *newsletter.Subscriber) error {
	sub.Email = newsletter.NormalizeEmail(sub.Email)
	sub.ID = s.TokenFromEmail(sub.Email)

	wr, err := s.col().Doc(sub.ID).Create(ctx, encodeSubscriber(sub))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create subscriber: %w", err)
	}
	sub.SubscriptionDate = wr.UpdateTime

	s.logger.Info("Subscriber created", "id", sub.ID, "email", sub.Email)
	return nil
}

// ListActive returns every subscriber with isActive == true.
func (s *FirestoreStore) ListActive(ctx context.Context) ([]*newsletter.Subscriber, error) {
	return s.query(ctx, s.col().Where("isActive", "==", true))
}

// ListNotifiedBefore returns subscribers with lastNotified < cutoff. Documents
// without the field are not matched by Firestore range queries.
func (s *FirestoreStore) ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]*newsletter.Subscriber, error) {
	return s.query(ctx, s.col().Where("lastNotified", "<", cutoff))
}

// MarkNotified sets lastNotified on one subscriber document.
func (s *FirestoreStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	return s.updateField(ctx, id, "lastNotified", at.UTC())
}

// SetActive flips isActive on one subscriber document.
func (s *FirestoreStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateField(ctx, id, "isActive", active)
}

// Delete removes the subscriber with the given email.
func (s *FirestoreStore) Delete(ctx context.Context, email string) error {
	sub, err := s.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if _, err := s.col().Doc(sub.ID).Delete(ctx); err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	s.logger.Info("Subscriber deleted", "id", sub.ID, "email", sub.Email)
	return nil
}

func (s *FirestoreStore) updateField(ctx context.Context, id, path string, value any) error {
	if id == "" {
		return ErrNotFound
	}
	_, err := s.col().Doc(id).Update(ctx, []firestore.Update{{Path: path, Value: value}})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) query(ctx context.Context, q firestore.Query) ([]*newsletter.Subscriber, error) {
	it := q.Documents(ctx)
	defer it.Stop()

	var subs []*newsletter.Subscriber
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query subscribers: %w", err)
		}
		sub, err := decodeSubscriber(snap)
		if err != nil {
			s.logger.Warn("Skipping malformed subscriber document", "id", snap.Ref.ID, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
