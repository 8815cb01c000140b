// Package subscribe onboards newsletter subscribers.
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"newsletter-notifier/pkg/newsletter"
	"newsletter-notifier/storage"
)

// Store interface for subscriber persistence.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*newsletter.Subscriber, error)
	LoadByToken(ctx context.Context, token string) (*newsletter.Subscriber, error)
	Create(ctx context.Context, sub *newsletter.Subscriber) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, email string) error
}

// Emailer interface for sending welcome emails.
type Emailer interface {
	SendWelcome(ctx context.Context, sub *newsletter.Subscriber) error
}

// Request is one signup.
type Request struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
}

// Result is returned to the signup form.
// EmailDelivered is false when the welcome email could not be sent;
// the subscription itself still succeeded.
type Result struct {
	Message        string `json:"message"`
	Success        bool   `json:"success"`
	EmailDelivered bool   `json:"emailDelivered"`
}

// Service handles subscriptions.
type Service struct {
	store   Store
	emailer Emailer
	logger  *slog.Logger
}

// New creates a new subscription service.
func New(store Store, emailer Emailer, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		emailer: emailer,
		logger:  logger,
	}
}

// Subscribe creates a subscriber for req.Email unless one already exists.
//
// Errors are *newsletter.ValidationError for bad input, and
// newsletter.ErrDuplicateSubscriber when the address is taken. Any other
// error comes from the store. The Result is always usable as a response.
func (s *Service) Subscribe(ctx context.Context, req Request) (Result, error) {
	email := newsletter.NormalizeEmail(req.Email)
	if err := newsletter.ValidateEmail(email); err != nil {
		s.logger.Info("Subscription rejected", "email", req.Email, "error", err)
		return Result{Message: err.Error()}, err
	}

	existing, err := s.store.FindByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		s.logger.Info("Already subscribed", "email", email)
		return Result{Message: newsletter.ErrDuplicateSubscriber.Error()}, newsletter.ErrDuplicateSubscriber
	case err != nil && !storage.IsNotFound(err):
		s.logger.Error("Failed to look up subscriber", "email", email, "error", err)
		return Result{Message: "subscription failed"}, fmt.Errorf("find subscriber: %w", err)
	}

	sub := &newsletter.Subscriber{
		Email:       email,
		Name:        strings.TrimSpace(req.Name),
		Source:      strings.TrimSpace(req.Source),
		IsActive:    true,
		Preferences: newsletter.DefaultPreferences(),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Lost a race with a concurrent signup for the same address.
			s.logger.Info("Already subscribed", "email", email)
			return Result{Message: newsletter.ErrDuplicateSubscriber.Error()}, newsletter.ErrDuplicateSubscriber
		}
		s.logger.Error("Failed to create subscriber", "email", email, "error", err)
		return Result{Message: "subscription failed"}, fmt.Errorf("create subscriber: %w", err)
	}

	s.logger.Info("Subscription created", "email", email, "source", sub.Source)

	delivered := true
	if err := s.emailer.SendWelcome(ctx, sub); err != nil {
		// Log error but don't fail the subscription
		s.logger.Warn("Failed to send welcome email", "email", email, "error", err)
		delivered = false
	}

	return Result{
		Success:        true,
		Message:        "Successfully subscribed to the newsletter",
		EmailDelivered: delivered,
	}, nil
}

// Unsubscribe deactivates the subscriber identified by an unsubscribe token.
// The record is kept; only isActive changes.
func (s *Service) Unsubscribe(ctx context.Context, token string) (*newsletter.Subscriber, error) {
	sub, err := s.store.LoadByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	if !sub.IsActive {
		return sub, nil
	}
	if err := s.store.SetActive(ctx, sub.ID, false); err != nil {
		s.logger.Error("Failed to deactivate subscriber", "email", sub.Email, "error", err)
		return nil, fmt.Errorf("deactivate subscriber: %w", err)
	}
	sub.IsActive = false
	s.logger.Info("Subscriber unsubscribed", "email", sub.Email)
	return sub, nil
}

// Remove permanently deletes a subscriber. Admin only.
func (s *Service) Remove(ctx context.Context, email string) error {
	email = newsletter.NormalizeEmail(email)
	if err := newsletter.ValidateEmail(email); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, email); err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Error("Failed to delete subscriber", "email", email, "error", err)
		}
		return fmt.Errorf("delete subscriber: %w", err)
	}
	s.logger.Info("Subscriber deleted", "email", email)
	return nil
}
