package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// DefaultEmailJSEndpoint is the EmailJS REST send endpoint.
const DefaultEmailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// EmailJSProvider sends emails through an EmailJS template.
// The template is expected to use to_email, subject and message_html.
type EmailJSProvider struct {
	client     *http.Client
	logger     *slog.Logger
	endpoint   string
	serviceID  string
	templateID string
	publicKey  string
	privateKey string
}

// NewEmailJSProvider creates a new EmailJS email provider.
func NewEmailJSProvider(serviceID, templateID, publicKey, privateKey string, logger *slog.Logger) *EmailJSProvider {
	return &EmailJSProvider{
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		endpoint:   DefaultEmailJSEndpoint,
		serviceID:  serviceID,
		templateID: templateID,
		publicKey:  publicKey,
		privateKey: privateKey,
	}
}

// emailJSSendRequest represents the EmailJS send request.
type emailJSSendRequest struct {
	ServiceID      string        `json:"service_id"`
	TemplateID     string        `json:"template_id"`
	UserID         string        `json:"user_id"`
	AccessToken    string        `json:"accessToken,omitempty"`
	TemplateParams emailJSParams `json:"template_params"`
}

type emailJSParams struct {
	ToEmail     string `json:"to_email"`
	FromEmail   string `json:"from_email,omitempty"`
	Subject     string `json:"subject"`
	MessageHTML string `json:"message_html"`
}

// Send sends an email via the EmailJS API.
func (e *EmailJSProvider) Send(ctx context.Context, msg Message) error {
	msg = sanitizeMessage(msg)
	jsonData, err := json.Marshal(emailJSSendRequest{
		ServiceID:   e.serviceID,
		TemplateID:  e.templateID,
		UserID:      e.publicKey,
		AccessToken: e.privateKey,
		TemplateParams: emailJSParams{
			ToEmail:     msg.To,
			FromEmail:   msg.From,
			Subject:     msg.Subject,
			MessageHTML: msg.HTML,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			e.logger.Info("EmailJS API request starting",
				"method", "POST",
				"template", e.templateID,
				"to", msg.To,
				"subject", msg.Subject)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := e.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				e.logger.Warn("EmailJS API request failed, will retry",
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					e.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best effort for the log line
				statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(statusErr)
				}
				e.logger.Warn("EmailJS API returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"to", msg.To)
				return statusErr
			}

			e.logger.Info("EmailJS API request completed",
				"to", msg.To,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Info("Retrying EmailJS send after error", "attempt", n, "error", err)
		}),
	)
}
