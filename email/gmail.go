package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailProvider sends emails via the Gmail API as the authenticated account.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// Send sends an email via Gmail API. Gmail rewrites From to the
// authenticated account unless it is a configured alias.
func (g *GmailProvider) Send(ctx context.Context, msg Message) error {
	msg = sanitizeMessage(msg)
	encoded := base64.URLEncoding.EncodeToString(buildMIMEMessage(msg, time.Now()))

	return retry.Do(
		func() error {
			startTime := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				var apiErr *googleapi.Error
				if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
					// Bad recipient, missing scope or revoked credentials.
					return retry.Unrecoverable(fmt.Errorf("gmail %d: %w", apiErr.Code, err))
				}
				g.logger.Warn("Gmail API send failed, will retry",
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"to", msg.To,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail email send after error", "attempt", n, "error", err)
		}),
	)
}
