package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// SMTPProvider sends emails through an SMTP relay with account/password auth.
type SMTPProvider struct {
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger   *slog.Logger
	host     string
	port     string
	user     string
	password string
}

// NewSMTPProvider creates a new SMTP email provider.
func NewSMTPProvider(host, port, user, password string, logger *slog.Logger) *SMTPProvider {
	return &SMTPProvider{
		sendMail: smtp.SendMail,
		logger:   logger,
		host:     host,
		port:     port,
		user:     user,
		password: password,
	}
}

// buildMIMEMessage renders msg as an RFC 5322 message with an HTML body.
func buildMIMEMessage(msg Message, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// envelopeSender extracts the bare address from a From header value.
func envelopeSender(from, fallback string) string {
	if from == "" {
		return fallback
	}
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}

// Send sends an email via the SMTP relay.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	msg = sanitizeMessage(msg)
	if msg.From == "" {
		msg.From = p.user
	}
	data := buildMIMEMessage(msg, time.Now())
	addr := net.JoinHostPort(p.host, p.port)
	auth := smtp.PlainAuth("", p.user, p.password, p.host)
	from := envelopeSender(msg.From, p.user)

	return retry.Do(
		func() error {
			startTime := time.Now()
			err := p.sendMail(addr, auth, from, []string{msg.To}, data)
			duration := time.Since(startTime)
			if err != nil {
				var protoErr *textproto.Error
				if errors.As(err, &protoErr) && protoErr.Code >= 500 {
					// Permanent SMTP failure (bad credentials, rejected recipient).
					return retry.Unrecoverable(fmt.Errorf("smtp %d: %w", protoErr.Code, err))
				}
				p.logger.Warn("SMTP send failed, will retry",
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			p.logger.Debug("SMTP send completed", "to", msg.To, "duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying SMTP send after error", "attempt", n, "error", err)
		}),
	)
}
