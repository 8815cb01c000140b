// Package email handles composing and sending newsletter emails via pluggable providers.
package email

import (
	"context"
	"strings"
)

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends one message.
	Send(ctx context.Context, msg Message) error
}

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
// RFC 5322 headers are newline-delimited, so a newline in a header value would let
// the value inject arbitrary headers or body content.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func sanitizeMessage(msg Message) Message {
	msg.From = sanitizeEmailHeader(msg.From)
	msg.To = sanitizeEmailHeader(msg.To)
	msg.Subject = sanitizeEmailHeader(msg.Subject)
	return msg
}
