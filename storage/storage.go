// Package storage handles persistence of newsletter subscribers.
//
// Two backends share the same query semantics: Firestore for production and a
// JSON-object store backed by Cloud Storage or a local directory.
package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"newsletter-notifier/pkg/newsletter"
)

var (
	// ErrNotFound is returned when no subscriber matches.
	ErrNotFound = errors.New("storage: subscriber doesn't exist")
	// ErrAlreadyExists is returned by Create when the subscriber's document is taken.
	ErrAlreadyExists = errors.New("storage: subscriber already exists")
)

// IsNotFound checks if an error indicates a subscriber was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// tokenizer derives document ids from email addresses.
type tokenizer struct {
	salt []byte
}

// TokenFromEmail derives a deterministic, unguessable token from an email address.
// Uses HMAC-SHA256 with a secret salt so tokens cannot be guessed without the salt.
func (t tokenizer) TokenFromEmail(email string) string {
	h := hmac.New(sha256.New, t.salt)
	h.Write([]byte(newsletter.NormalizeEmail(email)))
	return hex.EncodeToString(h.Sum(nil))
}

// validToken reports whether token is exactly 64 lowercase hex characters.
// Checks every character without exiting early.
func validToken(token string) bool {
	if len(token) != 64 {
		return false
	}
	valid := 1
	for _, c := range token {
		isHexDigit := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHexDigit {
			valid = 0
		}
	}
	return valid == 1
}
