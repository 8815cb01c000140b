package newsletter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxEmailLength = 254

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ErrDuplicateSubscriber is returned when the email is already on the list.
var ErrDuplicateSubscriber = errors.New("already subscribed")

// ValidationError describes malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// NormalizeEmail trims and lower-cases an address so it can be used as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks an already normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if len(email) > maxEmailLength {
		return &ValidationError{Field: "email", Reason: "too long"}
	}
	if !emailRegex.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "not a valid email address"}
	}
	return nil
}
