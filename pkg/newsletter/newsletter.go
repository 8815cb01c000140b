// Package newsletter contains the core domain types for the newsletter notification service.
package newsletter

import "time"

// Frequency is how often a subscriber asked to be mailed.
type Frequency string

// Supported delivery frequencies. Only immediate delivery is implemented; the
// others are stored as given.
const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// Preferences are subscriber mailing preferences.
type Preferences struct {
	Frequency Frequency `json:"frequency"`
	Topics    []string  `json:"topics"`
}

// DefaultPreferences returns the preferences assigned at signup.
func DefaultPreferences() Preferences {
	return Preferences{
		Frequency: FrequencyImmediate,
		Topics:    []string{"all"},
	}
}

// Subscriber is one newsletter recipient. ID doubles as the unsubscribe token.
type Subscriber struct {
	SubscriptionDate time.Time   `json:"subscriptionDate"`
	LastNotified     *time.Time  `json:"lastNotified,omitempty"` // nil until the first successful send
	Preferences      Preferences `json:"preferences"`
	ID               string      `json:"id"`
	Email            string      `json:"email"`
	Name             string      `json:"name,omitempty"`
	Source           string      `json:"source,omitempty"` // page the signup came from
	IsActive         bool        `json:"isActive"`
}

// ContentItem is a blog post as seen by the notification pipeline.
type ContentItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Excerpt     string `json:"excerpt"`
	IsPublished bool   `json:"isPublished"`
}

// TriggerMarker records an operator asking for a post to be re-announced.
// Writing one re-enters the creation trigger.
type TriggerMarker struct {
	TriggeredAt time.Time `json:"triggeredAt"`
	ID          string    `json:"id"`
	PostID      string    `json:"postId"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	TriggeredBy string    `json:"triggeredBy"`
}

// ContentItem returns the published item the marker stands for.
func (m *TriggerMarker) ContentItem() *ContentItem {
	return &ContentItem{
		ID:          m.PostID,
		Title:       m.Title,
		Excerpt:     m.Excerpt,
		IsPublished: true,
	}
}
