// Package domain contains core domain types for the companion service.
package domain

import (
	"time"
)

// User represents an anonymous device identity and its optional registered
// profile. A user with a profile skips onboarding.
type User struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AgeRange    string    `json:"age_range,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasProfile returns true if the user registered a name and age range.
func (u *User) HasProfile() bool {
	return u.DisplayName != "" && u.AgeRange != ""
}

// Preferences holds per-user client settings.
type Preferences struct {
	UserID        string    `json:"-"`
	SpeechEnabled bool      `json:"speech_enabled"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultPreferences returns preferences for a user who never saved any.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{UserID: userID, SpeechEnabled: true}
}
