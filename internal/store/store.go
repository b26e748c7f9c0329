// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
)

// Repository defines the interface for persisting users, conversation state,
// XP and journal data.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetConversation retrieves the persisted conversation state for a tab session.
	GetConversation(ctx context.Context, userID, sessionID string) (*domain.ConversationRecord, error)

	// UpsertConversation creates or updates conversation state.
	UpsertConversation(ctx context.Context, rec *domain.ConversationRecord) error

	// DeleteConversation removes conversation state.
	DeleteConversation(ctx context.Context, userID, sessionID string) error

	// CleanupStaleConversations removes conversation state untouched for longer than ttl.
	CleanupStaleConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// GetXPRecord retrieves XP state; a user without XP gets an empty record.
	GetXPRecord(ctx context.Context, userID string) (*domain.XPRecord, error)

	// SaveXPRecord persists the total and daily completions together.
	SaveXPRecord(ctx context.Context, rec *domain.XPRecord) error

	// AddJournalEntry stores a journal entry.
	AddJournalEntry(ctx context.Context, entry *domain.JournalEntry) error

	// ListJournalEntries returns entries newest first.
	ListJournalEntries(ctx context.Context, userID string, limit int) ([]*domain.JournalEntry, error)

	// AddSupportEntry stores a support entry and trims the user's list to
	// domain.MaxSupportEntries, dropping the oldest.
	AddSupportEntry(ctx context.Context, entry *domain.SupportEntry) error

	// ListSupportEntries returns support entries newest first.
	ListSupportEntries(ctx context.Context, userID string) ([]*domain.SupportEntry, error)

	// GetPreferences returns saved preferences or defaults.
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)

	// SavePreferences persists preferences.
	SavePreferences(ctx context.Context, prefs *domain.Preferences) error
}
