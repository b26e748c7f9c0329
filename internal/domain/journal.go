package domain

import (
	"time"
)

// MaxSupportEntries caps saved spiritual-support suggestions per user.
const MaxSupportEntries = 50

// JournalEntry is a free-form journal note tagged with the detected mood.
type JournalEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood"`
	CreatedAt time.Time `json:"date"`
}

// SupportEntry is a saved spiritual-support suggestion.
type SupportEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Verse     string    `json:"verse,omitempty"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}
