package domain

import (
	"time"
)

// ConversationRecord is the persisted snapshot of one tab's conversation state.
type ConversationRecord struct {
	UserID               string
	SessionID            string
	Stage                string
	UserName             string
	AgeGroup             string
	Mood                 string
	LastUserMessage      string
	LastAssistantMessage string
	LastUserInputTime    *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
