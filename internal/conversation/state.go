// Package conversation drives one tab's dialogue with the companion:
// onboarding, chat routing, scripted story playback and the inactivity
// check-in ladder.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage is the current phase of onboarding or chat.
type Stage string

const (
	StageAwaitingName Stage = "awaiting_name"
	StageAwaitingAge  Stage = "awaiting_age"
	StageChat         Stage = "chat"
)

var stageOrder = map[Stage]int{
	StageAwaitingName: 0,
	StageAwaitingAge:  1,
	StageChat:         2,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes earlier in onboarding than other.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

var (
	// ErrBusy is returned when a send arrives while a previous one is in flight.
	ErrBusy = errors.New("a message is already being answered")
	// ErrInvalidAgeRange is returned for an age range outside the fixed set.
	ErrInvalidAgeRange = errors.New("invalid age range")
	// ErrWrongStage is returned when an action does not apply to the current stage.
	ErrWrongStage = errors.New("action not valid in the current stage")
	// ErrClosed is returned after the session has been closed.
	ErrClosed = errors.New("conversation session closed")
	// ErrUnknownAction is returned by Dispatch for unrecognised actions.
	ErrUnknownAction = errors.New("unknown action")
)

// AgeChoice is one of the fixed age brackets offered during onboarding.
type AgeChoice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// AgeChoices are offered in this order.
var AgeChoices = []AgeChoice{
	{Value: "10-17", Label: "10–17 (Teen years)"},
	{Value: "18-30", Label: "18–30 (Young adult)"},
	{Value: "31-50", Label: "31–50 (Adult)"},
	{Value: "51+", Label: "51+ (Mature adult)"},
}

// ParseAgeRange validates an age bracket value.
func ParseAgeRange(s string) (string, error) {
	v := strings.TrimSpace(s)
	for _, c := range AgeChoices {
		if c.Value == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAgeRange, s)
}

func ageLabel(v string) string {
	for _, c := range AgeChoices {
		if c.Value == v {
			return c.Label
		}
	}
	return v
}

// State is a snapshot of the conversation. LastUserInputTime is only ever set
// by a user-initiated action.
type State struct {
	Stage                Stage      `json:"stage"`
	UserName             string     `json:"user_name,omitempty"`
	AgeGroup             string     `json:"age_group,omitempty"`
	Mood                 string     `json:"mood,omitempty"`
	LastUserMessage      string     `json:"last_user_message,omitempty"`
	LastAssistantMessage string     `json:"last_assistant_message,omitempty"`
	LastUserInputTime    *time.Time `json:"last_user_input_time,omitempty"`
}

// Profile is an externally registered user that skips onboarding.
type Profile struct {
	Name     string
	AgeRange string
}

// Reply is the synchronous answer to one action. Asynchronous output such as
// story parts and check-ins goes through the Emitter instead.
type Reply struct {
	Messages []string    `json:"messages"`
	Choices  []AgeChoice `json:"choices,omitempty"`
	Mood     string      `json:"mood,omitempty"`
	IsCrisis bool        `json:"is_crisis"`
	Story    string      `json:"story,omitempty"`
	Stage    Stage       `json:"stage"`
}

// Text joins the reply messages for clients that show a single bubble.
func (r Reply) Text() string {
	return strings.Join(r.Messages, "\n\n")
}

// EventType classifies an asynchronous event.
type EventType string

const (
	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"
	EventMessage     EventType = "message"
)

// Event sources.
const (
	SourceStory         = "story"
	SourceCheckIn       = "check_in"
	SourceEncouragement = "encouragement"
)

// Event is pushed to the client outside the request/response cycle.
type Event struct {
	Type   EventType `json:"type"`
	Text   string    `json:"text,omitempty"`
	Source string    `json:"source,omitempty"`
}

// Emitter receives asynchronous events. Emit is called with the session lock
// held and must not block or call back into the session.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

const (
	namePrompt    = "Hey 👋 I'm GABE — your spiritual bestie. What's your name?"
	ageReminder   = "Please click one of the age group buttons above to continue! 😊"
	agePromptFmt  = "Nice to meet you, %s! Now, which age group are you in? This helps me connect with you better:"
	closingFmt    = "Thanks for sharing, %s. Just so you know, whatever you're feeling — joy, sadness, confusion — God understands and so do I. You can ask me for a Bible verse, a short story, a prayer, or just to talk."
	greetingFmt   = "%s %s! Great to see you again. How can I walk alongside you today? 💙"
	resumeChatFmt = "Welcome back, %s! I'm right here whenever you want to talk. 💙"
)

func greetingFor(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 17:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

var storyKeywords = []string{
	"story", "tell me a story", "bible story", "share a story",
	"david and goliath", "moses", "daniel", "noah", "jesus", "parable", "tell a story",
}

// IsStoryRequest reports whether text asks for a scripted story.
func IsStoryRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range storyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// looksLikeQuestion reports whether an assistant message invites an answer,
// in which case check-ins stay quiet.
func looksLikeQuestion(msg string) bool {
	if msg == "" {
		return false
	}
	if strings.Contains(msg, "?") {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "what") || strings.Contains(lower, "how") || strings.Contains(lower, "why")
}
