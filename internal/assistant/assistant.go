// Package assistant talks to the conversational backend that produces chat
// replies, with an offline responder for deployments without one.
package assistant

import (
	"context"
	"errors"
)

// FallbackMessage is shown when the backend cannot be reached. The user is
// expected to send again; nothing is retried automatically.
const FallbackMessage = "I'm experiencing some technical difficulties right now. Please try again in a moment. 💙"

// ErrBackend is returned for any failed backend exchange.
var ErrBackend = errors.New("assistant backend failed")

// Request is one chat turn sent to the backend.
type Request struct {
	Message  string `json:"message"`
	Name     string `json:"name"`
	AgeRange string `json:"age_range"`
	// Mood is a locally detected hint; backends may ignore it.
	Mood string `json:"mood,omitempty"`
}

// Response is the backend's reply.
type Response struct {
	Text     string `json:"response"`
	IsCrisis bool   `json:"is_crisis,omitempty"`
	Mood     string `json:"mood,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Replier produces a reply for one chat turn.
type Replier interface {
	Reply(ctx context.Context, req Request) (*Response, error)
}
