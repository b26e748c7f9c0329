package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/conversation"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/session"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/transcript"
)

const (
	maxMessageRunes = 2000
	maxNameRunes    = 50
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// AgeRequest is the body of POST /api/age.
type AgeRequest struct {
	AgeRange string `json:"age_range"`
}

// ProfileRequest is the body of POST /api/profile.
type ProfileRequest struct {
	Name     string `json:"name"`
	AgeRange string `json:"age_range"`
}

// ChatResponse wraps a conversation reply. Response joins the messages for
// clients that render a single bubble.
type ChatResponse struct {
	Response string `json:"response"`
	conversation.Reply
}

// SessionResponse is returned by GET /api/session.
type SessionResponse struct {
	State conversation.State `json:"state"`
	conversation.Reply
}

func newChatResponse(reply conversation.Reply) ChatResponse {
	if reply.Messages == nil {
		reply.Messages = []string{}
	}
	return ChatResponse{Response: reply.Text(), Reply: reply}
}

// HandleSession handles GET /api/session: opens or resumes the tab's live
// conversation and returns its state with any opening messages.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}

	live, opening, err := h.registry.Open(r.Context(), key, h.profileFor(r.Context(), key.UserID))
	if err != nil {
		slog.Error("Failed to open session", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	state := live.Conversation.Snapshot()
	if opening.Messages == nil {
		opening.Messages = []string{}
	}
	if state.Stage == conversation.StageAwaitingAge && len(opening.Choices) == 0 {
		opening.Choices = conversation.AgeChoices
	}
	h.logReply(key, "session_opening", opening)
	JSON(w, http.StatusOK, SessionResponse{State: state, Reply: opening})
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		Error(w, http.StatusRequestEntityTooLarge, "message is too long")
		return
	}

	slog.Info("Chat request",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)
	h.log.Log(transcript.Event{
		UserID:     key.UserID,
		SessionID:  key.SessionID,
		Channel:    "chat_http",
		Direction:  transcript.Inbound,
		EventType:  "user_message",
		ContentRaw: req.Message,
	})

	reply, err := h.registry.Dispatch(r.Context(), key, h.profileFor(r.Context(), key.UserID),
		conversation.SendMessage{Text: req.Message})
	if err != nil {
		conversationError(w, err)
		return
	}
	h.logReply(key, "assistant_reply", reply)
	JSON(w, http.StatusOK, newChatResponse(reply))
}

// HandleAge handles POST /api/age.
func (h *Handler) HandleAge(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}

	var req AgeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.registry.Dispatch(r.Context(), key, nil, conversation.SelectAge{Range: req.AgeRange})
	if err != nil {
		conversationError(w, err)
		return
	}
	h.logReply(key, "onboarding_complete", reply)
	JSON(w, http.StatusOK, newChatResponse(reply))
}

// HandleClearSession handles POST /api/clear_session.
func (h *Handler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}

	reply, err := h.registry.Dispatch(r.Context(), key, nil, conversation.ResetConversation{})
	if err != nil {
		conversationError(w, err)
		return
	}
	if live, ok := h.registry.Get(key); ok {
		live.Tracker.Stop()
	}
	slog.Info("Conversation reset", "user_id", key.UserID, "session_id", key.SessionID)
	h.logReply(key, "conversation_reset", reply)
	JSON(w, http.StatusOK, newChatResponse(reply))
}

// HandleProfile handles POST /api/profile. A registered profile skips
// onboarding the next time a tab opens a fresh conversation.
func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}

	var req ProfileRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		Error(w, http.StatusBadRequest, "name must be between 1 and 50 characters")
		return
	}
	ageRange, err := conversation.ParseAgeRange(req.AgeRange)
	if err != nil {
		conversationError(w, err)
		return
	}

	user, err := h.repo.GetUser(r.Context(), key.UserID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	user.DisplayName = name
	user.AgeRange = ageRange
	user.UpdatedAt = h.opts.Clock()
	if err := h.repo.UpsertUser(r.Context(), user); err != nil {
		slog.Error("Failed to save profile", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	slog.Info("Profile registered", "user_id", key.UserID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"name":      name,
		"age_range": ageRange,
	})
}

func (h *Handler) logReply(key session.Key, eventType string, reply conversation.Reply) {
	if len(reply.Messages) == 0 {
		return
	}
	h.log.Log(transcript.Event{
		Timestamp:  time.Now().UTC(),
		UserID:     key.UserID,
		SessionID:  key.SessionID,
		Channel:    "chat_http",
		Direction:  transcript.Outbound,
		EventType:  eventType,
		Stage:      string(reply.Stage),
		Mood:       reply.Mood,
		IsCrisis:   reply.IsCrisis,
		ContentRaw: reply.Text(),
	})
}
