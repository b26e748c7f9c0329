// Package api provides HTTP handlers for the companion API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/conversation"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/identity"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/session"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/store"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/transcript"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/xp"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// TranscriptLogger records conversation lines.
type TranscriptLogger interface {
	Log(ev transcript.Event)
}

type noopTranscript struct{}

func (noopTranscript) Log(transcript.Event) {}

// Options configures a Handler.
type Options struct {
	MaxRequestBodySize int64
	AllowedOrigin      string
	IsDev              bool
	Transcripts        TranscriptLogger
	Clock              func() time.Time
}

// Handler serves the companion API.
type Handler struct {
	repo     store.Repository
	registry *session.Registry
	hub      *Hub
	xp       *xp.Book
	lib      *content.Library
	log      TranscriptLogger
	opts     Options
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *session.Registry, hub *Hub, book *xp.Book, lib *content.Library, opts Options) *Handler {
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if opts.Transcripts == nil {
		opts.Transcripts = noopTranscript{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Handler{
		repo:     repo,
		registry: registry,
		hub:      hub,
		xp:       book,
		lib:      lib,
		log:      opts.Transcripts,
		opts:     opts,
	}
}

// RegisterRoutes registers the API routes. Identity middleware must already
// be installed on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Get("/session", h.HandleSession)
		r.Post("/chat", h.HandleChat)
		r.Post("/age", h.HandleAge)
		r.Post("/clear_session", h.HandleClearSession)
		r.Get("/stream", h.hub.HandleStream)
		r.Post("/profile", h.HandleProfile)

		r.Post("/activity/start", h.HandleActivityStart)
		r.Post("/activity/signal", h.HandleActivitySignal)
		r.Post("/activity/complete", h.HandleActivityComplete)
		r.Get("/xp", h.HandleXP)

		r.Post("/save_journal", h.HandleSaveJournal)
		r.Get("/get_journal", h.HandleGetJournal)
		r.Post("/support/save", h.HandleSaveSupport)
		r.Get("/support", h.HandleListSupport)
		r.Get("/support/resources", h.HandleSupportResources)

		r.Get("/preferences", h.HandleGetPreferences)
		r.Put("/preferences", h.HandlePutPreferences)
		r.Get("/drop_of_hope", h.HandleDropOfHope)
	})
	r.Get("/ws/activity", h.HandleActivityWebSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v and writes the error
// response itself when it fails.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// sessionKey returns the identity of the calling tab. It writes 401 and
// returns false when the request carries no identity.
func sessionKey(w http.ResponseWriter, r *http.Request) (session.Key, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return session.Key{}, false
	}
	return session.Key{UserID: userID, SessionID: identity.SessionIDFromContext(r.Context())}, true
}

// profileFor returns the registered profile for userID, if any.
func (h *Handler) profileFor(ctx context.Context, userID string) *conversation.Profile {
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load user profile", "user_id", userID, "error", err)
		return nil
	}
	if user == nil || !user.HasProfile() {
		return nil
	}
	return &conversation.Profile{Name: user.DisplayName, AgeRange: user.AgeRange}
}

// conversationError maps conversation sentinels to HTTP responses.
func conversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrBusy):
		Error(w, http.StatusConflict, "I'm still answering your last message. One moment please 💙")
	case errors.Is(err, conversation.ErrInvalidAgeRange):
		Error(w, http.StatusBadRequest, "Please choose one of the age groups offered.")
	case errors.Is(err, conversation.ErrWrongStage):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrUnknownAction):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrClosed):
		Error(w, http.StatusServiceUnavailable, "session expired, please retry")
	default:
		slog.Error("Conversation action failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
