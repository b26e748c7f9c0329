package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/mood"
)

const (
	maxJournalRunes     = 5000
	defaultJournalLimit = 50
	maxJournalLimit     = 200
	neutralMood         = "neutral"
)

// JournalRequest is the body of POST /api/save_journal.
type JournalRequest struct {
	Content string `json:"content"`
}

// SupportRequest is the body of POST /api/support/save.
type SupportRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Verse   string `json:"verse"`
	Mood    string `json:"mood"`
}

// PreferencesRequest is the body of PUT /api/preferences.
type PreferencesRequest struct {
	SpeechEnabled *bool `json:"speech_enabled"`
}

// HandleSaveJournal handles POST /api/save_journal. The entry is tagged with
// the mood detected in its text.
func (h *Handler) HandleSaveJournal(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req JournalRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Content)
	if text == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if utf8.RuneCountInString(text) > maxJournalRunes {
		Error(w, http.StatusRequestEntityTooLarge, "journal entry is too long")
		return
	}

	tag := neutralMood
	if m, ok := mood.Classify(text); ok {
		tag = string(m)
	}
	entry := &domain.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    key.UserID,
		Content:   text,
		Mood:      tag,
		CreatedAt: h.opts.Clock(),
	}
	if err := h.repo.AddJournalEntry(r.Context(), entry); err != nil {
		slog.Error("Failed to save journal entry", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save journal entry")
		return
	}
	slog.Info("Journal entry saved", "user_id", key.UserID, "mood", tag)
	JSON(w, http.StatusCreated, map[string]interface{}{"success": true, "entry": entry})
}

// HandleGetJournal handles GET /api/get_journal?limit=N.
func (h *Handler) HandleGetJournal(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := h.repo.ListJournalEntries(r.Context(), key.UserID, limit)
	if err != nil {
		slog.Error("Failed to list journal entries", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load journal")
		return
	}
	if entries == nil {
		entries = []*domain.JournalEntry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// HandleSaveSupport handles POST /api/support/save. Only the newest
// domain.MaxSupportEntries entries are kept.
func (h *Handler) HandleSaveSupport(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req SupportRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Content)
	if text == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if utf8.RuneCountInString(text) > maxJournalRunes {
		Error(w, http.StatusRequestEntityTooLarge, "support entry is too long")
		return
	}
	moodTag := strings.ToLower(strings.TrimSpace(req.Mood))
	if moodTag != "" && !mood.Valid(mood.Mood(moodTag)) {
		moodTag = ""
	}

	entry := &domain.SupportEntry{
		ID:        uuid.NewString(),
		UserID:    key.UserID,
		Title:     strings.TrimSpace(req.Title),
		Content:   text,
		Verse:     strings.TrimSpace(req.Verse),
		Mood:      moodTag,
		CreatedAt: h.opts.Clock(),
	}
	if entry.Title == "" {
		entry.Title = "Spiritual support"
	}
	if err := h.repo.AddSupportEntry(r.Context(), entry); err != nil {
		slog.Error("Failed to save support entry", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save support entry")
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"success": true, "entry": entry})
}

// HandleListSupport handles GET /api/support.
func (h *Handler) HandleListSupport(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	entries, err := h.repo.ListSupportEntries(r.Context(), key.UserID)
	if err != nil {
		slog.Error("Failed to list support entries", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load support entries")
		return
	}
	if entries == nil {
		entries = []*domain.SupportEntry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// HandleSupportResources handles GET /api/support/resources?mood=sad.
func (h *Handler) HandleSupportResources(w http.ResponseWriter, r *http.Request) {
	m := mood.Mood(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mood"))))
	JSON(w, http.StatusOK, map[string]interface{}{
		"mood":      m,
		"resources": mood.SupportResources(m),
	})
}

// HandleGetPreferences handles GET /api/preferences.
func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	prefs, err := h.repo.GetPreferences(r.Context(), key.UserID)
	if err != nil {
		slog.Error("Failed to load preferences", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	JSON(w, http.StatusOK, prefs)
}

// HandlePutPreferences handles PUT /api/preferences.
func (h *Handler) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req PreferencesRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.SpeechEnabled == nil {
		Error(w, http.StatusBadRequest, "speech_enabled is required")
		return
	}
	prefs := &domain.Preferences{
		UserID:        key.UserID,
		SpeechEnabled: *req.SpeechEnabled,
		UpdatedAt:     h.opts.Clock(),
	}
	if err := h.repo.SavePreferences(r.Context(), prefs); err != nil {
		slog.Error("Failed to save preferences", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	JSON(w, http.StatusOK, prefs)
}

// DropOfHope is the rotating verse payload.
type DropOfHope struct {
	content.Verse
	NextInSeconds int `json:"next_in_seconds"`
}

// HandleDropOfHope handles GET /api/drop_of_hope: the verse for the current
// rotation slot.
func (h *Handler) HandleDropOfHope(w http.ResponseWriter, _ *http.Request) {
	now := h.opts.Clock()
	slot := int64(content.DropSlot / time.Second)
	next := slot - now.Unix()%slot
	JSON(w, http.StatusOK, DropOfHope{Verse: h.lib.VerseAt(now), NextInSeconds: int(next)})
}
