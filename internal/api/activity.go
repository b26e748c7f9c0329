package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/engagement"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/reward"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/session"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/xp"
)

const (
	// maxActivityXP caps the base XP a client may claim for one activity.
	maxActivityXP    = 100
	maxSignalBatch   = 500
	wsReadLimit      = 16 << 10
	wsWriteTimeout   = 5 * time.Second
	alreadyDoneToday = "You've already completed this activity today! Come back tomorrow 🌅"
)

// ActivityStartRequest is the body of POST /api/activity/start.
type ActivityStartRequest struct {
	ActivityType string `json:"activity_type"`
}

// WireSignal is one interaction signal as sent by the browser.
type WireSignal struct {
	Kind  string `json:"kind"`
	Count int    `json:"count,omitempty"`
}

// ActivitySignalRequest is the body of POST /api/activity/signal.
type ActivitySignalRequest struct {
	Signals []WireSignal `json:"signals"`
}

// ActivityCompleteRequest is the body of POST /api/activity/complete.
type ActivityCompleteRequest struct {
	ActivityID string `json:"activity_id"`
	XP         int    `json:"xp"`
	Reflection string `json:"reflection"`
}

// ActivityCompleteResponse reports the reward decision and, when XP was
// awarded, the new account state.
type ActivityCompleteResponse struct {
	Success    bool                         `json:"success"`
	Message    string                       `json:"message"`
	Validation reward.Decision              `json:"validation"`
	Engagement *engagement.FinalizedSession `json:"engagement"`
	XP         *xp.Result                   `json:"xp,omitempty"`
}

func (h *Handler) liveSession(ctx context.Context, key session.Key) (*session.Live, error) {
	live, _, err := h.registry.Open(ctx, key, h.profileFor(ctx, key.UserID))
	return live, err
}

// HandleActivityStart handles POST /api/activity/start.
func (h *Handler) HandleActivityStart(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req ActivityStartRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	activityType := strings.ToLower(strings.TrimSpace(req.ActivityType))
	if activityType == "" {
		Error(w, http.StatusBadRequest, "activity_type is required")
		return
	}

	live, err := h.liveSession(r.Context(), key)
	if err != nil {
		slog.Error("Failed to open session", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	live.Tracker.Start(activityType)
	slog.Info("Activity tracking started", "user_id", key.UserID, "session_id", key.SessionID, "activity_type", activityType)
	JSON(w, http.StatusOK, map[string]interface{}{
		"tracking":       true,
		"activity_type":  activityType,
		"min_reflection": reward.MinReflectionLength(activityType),
	})
}

// HandleActivitySignal handles POST /api/activity/signal with a batch of
// interaction signals.
func (h *Handler) HandleActivitySignal(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req ActivitySignalRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Signals) > maxSignalBatch {
		Error(w, http.StatusRequestEntityTooLarge, "too many signals in one batch")
		return
	}

	signals := make([]engagement.Signal, 0, len(req.Signals))
	for _, ws := range req.Signals {
		sig, err := parseWireSignal(ws)
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		signals = append(signals, sig)
	}

	live, ok := h.registry.Get(key)
	if !ok {
		JSON(w, http.StatusOK, map[string]interface{}{"recorded": 0, "tracking": false})
		return
	}
	_, tracking := live.Tracker.Active()
	for _, sig := range signals {
		live.Tracker.Record(sig)
	}
	recorded := 0
	if tracking {
		recorded = len(signals)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"recorded": recorded, "tracking": tracking})
}

func parseWireSignal(ws WireSignal) (engagement.Signal, error) {
	kind, err := engagement.ParseSignalKind(ws.Kind)
	if err != nil {
		return engagement.Signal{}, err
	}
	return engagement.Signal{Kind: kind, Count: ws.Count}, nil
}

// HandleActivityComplete handles POST /api/activity/complete: it stops the
// tracker, gates the reward on the reflection and engagement score, and
// awards XP once per activity per day.
func (h *Handler) HandleActivityComplete(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req ActivityCompleteRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	activityID := strings.TrimSpace(req.ActivityID)
	if activityID == "" {
		Error(w, http.StatusBadRequest, "activity_id is required")
		return
	}
	if req.XP < 0 {
		Error(w, http.StatusBadRequest, xp.ErrNegativeAmount.Error())
		return
	}
	if req.XP > maxActivityXP {
		req.XP = maxActivityXP
	}

	ledger := h.xp.Ledger(key.UserID)
	done, err := ledger.IsCompletedToday(r.Context(), activityID)
	if err != nil {
		slog.Error("Failed to check daily completion", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load xp")
		return
	}
	if done {
		if live, ok := h.registry.Get(key); ok {
			live.Tracker.Stop()
		}
		summary, err := ledger.Summary(r.Context())
		if err != nil {
			Error(w, http.StatusInternalServerError, "failed to load xp")
			return
		}
		JSON(w, http.StatusOK, ActivityCompleteResponse{
			Message: alreadyDoneToday,
			XP: &xp.Result{
				Total:            summary.Total,
				AlreadyCompleted: true,
				Level:            summary.Level,
				Progress:         summary.Progress,
			},
		})
		return
	}

	var finalized *engagement.FinalizedSession
	if live, ok := h.registry.Get(key); ok {
		finalized, _ = live.Tracker.Stop()
	}
	decision, err := reward.Evaluate(finalized, req.Reflection, req.XP)
	switch {
	case errors.Is(err, engagement.ErrNotTracking):
		Error(w, http.StatusConflict, "no activity is being tracked; start the activity first")
		return
	case errors.Is(err, reward.ErrReflectionTooShort):
		Error(w, http.StatusBadRequest, "Please write a little more in your reflection before completing.")
		return
	case err != nil:
		slog.Error("Reward evaluation failed", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := ActivityCompleteResponse{
		Message:    decision.Feedback,
		Validation: decision,
		Engagement: finalized,
	}
	if !decision.Valid {
		slog.Info("Activity rejected", "user_id", key.UserID, "activity_id", activityID, "score", decision.Score)
		JSON(w, http.StatusOK, resp)
		return
	}

	result, err := ledger.Award(r.Context(), decision.XP, activityID)
	if err != nil {
		slog.Error("Failed to award xp", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to award xp")
		return
	}
	resp.Success = !result.AlreadyCompleted
	if result.AlreadyCompleted {
		resp.Message = alreadyDoneToday
	}
	resp.XP = &result
	JSON(w, http.StatusOK, resp)
}

// HandleXP handles GET /api/xp.
func (h *Handler) HandleXP(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	summary, err := h.xp.Ledger(key.UserID).Summary(r.Context())
	if err != nil {
		slog.Error("Failed to load xp", "user_id", key.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load xp")
		return
	}
	JSON(w, http.StatusOK, summary)
}

// wsMessage is one frame on the activity websocket.
type wsMessage struct {
	Type         string `json:"type"`
	Kind         string `json:"kind,omitempty"`
	Count        int    `json:"count,omitempty"`
	ActivityType string `json:"activity_type,omitempty"`
}

// HandleActivityWebSocket handles GET /ws/activity: a stream of interaction
// signals for the tab's tracked activity.
func (h *Handler) HandleActivityWebSocket(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	live, err := h.liveSession(r.Context(), key)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()
	ws.SetReadLimit(wsReadLimit)

	slog.Info("Activity websocket connected", "user_id", key.UserID, "session_id", key.SessionID)
	h.activityLoop(r.Context(), ws, live)
	slog.Info("Activity websocket ended", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *Handler) activityLoop(ctx context.Context, ws *websocket.Conn, live *session.Live) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", live.Key.UserID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeWS(ws, map[string]string{"type": "error", "error": "invalid message"})
			continue
		}

		switch msg.Type {
		case "signal":
			sig, err := parseWireSignal(WireSignal{Kind: msg.Kind, Count: msg.Count})
			if err != nil {
				h.writeWS(ws, map[string]string{"type": "error", "error": err.Error()})
				continue
			}
			live.Tracker.Record(sig)
		case "start":
			activityType := strings.ToLower(strings.TrimSpace(msg.ActivityType))
			if activityType == "" {
				h.writeWS(ws, map[string]string{"type": "error", "error": "activity_type is required"})
				continue
			}
			live.Tracker.Start(activityType)
			h.writeWS(ws, map[string]string{"type": "started", "activity_type": activityType})
		case "ping":
			h.writeWS(ws, map[string]string{"type": "pong"})
		default:
			h.writeWS(ws, map[string]string{"type": "error", "error": "unknown message type"})
		}
	}
}

func (h *Handler) writeWS(ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write failed", "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}
