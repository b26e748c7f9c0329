package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/conversation"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/identity"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/transcript"
)

// HubConfig configures the SSE hub.
type HubConfig struct {
	// Buffer is the capacity of the inbound event channel.
	Buffer            int
	ReplaySize        int
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	Transcripts       TranscriptLogger
}

// envelope is one conversation event addressed to a tab.
type envelope struct {
	UserID    string
	SessionID string
	Event     conversation.Event
}

type sseConnection struct {
	id        int64
	userID    string
	sessionID string
	w         http.ResponseWriter
	flusher   http.Flusher
	done      chan struct{}
	mu        sync.Mutex
	lastID    int64
}

// replayQueue buffers events per tab so a reconnecting EventSource can catch
// up from its Last-Event-ID. One tab's burst cannot evict another tab's events.
type replayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

type queuedEvent struct {
	id    int64
	event conversation.Event
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &replayQueue{queues: make(map[string]*list.List), maxSize: maxSize}
}

func (q *replayQueue) enqueue(key string, id int64, ev conversation.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(&queuedEvent{id: id, event: ev})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *replayQueue) after(key string, afterID int64) []*queuedEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()
	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var missed []*queuedEvent
	for e := l.Front(); e != nil; e = e.Next() {
		if qe := e.Value.(*queuedEvent); qe.id > afterID {
			missed = append(missed, qe)
		}
	}
	return missed
}

func (q *replayQueue) prune(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, key)
}

// Hub fans conversation events out to SSE connections.
type Hub struct {
	cfg    HubConfig
	events chan envelope
	queue  *replayQueue

	connsMu sync.RWMutex
	conns   map[string]map[int64]*sseConnection

	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func streamKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Transcripts == nil {
		cfg.Transcripts = noopTranscript{}
	}
	h := &Hub{
		cfg:    cfg,
		events: make(chan envelope, cfg.Buffer),
		queue:  newReplayQueue(cfg.ReplaySize),
		conns:  make(map[string]map[int64]*sseConnection),
		done:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Emitter returns the event sink for one tab. Emit never blocks: events are
// dropped when the hub is saturated or closed.
func (h *Hub) Emitter(userID, sessionID string) conversation.Emitter {
	return conversation.EmitterFunc(func(ev conversation.Event) {
		select {
		case <-h.done:
			return
		default:
		}
		select {
		case h.events <- envelope{UserID: userID, SessionID: sessionID, Event: ev}:
		default:
			slog.Warn("[BROADCAST] Event buffer full, dropping event",
				"user_id", userID,
				"session_id", sessionID,
				"type", ev.Type,
			)
		}
	})
}

// Forget drops the replay buffer of a tab whose live session ended.
func (h *Hub) Forget(userID, sessionID string) {
	h.queue.prune(streamKey(userID, sessionID))
}

// Connections returns the number of open SSE connections for a tab.
func (h *Hub) Connections(userID, sessionID string) int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns[streamKey(userID, sessionID)])
}

// Close stops the broadcast loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.wg.Wait()
}

func (h *Hub) nextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	slog.Info("[BROADCAST] Broadcast loop started")
	for {
		select {
		case <-h.done:
			slog.Info("[BROADCAST] Broadcast loop shutting down")
			return
		case env := <-h.events:
			h.broadcast(env)
		}
	}
}

func (h *Hub) broadcast(env envelope) {
	if env.Event.Type == conversation.EventMessage {
		h.cfg.Transcripts.Log(transcript.Event{
			UserID:     env.UserID,
			SessionID:  env.SessionID,
			Channel:    "sse",
			Direction:  transcript.Outbound,
			EventType:  "assistant_" + env.Event.Source,
			ContentRaw: env.Event.Text,
		})
	}

	eventID := h.nextEventID()
	key := streamKey(env.UserID, env.SessionID)
	h.queue.enqueue(key, eventID, env.Event)

	h.connsMu.RLock()
	tabConns, ok := h.conns[key]
	if !ok {
		h.connsMu.RUnlock()
		slog.Debug("[BROADCAST] No connections for session, queued for replay",
			"user_id", env.UserID,
			"session_id", env.SessionID,
		)
		return
	}
	// Snapshot connections to avoid holding RLock during writes.
	conns := make([]*sseConnection, 0, len(tabConns))
	for _, c := range tabConns {
		conns = append(conns, c)
	}
	h.connsMu.RUnlock()

	for _, c := range conns {
		h.send(c, eventID, env.Event)
	}
}

func (h *Hub) send(c *sseConnection, eventID int64, ev conversation.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	if eventID <= c.lastID {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("[SEND] Failed to marshal SSE event", "error", err, "conn_id", c.id)
		return
	}
	if err := writeSSEWithID(c.w, eventID, "message", string(data)); err != nil {
		slog.Warn("[SEND] Failed to write to SSE connection",
			"error", err,
			"conn_id", c.id,
			"user_id", c.userID,
		)
		return
	}
	c.flusher.Flush()
	c.lastID = eventID
}

// HandleStream handles GET /api/stream: the server-sent event stream of
// asynchronous assistant events for the calling tab. A Last-Event-ID header
// (or lastEventId query param) replays events the client missed.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	key := streamKey(userID, sessionID)

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID",
				"user_id", userID,
				"session_id", sessionID,
				"last_event_id", lastEventID,
			)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	h.counterMu.Lock()
	h.connectionID++
	connID := h.connectionID
	h.counterMu.Unlock()

	conn := &sseConnection{
		id:        connID,
		userID:    userID,
		sessionID: sessionID,
		w:         w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}

	// Hold the connection lock across registration and replay so live events
	// cannot overtake replayed ones.
	conn.mu.Lock()
	h.connsMu.Lock()
	if _, exists := h.conns[key]; !exists {
		h.conns[key] = make(map[int64]*sseConnection)
	}
	h.conns[key][connID] = conn
	h.connsMu.Unlock()

	defer func() {
		h.connsMu.Lock()
		if tabConns, exists := h.conns[key]; exists {
			delete(tabConns, connID)
			if len(tabConns) == 0 {
				delete(h.conns, key)
			}
		}
		h.connsMu.Unlock()
		conn.mu.Lock()
		close(conn.done)
		conn.mu.Unlock()
		slog.Info("SSE connection closed", "user_id", userID, "session_id", sessionID, "conn_id", connID)
	}()

	if lastEventID > 0 {
		missed := h.queue.after(key, lastEventID)
		if len(missed) > 0 {
			slog.Info("Sending missed events", "user_id", userID, "session_id", sessionID, "count", len(missed))
		}
		for _, qe := range missed {
			data, err := json.Marshal(qe.event)
			if err != nil {
				continue
			}
			if err := writeSSEWithID(w, qe.id, "message", string(data)); err != nil {
				conn.mu.Unlock()
				return
			}
			conn.lastID = qe.id
		}
	}

	connectedData := fmt.Sprintf(`{"status":"connected","session_id":%q}`, sessionID)
	if err := writeSSE(w, "connected", connectedData); err != nil {
		conn.mu.Unlock()
		slog.Warn("failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()
	conn.mu.Unlock()

	slog.Info("SSE connection established",
		"user_id", userID,
		"session_id", sessionID,
		"conn_id", connID,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				slog.Warn("failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
