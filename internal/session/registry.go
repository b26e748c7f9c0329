// Package session keeps the live conversation and activity tracker for each
// (user, tab) pair, persists conversation state and sweeps idle sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/assistant"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/conversation"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/engagement"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/shared"
)

const (
	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond

	// StaleRecordTTL is how long persisted state outlives its last update.
	StaleRecordTTL = 7 * 24 * time.Hour
)

// Store is the persistence the registry needs.
type Store interface {
	GetConversation(ctx context.Context, userID, sessionID string) (*domain.ConversationRecord, error)
	UpsertConversation(ctx context.Context, rec *domain.ConversationRecord) error
	DeleteConversation(ctx context.Context, userID, sessionID string) error
	CleanupStaleConversations(ctx context.Context, ttl time.Duration) (int64, error)
}

// EmitterFactory returns the event sink for one tab.
type EmitterFactory func(userID, sessionID string) conversation.Emitter

// Key identifies one browser tab of one user.
type Key struct {
	UserID    string
	SessionID string
}

// Live bundles the per-tab state machines.
type Live struct {
	Key          Key
	Conversation *conversation.Session
	Tracker      *engagement.Tracker
}

// Config configures a Registry.
type Config struct {
	Replier  assistant.Replier
	Library  *content.Library
	Pacing   conversation.Pacing
	IdleTTL  time.Duration
	Emitters EmitterFactory
	// OnClose runs after a live session is swept or closed.
	OnClose  func(Key)
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Registry owns all live sessions.
type Registry struct {
	repo Store
	cfg  Config

	mu   sync.Mutex
	live map[Key]*Live
}

// NewRegistry creates an empty registry.
func NewRegistry(repo Store, cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{repo: repo, cfg: cfg, live: make(map[Key]*Live)}
}

// Open returns the live session for key, creating it if needed. A new session
// resumes persisted state when there is any; otherwise it starts fresh, with
// profile skipping onboarding. The returned reply holds the opening messages
// for a newly created session and is empty for an existing one.
func (r *Registry) Open(ctx context.Context, key Key, profile *conversation.Profile) (*Live, conversation.Reply, error) {
	r.mu.Lock()
	if l, ok := r.live[key]; ok {
		r.mu.Unlock()
		return l, conversation.Reply{Stage: l.Conversation.Snapshot().Stage}, nil
	}
	r.mu.Unlock()

	rec, err := r.repo.GetConversation(ctx, key.UserID, key.SessionID)
	if err != nil {
		return nil, conversation.Reply{}, fmt.Errorf("load conversation: %w", err)
	}

	l := r.newLive(key)
	var opening conversation.Reply
	switch {
	case rec != nil && (profile == nil || rec.Stage == string(conversation.StageChat)):
		l.Conversation.Restore(stateFromRecord(rec))
		opening = l.Conversation.Opening()
	default:
		opening = l.Conversation.Start(profile)
	}

	r.mu.Lock()
	if existing, ok := r.live[key]; ok {
		// Lost a creation race; keep the first one.
		r.mu.Unlock()
		l.Conversation.Close()
		return existing, conversation.Reply{Stage: existing.Conversation.Snapshot().Stage}, nil
	}
	r.live[key] = l
	r.mu.Unlock()

	r.persist(ctx, l)
	r.cfg.Logger.Info("Session opened",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"stage", opening.Stage,
		"resumed", rec != nil,
	)
	return l, opening, nil
}

func (r *Registry) newLive(key Key) *Live {
	var emitter conversation.Emitter
	if r.cfg.Emitters != nil {
		emitter = r.cfg.Emitters(key.UserID, key.SessionID)
	}
	return &Live{
		Key: key,
		Conversation: conversation.New(conversation.Options{
			UserID:    key.UserID,
			SessionID: key.SessionID,
			Replier:   r.cfg.Replier,
			Library:   r.cfg.Library,
			Emitter:   emitter,
			Pacing:    r.cfg.Pacing,
			Clock:     r.cfg.Clock,
			Logger:    r.cfg.Logger,
		}),
		Tracker: engagement.NewTracker(r.cfg.Clock),
	}
}

// Get returns the live session for key without creating one.
func (r *Registry) Get(key Key) (*Live, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.live[key]
	return l, ok
}

// Dispatch runs action on the session for key, opening it if needed, and
// persists the resulting state.
func (r *Registry) Dispatch(ctx context.Context, key Key, profile *conversation.Profile, action conversation.Action) (conversation.Reply, error) {
	l, _, err := r.Open(ctx, key, profile)
	if err != nil {
		return conversation.Reply{}, err
	}
	reply, err := l.Conversation.Dispatch(ctx, action)
	if err != nil {
		return reply, err
	}
	r.persist(ctx, l)
	return reply, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) persist(ctx context.Context, l *Live) {
	rec := recordFromState(l.Key, l.Conversation.Snapshot())
	err := shared.RetryOnConflict(ctx, persistAttempts, persistBackoff, func() error {
		return r.repo.UpsertConversation(ctx, rec)
	})
	if err != nil {
		r.cfg.Logger.Warn("Failed to persist conversation state",
			"user_id", l.Key.UserID,
			"session_id", l.Key.SessionID,
			"error", err,
		)
	}
}

// lastActive is the later of the last conversation action and the last
// signal of a tracked activity.
func (l *Live) lastActive() time.Time {
	last := l.Conversation.LastActive()
	if sig, ok := l.Tracker.LastSignal(); ok && sig.After(last) {
		return sig
	}
	return last
}

// retire stores the final state of a swept session. A tab that never got
// past the name prompt has nothing worth resuming, so its record is dropped.
func (r *Registry) retire(ctx context.Context, l *Live) {
	st := l.Conversation.Snapshot()
	if st.Stage != conversation.StageAwaitingName || st.UserName != "" {
		r.persist(ctx, l)
		return
	}
	err := shared.RetryOnConflict(ctx, persistAttempts, persistBackoff, func() error {
		return r.repo.DeleteConversation(ctx, l.Key.UserID, l.Key.SessionID)
	})
	if err != nil {
		r.cfg.Logger.Warn("Failed to drop abandoned conversation",
			"user_id", l.Key.UserID,
			"session_id", l.Key.SessionID,
			"error", err,
		)
	}
}

// Sweep closes live sessions idle for longer than the configured TTL and
// drops persisted state untouched for StaleRecordTTL. It returns the number
// of live sessions closed.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.cfg.Clock().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*Live
	for key, l := range r.live {
		if l.lastActive().Before(cutoff) {
			idle = append(idle, l)
			delete(r.live, key)
		}
	}
	r.mu.Unlock()

	for _, l := range idle {
		r.retire(ctx, l)
		l.Conversation.Close()
		l.Tracker.Stop()
		if r.cfg.OnClose != nil {
			r.cfg.OnClose(l.Key)
		}
		r.cfg.Logger.Debug("Idle session closed", "user_id", l.Key.UserID, "session_id", l.Key.SessionID)
	}
	if len(idle) > 0 {
		r.cfg.Logger.Info("Session sweeper closed idle sessions", "count", len(idle))
	}

	if deleted, err := r.repo.CleanupStaleConversations(ctx, StaleRecordTTL); err != nil {
		r.cfg.Logger.Error("Session sweeper failed to clean up stale conversations", "error", err)
	} else if deleted > 0 {
		r.cfg.Logger.Info("Session sweeper removed stale conversations", "count", deleted)
	}
	return len(idle)
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.cfg.Logger.Info("Session sweeper started", "interval", interval, "idle_ttl", r.cfg.IdleTTL)

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-ctx.Done():
				r.cfg.Logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Close persists and closes every live session.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Live, 0, len(r.live))
	for key, l := range r.live {
		all = append(all, l)
		delete(r.live, key)
	}
	r.mu.Unlock()

	for _, l := range all {
		r.persist(ctx, l)
		l.Conversation.Close()
		if r.cfg.OnClose != nil {
			r.cfg.OnClose(l.Key)
		}
	}
}

func stateFromRecord(rec *domain.ConversationRecord) conversation.State {
	return conversation.State{
		Stage:                conversation.Stage(rec.Stage),
		UserName:             rec.UserName,
		AgeGroup:             rec.AgeGroup,
		Mood:                 rec.Mood,
		LastUserMessage:      rec.LastUserMessage,
		LastAssistantMessage: rec.LastAssistantMessage,
		LastUserInputTime:    rec.LastUserInputTime,
	}
}

func recordFromState(key Key, st conversation.State) *domain.ConversationRecord {
	return &domain.ConversationRecord{
		UserID:               key.UserID,
		SessionID:            key.SessionID,
		Stage:                string(st.Stage),
		UserName:             st.UserName,
		AgeGroup:             st.AgeGroup,
		Mood:                 st.Mood,
		LastUserMessage:      st.LastUserMessage,
		LastAssistantMessage: st.LastAssistantMessage,
		LastUserInputTime:    st.LastUserInputTime,
	}
}
