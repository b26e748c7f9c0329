package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/assistant"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/conversation"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/engagement"
)

type mockStore struct {
	mu      sync.Mutex
	records map[Key]*domain.ConversationRecord
	cleaned int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[Key]*domain.ConversationRecord)}
}

func (m *mockStore) GetConversation(_ context.Context, userID, sessionID string) (*domain.ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[Key{userID, sessionID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) UpsertConversation(_ context.Context, rec *domain.ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[Key{rec.UserID, rec.SessionID}] = &cp
	return nil
}

func (m *mockStore) DeleteConversation(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, Key{userID, sessionID})
	return nil
}

func (m *mockStore) CleanupStaleConversations(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned++
	return 0, nil
}

func (m *mockStore) get(key Key) *domain.ConversationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key]
}

type stubReplier struct{}

func (stubReplier) Reply(context.Context, assistant.Request) (*assistant.Response, error) {
	return &assistant.Response{Text: "Grace and peace."}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, repo Store, c *clock) *Registry {
	t.Helper()
	lib, err := content.Load()
	if err != nil {
		t.Fatalf("content.Load: %v", err)
	}
	reg := NewRegistry(repo, Config{
		Replier: stubReplier{},
		Library: lib,
		IdleTTL: 30 * time.Minute,
		Clock:   c.Now,
		Pacing: conversation.Pacing{
			InactivityFirst:  time.Hour,
			InactivitySecond: 2 * time.Hour,
			InactivityFinal:  3 * time.Hour,
		},
	})
	t.Cleanup(func() { reg.Close(context.Background()) })
	return reg
}

func TestOpenStartsAndPersists(t *testing.T) {
	t.Parallel()

	repo := newMockStore()
	reg := newTestRegistry(t, repo, &clock{now: time.Now()})
	key := Key{UserID: "u1", SessionID: "tab-1"}

	l, opening, err := reg.Open(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opening.Stage != conversation.StageAwaitingName || len(opening.Messages) != 1 {
		t.Fatalf("unexpected opening %+v", opening)
	}
	if rec := repo.get(key); rec == nil || rec.Stage != string(conversation.StageAwaitingName) {
		t.Fatalf("expected persisted record, got %+v", rec)
	}

	again, reply, err := reg.Open(context.Background(), key, nil)
	if err != nil || again != l {
		t.Fatalf("expected the same live session, got %v %v", again, err)
	}
	if len(reply.Messages) != 0 {
		t.Fatalf("existing sessions have no opening messages, got %+v", reply)
	}
}

func TestDispatchPersistsAndResumes(t *testing.T) {
	t.Parallel()

	repo := newMockStore()
	c := &clock{now: time.Now()}
	key := Key{UserID: "u1", SessionID: "tab-1"}
	ctx := context.Background()

	reg := newTestRegistry(t, repo, c)
	if _, err := reg.Dispatch(ctx, key, nil, conversation.SendMessage{Text: "Ruth"}); err != nil {
		t.Fatalf("Dispatch name: %v", err)
	}
	if _, err := reg.Dispatch(ctx, key, nil, conversation.SelectAge{Range: "18-30"}); err != nil {
		t.Fatalf("Dispatch age: %v", err)
	}
	if rec := repo.get(key); rec.Stage != "chat" || rec.UserName != "Ruth" {
		t.Fatalf("unexpected persisted record %+v", rec)
	}

	// A fresh registry, as after a restart, resumes the stored stage.
	reg2 := newTestRegistry(t, repo, c)
	l, opening, err := reg2.Open(ctx, key, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opening.Stage != conversation.StageChat || l.Conversation.Snapshot().AgeGroup != "18-30" {
		t.Fatalf("expected resumed chat, got %+v", opening)
	}
}

func TestProfileSkipsOnboardingForUnfinishedRecord(t *testing.T) {
	t.Parallel()

	repo := newMockStore()
	key := Key{UserID: "u1", SessionID: "tab-1"}
	_ = repo.UpsertConversation(context.Background(), &domain.ConversationRecord{
		UserID: "u1", SessionID: "tab-1", Stage: string(conversation.StageAwaitingAge), UserName: "R",
	})

	reg := newTestRegistry(t, repo, &clock{now: time.Now()})
	_, opening, err := reg.Open(context.Background(), key, &conversation.Profile{Name: "Ruth", AgeRange: "51+"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opening.Stage != conversation.StageChat {
		t.Fatalf("expected profile to skip onboarding, got %s", opening.Stage)
	}
}

func TestSweepClosesIdleSessions(t *testing.T) {
	t.Parallel()

	repo := newMockStore()
	c := &clock{now: time.Now()}
	reg := newTestRegistry(t, repo, c)
	ctx := context.Background()

	idle := Key{UserID: "u1", SessionID: "old"}
	if _, err := reg.Dispatch(ctx, idle, nil, conversation.SendMessage{Text: "Ruth"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	c.Advance(20 * time.Minute)
	fresh := Key{UserID: "u1", SessionID: "new"}
	if _, _, err := reg.Open(ctx, fresh, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.Advance(15 * time.Minute)

	if n := reg.Sweep(ctx); n != 1 {
		t.Fatalf("expected one idle session closed, got %d", n)
	}
	if _, ok := reg.Get(idle); ok {
		t.Fatal("idle session still live")
	}
	if _, ok := reg.Get(fresh); !ok {
		t.Fatal("fresh session was swept")
	}
	if repo.get(idle) == nil {
		t.Fatal("sweeping must keep persisted state")
	}
	if repo.cleaned != 1 {
		t.Fatalf("expected stale cleanup to run once, ran %d", repo.cleaned)
	}
}

func TestSweepDropsAbandonedOnboarding(t *testing.T) {
	t.Parallel()

	repo := newMockStore()
	c := &clock{now: time.Now()}
	reg := newTestRegistry(t, repo, c)
	ctx := context.Background()

	key := Key{UserID: "u1", SessionID: "tab-1"}
	if _, _, err := reg.Open(ctx, key, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if repo.get(key) == nil {
		t.Fatal("expected the opening state to be persisted")
	}
	c.Advance(time.Hour)

	if n := reg.Sweep(ctx); n != 1 {
		t.Fatalf("expected one session closed, got %d", n)
	}
	if rec := repo.get(key); rec != nil {
		t.Fatalf("expected abandoned record dropped, got %+v", rec)
	}
}

func TestSweepKeepsSessionsWithTrackedActivity(t *testing.T) {
	t.Parallel()

	repo := newMockStore()
	c := &clock{now: time.Now()}
	reg := newTestRegistry(t, repo, c)
	ctx := context.Background()

	busy := Key{UserID: "u1", SessionID: "devotion"}
	l, _, err := reg.Open(ctx, busy, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Tracker.Start("devotion")
	abandoned := Key{UserID: "u1", SessionID: "abandoned"}
	stale, _, err := reg.Open(ctx, abandoned, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stale.Tracker.Start("prayer")

	for i := 0; i < 40; i++ {
		c.Advance(time.Minute)
		l.Tracker.Record(engagement.Signal{Kind: engagement.SignalKeyPress})
	}

	if n := reg.Sweep(ctx); n != 1 {
		t.Fatalf("expected only the abandoned tab swept, got %d", n)
	}
	if _, ok := reg.Get(busy); !ok {
		t.Fatal("tab with a tracked activity was swept")
	}
	if _, ok := l.Tracker.Active(); !ok {
		t.Fatal("tracked activity was discarded")
	}
	if _, ok := reg.Get(abandoned); ok {
		t.Fatal("tab with no signals for longer than the idle TTL is still live")
	}
}

func TestCloseNotifiesOnClose(t *testing.T) {
	t.Parallel()

	lib, err := content.Load()
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var closed []Key
	reg := NewRegistry(newMockStore(), Config{
		Replier: stubReplier{},
		Library: lib,
		IdleTTL: time.Minute,
		OnClose: func(k Key) {
			mu.Lock()
			closed = append(closed, k)
			mu.Unlock()
		},
	})

	key := Key{UserID: "u2", SessionID: "tab"}
	if _, _, err := reg.Open(context.Background(), key, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	reg.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 1 || closed[0] != key {
		t.Fatalf("expected OnClose for %v, got %v", key, closed)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected no live sessions, got %d", reg.Len())
	}
}
