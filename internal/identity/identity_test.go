package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
)

type memUsers struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	touched  int
	upserted int
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.UserID] = &cp
	m.upserted++
	return nil
}

func (m *memUsers) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	m.touched++
	return nil
}

func TestMiddlewareIssuesCookieAndCreatesUser(t *testing.T) {
	t.Parallel()

	repo := newMemUsers()
	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(gotUser) {
		t.Fatalf("unexpected user id %q", gotUser)
	}
	if gotSession != "tab-1" {
		t.Fatalf("expected session tab-1, got %q", gotSession)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatal("dev cookie should not be Secure")
	}
	u, _ := repo.GetUser(context.Background(), gotUser)
	if u == nil || u.Username != deriveUsername(gotUser) {
		t.Fatalf("user not created: %+v", u)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	repo := newMemUsers()
	id := "anon_0123456789abcdef0123456789abcdef"
	_ = repo.UpsertUser(context.Background(), &domain.User{UserID: id, LastSeenAt: time.Now()})

	var gotUser string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/xp", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser != id {
		t.Fatalf("expected cookie id reused, got %q", gotUser)
	}
	if repo.upserted != 1 || repo.touched != 0 {
		t.Fatalf("recently seen user should not be written: upserted=%d touched=%d", repo.upserted, repo.touched)
	}
}

func TestEnsureUserRefreshesStaleLastSeen(t *testing.T) {
	t.Parallel()

	repo := newMemUsers()
	id := "anon_ffffffffffffffffffffffffffffffff"
	_ = repo.UpsertUser(context.Background(), &domain.User{UserID: id, LastSeenAt: time.Now().Add(-time.Hour)})

	if err := ensureUser(context.Background(), repo, id); err != nil {
		t.Fatal(err)
	}
	if repo.touched != 1 {
		t.Fatalf("expected last_seen refresh, got %d", repo.touched)
	}
}

func TestSessionIDSanitized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultSessionIDValue},
		{"  tab-7 ", "tab-7"},
		{"../../etc", DefaultSessionIDValue},
		{"a b", DefaultSessionIDValue},
	}
	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionIDFromQuery(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/stream?session_id=tab-9", nil)
	if got := sessionIDFromRequest(req); got != "tab-9" {
		t.Fatalf("expected tab-9, got %q", got)
	}
}
