package xp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
)

type mockStore struct {
	mu      sync.Mutex
	records map[string]*domain.XPRecord
	saves   int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*domain.XPRecord)}
}

func (m *mockStore) GetXPRecord(_ context.Context, userID string) (*domain.XPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := domain.NewXPRecord(userID)
	if stored, ok := m.records[userID]; ok {
		rec.TotalXP = stored.TotalXP
		for k, v := range stored.DailyCompletions {
			rec.DailyCompletions[k] = v
		}
	}
	return rec, nil
}

func (m *mockStore) SaveXPRecord(_ context.Context, rec *domain.XPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := domain.NewXPRecord(rec.UserID)
	cp.TotalXP = rec.TotalXP
	for k, v := range rec.DailyCompletions {
		cp.DailyCompletions[k] = v
	}
	m.records[rec.UserID] = cp
	m.saves++
	return nil
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

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestAwardOncePerDay(t *testing.T) {
	t.Parallel()

	c := &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.Local)}
	ledger := NewBook(newMockStore(), c.Now).Ledger("u1")
	ctx := context.Background()

	res, err := ledger.Award(ctx, 10, "devotion")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if res.Total != 10 || res.Awarded != 10 || res.AlreadyCompleted {
		t.Fatalf("unexpected first award %+v", res)
	}

	done, err := ledger.IsCompletedToday(ctx, "devotion")
	if err != nil || !done {
		t.Fatalf("expected devotion completed today, got %v %v", done, err)
	}

	res, err = ledger.Award(ctx, 10, "devotion")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if res.Total != 10 || !res.AlreadyCompleted || res.Awarded != 0 {
		t.Fatalf("second award should be a no-op, got %+v", res)
	}

	// Local calendar day boundary, not a rolling 24h window.
	c.Set(time.Date(2026, 3, 2, 0, 1, 0, 0, time.Local))
	res, err = ledger.Award(ctx, 10, "devotion")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if res.Total != 20 || res.AlreadyCompleted {
		t.Fatalf("expected payout on the next day, got %+v", res)
	}
}

func TestAwardConcurrentDuplicatesPayOnce(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	book := NewBook(store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := book.Ledger("u1").Award(ctx, 25, "prayer"); err != nil {
				t.Errorf("Award: %v", err)
			}
		}()
	}
	wg.Wait()

	sum, err := book.Ledger("u1").Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 25 {
		t.Fatalf("expected a single payout of 25, got %d", sum.Total)
	}
	if len(sum.CompletedToday) != 1 || sum.CompletedToday[0] != "prayer" {
		t.Fatalf("unexpected completions %v", sum.CompletedToday)
	}
}

func TestAwardWithoutActivityIsUncapped(t *testing.T) {
	t.Parallel()

	ledger := NewBook(newMockStore(), nil).Ledger("u1")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := ledger.Award(ctx, 5, ""); err != nil {
			t.Fatalf("Award: %v", err)
		}
	}
	sum, _ := ledger.Summary(ctx)
	if sum.Total != 15 {
		t.Fatalf("expected 15, got %d", sum.Total)
	}
}

func TestAwardRejectsNegative(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	ledger := NewBook(store, nil).Ledger("u1")
	if _, err := ledger.Award(context.Background(), -5, "x"); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	if store.saves != 0 {
		t.Fatal("negative award must not write")
	}
}

func TestAwardReportsLevelUp(t *testing.T) {
	t.Parallel()

	ledger := NewBook(newMockStore(), nil).Ledger("u1")
	ctx := context.Background()
	res, _ := ledger.Award(ctx, 45, "")
	if res.LeveledUp {
		t.Fatal("45 XP is still Seedling")
	}
	res, _ = ledger.Award(ctx, 10, "")
	if !res.LeveledUp || res.Level.Name != "Disciple" {
		t.Fatalf("expected level up to Disciple, got %+v", res)
	}
}
