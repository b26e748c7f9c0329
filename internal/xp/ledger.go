package xp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
)

// DayLayout formats the local calendar day used for daily completions.
const DayLayout = "2006-01-02"

// ErrNegativeAmount is returned when an award would decrease the total.
var ErrNegativeAmount = errors.New("xp amount must not be negative")

// Store is the persistence the ledger needs.
type Store interface {
	GetXPRecord(ctx context.Context, userID string) (*domain.XPRecord, error)
	SaveXPRecord(ctx context.Context, rec *domain.XPRecord) error
}

// Book hands out per-user ledgers that share one store and one clock.
// Check-and-write sequences for the same user are serialized.
type Book struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBook creates a Book. A nil clock uses time.Now.
func NewBook(store Store, now func() time.Time) *Book {
	if now == nil {
		now = time.Now
	}
	return &Book{store: store, now: now, locks: make(map[string]*sync.Mutex)}
}

// Ledger returns the ledger for userID.
func (b *Book) Ledger(userID string) *Ledger {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[userID] = lock
	}
	return &Ledger{book: b, userID: userID, lock: lock}
}

// Ledger is one user's XP account.
type Ledger struct {
	book   *Book
	userID string
	lock   *sync.Mutex
}

// Result is the outcome of an award.
type Result struct {
	Total            int      `json:"total_xp"`
	Awarded          int      `json:"xp_earned"`
	AlreadyCompleted bool     `json:"already_completed"`
	Level            Level    `json:"level"`
	Progress         Progress `json:"progress"`
	LeveledUp        bool     `json:"leveled_up"`
}

func (l *Ledger) today() string {
	return l.book.now().Format(DayLayout)
}

// Award adds amount to the total. When activityID is non-empty the activity
// pays out at most once per local calendar day; a repeat on the same day
// leaves the total unchanged and reports AlreadyCompleted.
func (l *Ledger) Award(ctx context.Context, amount int, activityID string) (Result, error) {
	if amount < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	rec, err := l.book.store.GetXPRecord(ctx, l.userID)
	if err != nil {
		return Result{}, fmt.Errorf("load xp record: %w", err)
	}

	day := l.today()
	if activityID != "" && rec.CompletedOn(activityID, day) {
		slog.Debug("XP already awarded today", "user_id", l.userID, "activity_id", activityID)
		return Result{
			Total:            rec.TotalXP,
			AlreadyCompleted: true,
			Level:            LevelFor(rec.TotalXP),
			Progress:         ProgressToNextLevel(rec.TotalXP),
		}, nil
	}

	before := LevelFor(rec.TotalXP)
	rec.TotalXP += amount
	if activityID != "" {
		rec.DailyCompletions[activityID] = day
	}
	if err := l.book.store.SaveXPRecord(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("save xp record: %w", err)
	}

	after := LevelFor(rec.TotalXP)
	slog.Info("XP awarded",
		"user_id", l.userID,
		"activity_id", activityID,
		"amount", amount,
		"total", rec.TotalXP,
	)
	return Result{
		Total:     rec.TotalXP,
		Awarded:   amount,
		Level:     after,
		Progress:  ProgressToNextLevel(rec.TotalXP),
		LeveledUp: after.Name != before.Name,
	}, nil
}

// IsCompletedToday reports whether activityID already paid out today.
func (l *Ledger) IsCompletedToday(ctx context.Context, activityID string) (bool, error) {
	rec, err := l.book.store.GetXPRecord(ctx, l.userID)
	if err != nil {
		return false, fmt.Errorf("load xp record: %w", err)
	}
	return rec.CompletedOn(activityID, l.today()), nil
}

// Summary is a read-only view of the account for display.
type Summary struct {
	Total          int      `json:"total_xp"`
	Level          Level    `json:"level"`
	Progress       Progress `json:"progress"`
	CompletedToday []string `json:"completed_today"`
}

// Summary loads the current total with its derived level.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	rec, err := l.book.store.GetXPRecord(ctx, l.userID)
	if err != nil {
		return Summary{}, fmt.Errorf("load xp record: %w", err)
	}
	day := l.today()
	done := make([]string, 0, len(rec.DailyCompletions))
	for activityID, d := range rec.DailyCompletions {
		if d == day {
			done = append(done, activityID)
		}
	}
	sort.Strings(done)
	return Summary{
		Total:          rec.TotalXP,
		Level:          LevelFor(rec.TotalXP),
		Progress:       ProgressToNextLevel(rec.TotalXP),
		CompletedToday: done,
	}, nil
}
