package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/domain"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db             *sql.DB
	conversationMu sync.Mutex // serializes conversation writes to prevent SQLITE_BUSY
	xpMu           sync.Mutex // serializes multi-statement XP writes
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		age_range TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		age_group TEXT NOT NULL DEFAULT '',
		mood TEXT NOT NULL DEFAULT '',
		last_user_message TEXT NOT NULL DEFAULT '',
		last_assistant_message TEXT NOT NULL DEFAULT '',
		last_user_input_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS xp_totals (
		user_id TEXT PRIMARY KEY,
		total_xp INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_completions (
		user_id TEXT NOT NULL,
		activity_id TEXT NOT NULL,
		completed_on TEXT NOT NULL,
		PRIMARY KEY (user_id, activity_id)
	);

	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		mood TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_user ON journal_entries(user_id, created_at);

	CREATE TABLE IF NOT EXISTS support_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		verse TEXT NOT NULL DEFAULT '',
		mood TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_support_user ON support_entries(user_id, created_at);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		speech_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, age_range,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Username, &user.DisplayName, &user.AgeRange,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, display_name, age_range, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		display_name = excluded.display_name,
		age_range = excluded.age_range,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.DisplayName, user.AgeRange,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetConversation retrieves conversation state for a tab session.
func (s *SQLiteStore) GetConversation(ctx context.Context, userID, sessionID string) (*domain.ConversationRecord, error) {
	query := `
		SELECT user_id, session_id, stage, user_name, age_group, mood,
		       last_user_message, last_assistant_message, last_user_input_at,
		       created_at, updated_at
		FROM conversations WHERE user_id = ? AND session_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, sessionID)

	var rec domain.ConversationRecord
	var lastInput sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.UserID, &rec.SessionID, &rec.Stage, &rec.UserName, &rec.AgeGroup, &rec.Mood,
		&rec.LastUserMessage, &rec.LastAssistantMessage, &lastInput,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	if lastInput.Valid {
		ts := time.UnixMilli(lastInput.Int64)
		rec.LastUserInputTime = &ts
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// UpsertConversation creates or updates conversation state.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	query := `
		INSERT INTO conversations (
			user_id, session_id, stage, user_name, age_group, mood,
			last_user_message, last_assistant_message, last_user_input_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			stage = excluded.stage,
			user_name = excluded.user_name,
			age_group = excluded.age_group,
			mood = excluded.mood,
			last_user_message = excluded.last_user_message,
			last_assistant_message = excluded.last_assistant_message,
			last_user_input_at = excluded.last_user_input_at,
			updated_at = excluded.updated_at`

	var lastInput interface{}
	if rec.LastUserInputTime != nil {
		lastInput = rec.LastUserInputTime.UnixMilli()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.SessionID, rec.Stage, rec.UserName, rec.AgeGroup, rec.Mood,
		rec.LastUserMessage, rec.LastAssistantMessage, lastInput,
		createdAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes conversation state.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, userID, sessionID string) error {
	return shared.RetryOnConflict(ctx, 3, 100*time.Millisecond, func() error {
		s.conversationMu.Lock()
		defer s.conversationMu.Unlock()

		_, err := s.db.ExecContext(ctx,
			`DELETE FROM conversations WHERE user_id = ? AND session_id = ?`, userID, sessionID)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// CleanupStaleConversations removes conversations older than ttl.
func (s *SQLiteStore) CleanupStaleConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale conversations: %w", err)
	}
	return result.RowsAffected()
}

// GetXPRecord retrieves XP state for a user.
func (s *SQLiteStore) GetXPRecord(ctx context.Context, userID string) (*domain.XPRecord, error) {
	rec := domain.NewXPRecord(userID)

	err := s.db.QueryRowContext(ctx,
		`SELECT total_xp FROM xp_totals WHERE user_id = ?`, userID,
	).Scan(&rec.TotalXP)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan xp total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT activity_id, completed_on FROM daily_completions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query daily completions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close daily completion rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var activityID, day string
		if err := rows.Scan(&activityID, &day); err != nil {
			return nil, fmt.Errorf("scan daily completion: %w", err)
		}
		rec.DailyCompletions[activityID] = day
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily completions: %w", err)
	}

	return rec, nil
}

// SaveXPRecord writes the total and all daily completions in one transaction.
func (s *SQLiteStore) SaveXPRecord(ctx context.Context, rec *domain.XPRecord) error {
	s.xpMu.Lock()
	defer s.xpMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin xp transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back xp transaction", "error", rbErr)
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO xp_totals (user_id, total_xp, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_xp = excluded.total_xp,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.TotalXP, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert xp total: %w", err)
	}

	for activityID, day := range rec.DailyCompletions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_completions (user_id, activity_id, completed_on) VALUES (?, ?, ?)
			ON CONFLICT(user_id, activity_id) DO UPDATE SET completed_on = excluded.completed_on`,
			rec.UserID, activityID, day,
		)
		if err != nil {
			return fmt.Errorf("upsert daily completion %s: %w", activityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit xp transaction: %w", err)
	}
	return nil
}

// AddJournalEntry stores a journal entry.
func (s *SQLiteStore) AddJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (id, user_id, content, mood, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Content, entry.Mood, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// ListJournalEntries returns up to limit entries, newest first. limit <= 0 means all.
func (s *SQLiteStore) ListJournalEntries(ctx context.Context, userID string, limit int) ([]*domain.JournalEntry, error) {
	query := `
		SELECT id, user_id, content, mood, created_at
		FROM journal_entries WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close journal rows", "error", closeErr)
		}
	}()

	var entries []*domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.Mood, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

// AddSupportEntry stores a support entry and trims the list to the newest
// domain.MaxSupportEntries.
func (s *SQLiteStore) AddSupportEntry(ctx context.Context, entry *domain.SupportEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin support transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back support transaction", "error", rbErr)
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO support_entries (id, user_id, title, content, verse, mood, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Title, entry.Content, entry.Verse, entry.Mood,
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert support entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM support_entries
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM support_entries WHERE user_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`,
		entry.UserID, entry.UserID, domain.MaxSupportEntries,
	)
	if err != nil {
		return fmt.Errorf("trim support entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit support transaction: %w", err)
	}
	return nil
}

// ListSupportEntries returns support entries, newest first.
func (s *SQLiteStore) ListSupportEntries(ctx context.Context, userID string) ([]*domain.SupportEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, verse, mood, created_at
		FROM support_entries WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query support entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close support rows", "error", closeErr)
		}
	}()

	var entries []*domain.SupportEntry
	for rows.Next() {
		var e domain.SupportEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &e.Verse, &e.Mood, &createdAt); err != nil {
			return nil, fmt.Errorf("scan support entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate support entries: %w", err)
	}
	return entries, nil
}

// GetPreferences returns saved preferences, or defaults when none exist.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	prefs := domain.DefaultPreferences(userID)
	var speech int
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT speech_enabled, updated_at FROM preferences WHERE user_id = ?`, userID,
	).Scan(&speech, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan preferences: %w", err)
	}
	prefs.SpeechEnabled = speech != 0
	prefs.UpdatedAt = time.Unix(updatedAt, 0)
	return prefs, nil
}

// SavePreferences persists preferences.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs *domain.Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, speech_enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			speech_enabled = excluded.speech_enabled,
			updated_at = excluded.updated_at`,
		prefs.UserID, prefs.SpeechEnabled, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
