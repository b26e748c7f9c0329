package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryOnConflictRetriesBusyErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("exec: SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("constraint failed")
	calls := 0
	err := RetryOnConflict(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected one call returning boom, got %d calls, err %v", calls, err)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("database is locked")
	})
	if !IsSQLiteLockedError(err) || calls != 2 {
		t.Fatalf("expected locked error after 2 calls, got %d calls, err %v", calls, err)
	}
}

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	if IsSQLiteConflictError(nil) {
		t.Fatal("nil is not a conflict")
	}
	if !IsSQLiteConflictError(errors.New("SQLITE_BUSY (5)")) {
		t.Fatal("expected busy to be a conflict")
	}
}

func TestSQLiteErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg            string
		busy, conflict bool
	}{
		{"database is locked (5) (SQLITE_BUSY)", true, true},
		{"database table is locked", false, true},
		{"UNIQUE constraint failed: users.user_id", false, false},
	}
	for _, tt := range tests {
		err := errors.New(tt.msg)
		if got := IsSQLiteBusyError(err); got != tt.busy {
			t.Errorf("IsSQLiteBusyError(%q) = %v", tt.msg, got)
		}
		if got := IsSQLiteConflictError(err); got != tt.conflict {
			t.Errorf("IsSQLiteConflictError(%q) = %v", tt.msg, got)
		}
	}
}
