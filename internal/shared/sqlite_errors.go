// Package shared provides small helpers used by the storage and session layers.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// modernc.org/sqlite reports contention only through the error text.
var (
	busyMarkers   = []string{"SQLITE_BUSY", "database is busy"}
	lockedMarkers = []string{"SQLITE_LOCKED", "database is locked", "database table is locked"}
)

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsSQLiteBusyError reports whether another connection held the write lock
// past the busy timeout.
func IsSQLiteBusyError(err error) bool {
	return containsAny(err, busyMarkers)
}

// IsSQLiteLockedError reports whether a table or the database was locked.
func IsSQLiteLockedError(err error) bool {
	return containsAny(err, lockedMarkers)
}

// IsSQLiteConflictError reports whether err is a contention error worth
// retrying.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
