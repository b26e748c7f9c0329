package domain

// XPRecord holds a user's XP total and, per activity, the last calendar date
// (YYYY-MM-DD) that activity paid out.
type XPRecord struct {
	UserID           string            `json:"-"`
	TotalXP          int               `json:"total_xp"`
	DailyCompletions map[string]string `json:"daily_completions"`
}

// NewXPRecord returns an empty record for userID.
func NewXPRecord(userID string) *XPRecord {
	return &XPRecord{UserID: userID, DailyCompletions: make(map[string]string)}
}

// CompletedOn reports whether activityID paid out on day.
func (r *XPRecord) CompletedOn(activityID, day string) bool {
	return r.DailyCompletions[activityID] == day
}
