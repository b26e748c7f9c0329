// Package reward decides whether a completed activity earns XP and how much.
package reward

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/engagement"
)

// ErrReflectionTooShort is returned when the written reflection is below the
// activity's minimum length. The caller keeps the user's text.
var ErrReflectionTooShort = errors.New("reflection is too short")

// DefaultMinReflection applies to activities without their own minimum.
const DefaultMinReflection = 15

var minReflection = map[string]int{
	"devotion": 20,
	"prayer":   15,
}

// Authenticity thresholds.
const (
	FullCreditScore    = 0.7
	PartialCreditScore = 0.5
	PartialMultiplier  = 0.8
	MaxMultiplier      = 1.5
)

// MinReflectionLength returns the minimum reflection length for activityType.
func MinReflectionLength(activityType string) int {
	if n, ok := minReflection[activityType]; ok {
		return n
	}
	return DefaultMinReflection
}

// Decision is the outcome of evaluating a completed activity.
type Decision struct {
	Valid      bool     `json:"is_valid"`
	Score      float64  `json:"authenticity_score"`
	Multiplier float64  `json:"xp_multiplier"`
	XP         int      `json:"xp"`
	Feedback   string   `json:"feedback_message"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Evaluate validates the reflection and turns the engagement score of the
// finished session into an XP amount. baseXP is what a fully authentic
// completion earns before the multiplier.
func Evaluate(session *engagement.FinalizedSession, reflection string, baseXP int) (Decision, error) {
	if session == nil {
		return Decision{}, engagement.ErrNotTracking
	}

	minLen := MinReflectionLength(session.ActivityType)
	if n := utf8.RuneCountInString(strings.TrimSpace(reflection)); n < minLen {
		return Decision{}, fmt.Errorf("%w: %d of %d characters", ErrReflectionTooShort, n, minLen)
	}

	d := Decision{Score: session.EngagementScore}
	switch {
	case d.Score >= FullCreditScore:
		d.Valid = true
		d.Multiplier = math.Min(MaxMultiplier, d.Score+0.3)
		d.Feedback = "Authentic spiritual engagement detected! 🌟"
	case d.Score >= PartialCreditScore:
		d.Valid = true
		d.Multiplier = PartialMultiplier
		d.Feedback = "Activity completed. Consider deeper reflection next time."
		d.Warnings = append(d.Warnings, "Low engagement detected")
	default:
		d.Feedback = "Please take more time for genuine spiritual reflection."
		d.Warnings = append(d.Warnings, "Insufficient authentic engagement")
	}

	if session.PasteEvents > 2 {
		d.Warnings = append(d.Warnings, "Pasted content detected")
	}
	if d.Valid {
		d.XP = int(math.Round(float64(baseXP) * d.Multiplier))
	}
	return d, nil
}
