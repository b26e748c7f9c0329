// Package engagement tracks interaction signals during a devotional activity
// and scores how genuine the engagement looked.
package engagement

import (
	"math"
	"time"
)

// FinalizedSession is the packaged result of one tracked activity window.
type FinalizedSession struct {
	ActivityType    string    `json:"activity_type"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMs      int64     `json:"total_time_ms"`
	MouseMovements  int       `json:"mouse_movements"`
	KeyPresses      int       `json:"key_presses"`
	PasteEvents     int       `json:"paste_events"`
	FocusTimeMs     int64     `json:"page_focus_time_ms"`
	BlurCount       int       `json:"page_blur_count"`
	EngagementScore float64   `json:"engagement_score"`
}

// Score computes a heuristic in [0,1] estimating genuine interaction.
// It is advisory: callers decide what score gates a reward.
func Score(s FinalizedSession) float64 {
	score := 0.5

	if s.DurationMs > 30_000 {
		score += 0.2
	}
	if s.DurationMs > 120_000 {
		score += 0.2
	}

	if s.MouseMovements > 10 {
		score += 0.1
	}
	if s.KeyPresses > 20 {
		score += 0.1
	}

	focusRatio := 0.0
	if s.DurationMs > 0 {
		focusRatio = float64(s.FocusTimeMs) / float64(s.DurationMs)
	}
	switch {
	case focusRatio > 0.8:
		score += 0.2
	case focusRatio < 0.5:
		score -= 0.2
	}

	// Pasted reflections and rushed completions are the two gaming signals.
	if s.PasteEvents > 2 {
		score -= 0.3
	}
	if s.DurationMs < 10_000 {
		score -= 0.4
	}

	return clamp01(score)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
