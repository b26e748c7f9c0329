package reward

import (
	"errors"
	"strings"
	"testing"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/engagement"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	reflection := "God met me in the quiet this morning."
	tests := []struct {
		name      string
		score     float64
		baseXP    int
		wantValid bool
		wantMult  float64
		wantXP    int
	}{
		{"high authenticity", 1.0, 20, true, 1.3, 26},
		{"bonus never reaches the cap", 1.0, 100, true, 1.3, 130},
		{"bonus below cap", 0.8, 20, true, 1.1, 22},
		{"threshold", 0.7, 10, true, 1.0, 10},
		{"partial credit", 0.6, 20, true, 0.8, 16},
		{"rejected", 0.3, 20, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := &engagement.FinalizedSession{ActivityType: "devotion", EngagementScore: tt.score}
			d, err := Evaluate(fs, reflection, tt.baseXP)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Valid != tt.wantValid || d.XP != tt.wantXP {
				t.Fatalf("got valid=%v xp=%d, want valid=%v xp=%d", d.Valid, d.XP, tt.wantValid, tt.wantXP)
			}
			if diff := d.Multiplier - tt.wantMult; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("multiplier %v, want %v", d.Multiplier, tt.wantMult)
			}
		})
	}
}

func TestEvaluateShortReflection(t *testing.T) {
	t.Parallel()

	fs := &engagement.FinalizedSession{ActivityType: "devotion", EngagementScore: 1}
	_, err := Evaluate(fs, "  too short  ", 10)
	if !errors.Is(err, ErrReflectionTooShort) {
		t.Fatalf("expected ErrReflectionTooShort, got %v", err)
	}

	// prayer uses the shorter default minimum
	fs.ActivityType = "prayer"
	if _, err := Evaluate(fs, strings.Repeat("a", 15), 10); err != nil {
		t.Fatalf("15 characters should pass for prayer: %v", err)
	}
}

func TestEvaluateWithoutSession(t *testing.T) {
	t.Parallel()

	if _, err := Evaluate(nil, "a long enough reflection", 10); !errors.Is(err, engagement.ErrNotTracking) {
		t.Fatalf("expected ErrNotTracking, got %v", err)
	}
}

func TestEvaluateWarnsOnPaste(t *testing.T) {
	t.Parallel()

	fs := &engagement.FinalizedSession{ActivityType: "journal", EngagementScore: 0.9, PasteEvents: 4}
	d, err := Evaluate(fs, "a long enough reflection", 10)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	found := false
	for _, w := range d.Warnings {
		if w == "Pasted content detected" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected paste warning, got %v", d.Warnings)
	}
}
