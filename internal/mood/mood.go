// Package mood classifies free text into a small fixed set of emotional tags.
package mood

import "strings"

// Mood is an emotional category detected from free text.
type Mood string

const (
	Sad      Mood = "sad"
	Anxious  Mood = "anxious"
	Lonely   Mood = "lonely"
	Grateful Mood = "grateful"
	Angry    Mood = "angry"
	Hopeful  Mood = "hopeful"
)

type moodKeywords struct {
	mood     Mood
	keywords []string
}

// table order is the tie-break order: the first mood reaching the highest
// hit count wins.
var table = []moodKeywords{
	{Sad, []string{"sad", "down", "cry", "hurt", "depressed", "upset"}},
	{Anxious, []string{"anxious", "nervous", "worried", "scared", "afraid"}},
	{Lonely, []string{"lonely", "alone", "abandoned", "isolated"}},
	{Grateful, []string{"grateful", "thankful", "blessed", "appreciate"}},
	{Angry, []string{"angry", "mad", "furious", "annoyed"}},
	{Hopeful, []string{"hope", "hopeful", "optimistic", "positive"}},
}

// Order returns the moods in tie-break order.
func Order() []Mood {
	out := make([]Mood, len(table))
	for i, e := range table {
		out[i] = e.mood
	}
	return out
}

// Classify returns the mood with the most keyword substring hits in text.
// Ties keep the mood that comes first in Order. The boolean is false when no
// keyword matched.
func Classify(text string) (Mood, bool) {
	lower := strings.ToLower(text)

	var best Mood
	bestHits := 0
	for _, e := range table {
		hits := 0
		for _, kw := range e.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = e.mood
			bestHits = hits
		}
	}
	if bestHits == 0 {
		return "", false
	}
	return best, true
}

// Valid reports whether m is one of the known moods.
func Valid(m Mood) bool {
	for _, e := range table {
		if e.mood == m {
			return true
		}
	}
	return false
}
