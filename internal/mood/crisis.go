package mood

import (
	"regexp"
	"strings"
)

// CrisisResponse is sent instead of an assistant reply when a message shows
// signs of immediate danger.
const CrisisResponse = `Hey friend, I hear you and what you're feeling really matters. You're not alone in this moment, but I need you to reach out to someone who can help you right now.

**IMMEDIATE HELP:**
**Crisis Text Line:** Text HOME to **741741**
**National Suicide Prevention Lifeline:** **988**
**International:** https://www.iasp.info/resources/Crisis_Centres/

**If you're in immediate danger, please call 911 (US) or your local emergency number.**

I'm here to support you, but I can't replace real-time human help. You matter way too much, and there are people trained to walk through this darkness with you.

*Remember: I'm not a licensed counselor, therapist, or doctor - I'm here to support, not replace professional help.*`

var positiveIndicators = []string{
	"thank you", "thanks", "helped", "helping", "better", "good", "great",
	"feel better", "feeling better", "appreciate", "grateful", "blessed",
	"improving", "progress", "hope", "hopeful", "encouraged", "uplifting",
	"this help", "this helped", "working", "awesome", "amazing",
}

var highSeverityPhrases = []string{
	"kill myself", "end my life", "want to die", "going to hurt myself",
	"planning suicide", "better off dead", "going to end it", "final goodbye",
}

var severePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bi\s+want\s+to\s+die\b`),
	regexp.MustCompile(`\bkill\s+me\s+now\b`),
	regexp.MustCompile(`\bend\s+it\s+all\s+tonight\b`),
	regexp.MustCompile(`\bgive\s+up\s+on\s+life\s+now\b`),
	regexp.MustCompile(`\bno\s+reason\s+to\s+live\s+anymore\b`),
}

var punctuation = regexp.MustCompile(`[^\w\s]`)

var mildDistressPhrases = []string{
	"struggling", "difficult time", "hard day", "feeling down",
	"overwhelmed", "stressed out", "having trouble", "going through",
	"tough situation", "challenging", "difficult", "rough patch",
}

// DetectCrisis reports whether text contains high-severity crisis language.
// Any positive indicator suppresses detection.
func DetectCrisis(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range positiveIndicators {
		if strings.Contains(lower, p) {
			return false
		}
	}

	cleaned := punctuation.ReplaceAllString(lower, " ")
	for _, phrase := range highSeverityPhrases {
		if strings.Contains(cleaned, phrase) {
			return true
		}
	}
	for _, re := range severePatterns {
		if re.MatchString(cleaned) {
			return true
		}
	}
	return false
}

// IsMildDistress reports whether text needs gentle support without crisis
// intervention.
func IsMildDistress(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range mildDistressPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var supportResources = map[string][]string{
	"general": {
		"Remember: You're never alone in this journey",
		"Consider reading Psalms when you need comfort",
		"Prayer is always available - God listens 24/7",
		"Reach out to a trusted friend or family member",
	},
	"anxiety": {
		"Try deep breathing: 4 counts in, hold for 4, out for 4",
		"Read Philippians 4:6-7 about not being anxious",
		"Listen to calming worship music",
		"Take a gentle walk outside if possible",
	},
	"sadness": {
		"It's okay to feel sad - even Jesus wept",
		"Psalm 34:18 - God is close to the brokenhearted",
		"Call someone who cares about you",
		"Journal your feelings to God",
	},
}

// SupportResources returns practical suggestions for a detected mood.
func SupportResources(m Mood) []string {
	key := "general"
	switch m {
	case Anxious:
		key = "anxiety"
	case Sad, Lonely:
		key = "sadness"
	}
	src := supportResources[key]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
