// Package content holds the canned devotional library: multi-part Bible
// stories, encouragement lines, inactivity check-ins and the rotating
// drop-of-hope verses.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed library.yaml
var embedded []byte

// DropSlot is how long one drop-of-hope verse stays current.
const DropSlot = 45 * time.Second

// FallbackVerse is served when the verse pool is empty.
var FallbackVerse = Verse{
	Reference: "Psalm 34:18",
	Text:      "The Lord is close to the brokenhearted and saves those who are crushed in spirit.",
	Theme:     "comfort",
}

// Story is a scripted story told in parts.
type Story struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Keywords []string `yaml:"keywords" json:"-"`
	Parts    []string `yaml:"parts" json:"parts"`
}

// Verse is a scripture reference with its text.
type Verse struct {
	Reference string `yaml:"reference" json:"reference"`
	Text      string `yaml:"text" json:"verse"`
	Theme     string `yaml:"theme" json:"theme"`
}

// CheckIns are the escalating inactivity lines.
type CheckIns struct {
	First  string `yaml:"first"`
	Second string `yaml:"second"`
	Final  string `yaml:"final"`
}

// Library is the parsed content set. It is read-only after Load.
type Library struct {
	Stories        []Story  `yaml:"stories"`
	Encouragements []string `yaml:"encouragements"`
	CheckIns       CheckIns `yaml:"check_ins"`
	Verses         []Verse  `yaml:"verses"`

	intn func(n int) int
}

// Load parses the embedded library.
func Load() (*Library, error) {
	return Parse(embedded)
}

// Parse decodes and validates a YAML library document.
func Parse(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("decode content library: %w", err)
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	lib.intn = rand.IntN
	return &lib, nil
}

func (l *Library) validate() error {
	if len(l.Stories) == 0 {
		return errors.New("content library has no stories")
	}
	for _, s := range l.Stories {
		if len(s.Parts) == 0 {
			return fmt.Errorf("story %q has no parts", s.ID)
		}
	}
	if len(l.Encouragements) == 0 {
		return errors.New("content library has no encouragements")
	}
	if l.CheckIns.First == "" || l.CheckIns.Second == "" || l.CheckIns.Final == "" {
		return errors.New("content library is missing check-in lines")
	}
	return nil
}

// WithRand returns a copy of the library that picks with intn. Tests use it
// for deterministic selection.
func (l *Library) WithRand(intn func(n int) int) *Library {
	cp := *l
	cp.intn = intn
	return &cp
}

// StoryFor returns the story whose keywords appear in text, or a random story
// when none is named.
func (l *Library) StoryFor(text string) Story {
	lower := strings.ToLower(text)
	for _, s := range l.Stories {
		for _, kw := range s.Keywords {
			if strings.Contains(lower, kw) {
				return s
			}
		}
	}
	return l.Stories[l.intn(len(l.Stories))]
}

// Encouragement returns one random encouragement line.
func (l *Library) Encouragement() string {
	return l.Encouragements[l.intn(len(l.Encouragements))]
}

// VerseAt returns the drop-of-hope verse for the DropSlot window containing t.
func (l *Library) VerseAt(t time.Time) Verse {
	if len(l.Verses) == 0 {
		return FallbackVerse
	}
	slot := t.Unix() / int64(DropSlot/time.Second)
	idx := int(slot % int64(len(l.Verses)))
	if idx < 0 {
		idx += len(l.Verses)
	}
	return l.Verses[idx]
}

// VerseForTheme returns a random verse with the given theme, falling back to
// any verse.
func (l *Library) VerseForTheme(theme string) Verse {
	var matches []Verse
	for _, v := range l.Verses {
		if v.Theme == theme {
			matches = append(matches, v)
		}
	}
	if len(matches) == 0 {
		matches = l.Verses
	}
	if len(matches) == 0 {
		return FallbackVerse
	}
	return matches[l.intn(len(matches))]
}
