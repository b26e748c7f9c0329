package content

import (
	"strings"
	"testing"
	"time"
)

func mustLoad(t *testing.T) *Library {
	t.Helper()
	lib, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return lib
}

func TestEmbeddedLibraryLoads(t *testing.T) {
	t.Parallel()

	lib := mustLoad(t)
	if len(lib.Stories) != 5 {
		t.Fatalf("expected 5 stories, got %d", len(lib.Stories))
	}
	for _, s := range lib.Stories {
		if len(s.Parts) != 3 {
			t.Errorf("story %s has %d parts", s.ID, len(s.Parts))
		}
	}
	if len(lib.Encouragements) != 7 {
		t.Errorf("expected 7 encouragements, got %d", len(lib.Encouragements))
	}
	if !strings.HasPrefix(lib.CheckIns.First, "Still here?") {
		t.Errorf("unexpected first check-in %q", lib.CheckIns.First)
	}
}

func TestStoryForNamedFigure(t *testing.T) {
	t.Parallel()

	lib := mustLoad(t).WithRand(func(int) int { return 0 })
	if got := lib.StoryFor("Moses").ID; got != "moses-red-sea" {
		t.Fatalf("expected the Moses story, got %s", got)
	}
	if got := lib.StoryFor("tell me about Daniel please").ID; got != "daniel-lions-den" {
		t.Fatalf("expected the Daniel story, got %s", got)
	}
	if got := lib.StoryFor("tell me a story").ID; got != lib.Stories[0].ID {
		t.Fatalf("expected the picked story, got %s", got)
	}
}

func TestVerseAtRotatesPerSlot(t *testing.T) {
	t.Parallel()

	lib := mustLoad(t)
	base := time.Unix(45*1000, 0)
	a := lib.VerseAt(base)
	if b := lib.VerseAt(base.Add(44 * time.Second)); b != a {
		t.Fatalf("verse changed within a slot: %v vs %v", a, b)
	}
	if c := lib.VerseAt(base.Add(DropSlot)); c == a {
		t.Fatalf("verse did not rotate after a slot")
	}
}

func TestVerseFallbacks(t *testing.T) {
	t.Parallel()

	lib := mustLoad(t)
	empty := lib.WithRand(func(int) int { return 0 })
	empty.Verses = nil
	if got := empty.VerseAt(time.Now()); got != FallbackVerse {
		t.Fatalf("expected fallback verse, got %v", got)
	}
	if got := empty.VerseForTheme("hope"); got != FallbackVerse {
		t.Fatalf("expected fallback verse, got %v", got)
	}

	if got := lib.VerseForTheme("anxiety"); got.Reference != "1 Peter 5:7" {
		t.Fatalf("expected the only anxiety verse, got %v", got)
	}
}

func TestParseRejectsIncompleteLibrary(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("stories: []\n")); err == nil {
		t.Fatal("expected error for a library without stories")
	}
	if _, err := Parse([]byte("stories: [{id: x, parts: [a]}]\nencouragements: [e]\n")); err == nil {
		t.Fatal("expected error for missing check-ins")
	}
}
