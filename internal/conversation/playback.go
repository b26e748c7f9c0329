package conversation

import (
	"context"
	"time"
)

// Line is one scripted assistant message. Gap elapses before the typing
// indicator shows; Typing is how long it shows before Text appears.
type Line struct {
	Gap    time.Duration
	Typing time.Duration
	Text   string
	Source string
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// play emits lines in order, stopping as soon as ctx is cancelled. It
// returns true when every line was delivered.
func (s *Session) play(ctx context.Context, lines []Line) bool {
	for _, line := range lines {
		if !sleepCtx(ctx, line.Gap) {
			return false
		}
		if line.Typing > 0 {
			if !s.emit(ctx, Event{Type: EventTypingStart, Source: line.Source}) {
				return false
			}
			if !sleepCtx(ctx, line.Typing) {
				// Interrupted mid-typing; clear the indicator regardless.
				s.emitAlways(Event{Type: EventTypingStop, Source: line.Source})
				return false
			}
			if !s.emit(ctx, Event{Type: EventTypingStop, Source: line.Source}) {
				return false
			}
		}
		if !s.emitMessage(ctx, line.Text, line.Source) {
			return false
		}
	}
	return true
}

func storyScript(parts []string, p Pacing) []Line {
	lines := make([]Line, 0, len(parts))
	for i, part := range parts {
		gap := p.StoryPartGap
		if i == 0 {
			gap = 0
		}
		lines = append(lines, Line{Gap: gap, Typing: p.TypingPause, Text: part, Source: SourceStory})
	}
	return lines
}
