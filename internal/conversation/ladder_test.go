package conversation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLadderFiresEveryRungFromOneAnchor(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fired []string
	l := NewLadder([]Rung{
		{Name: "first", After: 10 * time.Millisecond},
		{Name: "second", After: 20 * time.Millisecond},
		{Name: "final", After: 30 * time.Millisecond},
	}, nil, &wg, func(_ context.Context, r Rung) {
		mu.Lock()
		fired = append(fired, r.Name)
		mu.Unlock()
	})

	l.Arm(context.Background(), time.Now())
	time.Sleep(100 * time.Millisecond)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(fired, ",") != "first,second,final" {
		t.Fatalf("unexpected firing order %v", fired)
	}
}

func TestLadderCancelIsIdempotent(t *testing.T) {
	var wg sync.WaitGroup
	var count atomic.Int32
	l := NewLadder([]Rung{
		{Name: "first", After: 20 * time.Millisecond},
		{Name: "second", After: 30 * time.Millisecond},
	}, nil, &wg, func(context.Context, Rung) { count.Add(1) })

	l.Cancel()
	l.Arm(context.Background(), time.Now())
	l.Cancel()
	l.Cancel()
	wg.Wait()

	time.Sleep(60 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatalf("cancelled rungs fired %d times", count.Load())
	}
	if l.Armed() {
		t.Fatal("ladder still armed after Cancel")
	}
}

func TestLadderRearmReplacesPendingSet(t *testing.T) {
	var wg sync.WaitGroup
	var count atomic.Int32
	l := NewLadder([]Rung{{Name: "first", After: 30 * time.Millisecond}}, nil, &wg,
		func(context.Context, Rung) { count.Add(1) })

	for i := 0; i < 5; i++ {
		l.Arm(context.Background(), time.Now())
	}
	time.Sleep(80 * time.Millisecond)
	wg.Wait()

	if got := count.Load(); got != 1 {
		t.Fatalf("expected exactly one firing, got %d", got)
	}
}

func TestCheckInSequence(t *testing.T) {
	p := fastPacing()
	p.InactivityFirst = 10 * time.Millisecond
	p.InactivitySecond = 60 * time.Millisecond
	p.InactivityFinal = 120 * time.Millisecond
	s, rec := newTestSession(t, &fakeReplier{text: "Peace be with you."}, p)
	onboard(t, s)

	if _, err := s.ReceiveInput(context.Background(), "hello"); err != nil {
		t.Fatalf("ReceiveInput: %v", err)
	}

	checkIns := rec.waitMessages(t, SourceCheckIn, 3)
	want := []string{
		"Still here? I'm just a whisper away.",
		"Take your time. I'm still here whenever you're ready.",
		"I'll go quiet for now... but I'm still right here when you need me.",
	}
	for i, w := range want {
		if checkIns[i] != w {
			t.Errorf("check-in %d = %q, want %q", i, checkIns[i], w)
		}
	}
	if enc := rec.waitMessages(t, SourceEncouragement, 3); !strings.HasPrefix(enc[0], "Isaiah 41:10") {
		t.Errorf("unexpected encouragement %q", enc[0])
	}

	rec.mu.Lock()
	first := rec.events[0]
	rec.mu.Unlock()
	if first.Type != EventTypingStart || first.Source != SourceCheckIn {
		t.Errorf("expected typing before the first check-in, got %+v", first)
	}
}

func TestCheckInSuppressedAfterQuestion(t *testing.T) {
	p := fastPacing()
	p.InactivityFirst = 5 * time.Millisecond
	p.InactivitySecond = 10 * time.Millisecond
	p.InactivityFinal = 15 * time.Millisecond
	s, rec := newTestSession(t, &fakeReplier{text: "What is on your heart today?"}, p)
	onboard(t, s)

	if _, err := s.ReceiveInput(context.Background(), "hello"); err != nil {
		t.Fatalf("ReceiveInput: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	rec.mu.Lock()
	n := len(rec.events)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no check-ins after a question, got %d events", n)
	}
}

func TestNewSendCancelsPendingCheckIns(t *testing.T) {
	p := fastPacing()
	p.InactivityFirst = 200 * time.Millisecond
	s, rec := newTestSession(t, &fakeReplier{text: "Peace be with you."}, p)
	onboard(t, s)
	ctx := context.Background()

	if _, err := s.ReceiveInput(ctx, "hello"); err != nil {
		t.Fatalf("ReceiveInput: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := s.ReceiveInput(ctx, "still here"); err != nil {
		t.Fatalf("ReceiveInput: %v", err)
	}

	// 260ms after the first send: its check-in would have fired by now.
	time.Sleep(140 * time.Millisecond)
	if got := rec.messages(SourceCheckIn); len(got) != 0 {
		t.Fatalf("stale check-in fired after a fresh send: %v", got)
	}

	rec.waitMessages(t, SourceCheckIn, 1)
}

func TestResetInterruptsStory(t *testing.T) {
	p := fastPacing()
	p.StoryPartGap = 150 * time.Millisecond
	s, rec := newTestSession(t, &fakeReplier{text: "ok"}, p)
	onboard(t, s)

	if _, err := s.ReceiveInput(context.Background(), "tell me a story"); err != nil {
		t.Fatalf("ReceiveInput: %v", err)
	}
	rec.waitMessages(t, SourceStory, 1)

	if _, err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	if got := rec.messages(SourceStory); len(got) != 1 {
		t.Fatalf("story kept playing after reset: %d parts", len(got))
	}
	if s.Snapshot().Stage != StageAwaitingName {
		t.Fatal("expected awaiting_name after reset")
	}
}

func TestLooksLikeQuestion(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"":                         false,
		"Peace be with you.":       false,
		"Would you like a prayer?": true,
		"Tell me what happened.":   true,
		"HOW wonderful":            true,
		"Why not rest a while.":    true,
		"God is with you always.":  false,
	}
	for msg, want := range tests {
		if got := looksLikeQuestion(msg); got != want {
			t.Errorf("looksLikeQuestion(%q) = %v, want %v", msg, got, want)
		}
	}
}
