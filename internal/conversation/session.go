package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/assistant"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/mood"
)

// Pacing controls the scripted delays.
type Pacing struct {
	InactivityFirst  time.Duration
	InactivitySecond time.Duration
	InactivityFinal  time.Duration
	TypingPause      time.Duration
	EncourageDelay   time.Duration
	StoryPartGap     time.Duration
}

// DefaultPacing returns the production delays.
func DefaultPacing() Pacing {
	return Pacing{
		InactivityFirst:  90 * time.Second,
		InactivitySecond: 300 * time.Second,
		InactivityFinal:  600 * time.Second,
		TypingPause:      2 * time.Second,
		EncourageDelay:   time.Second,
		StoryPartGap:     3 * time.Second,
	}
}

// Options configures a Session.
type Options struct {
	UserID    string
	SessionID string
	Replier   assistant.Replier
	Library   *content.Library
	Emitter   Emitter
	Pacing    Pacing
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Session is one live conversation. All methods are safe for concurrent use.
type Session struct {
	userID    string
	sessionID string
	replier   assistant.Replier
	lib       *content.Library
	emitter   Emitter
	pacing    Pacing
	now       func() time.Time
	logger    *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	ladder *Ladder

	mu         sync.Mutex
	state      State
	busy       bool
	gen        uint64
	playCancel context.CancelFunc
	closed     bool
	lastActive time.Time
}

// New creates a session in the awaiting_name stage. Call Start or Restore
// before dispatching actions. Library is required.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Emitter == nil {
		opts.Emitter = EmitterFunc(func(Event) {})
	}
	if opts.Pacing == (Pacing{}) {
		opts.Pacing = DefaultPacing()
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Session{
		userID:     opts.UserID,
		sessionID:  opts.SessionID,
		replier:    opts.Replier,
		lib:        opts.Library,
		emitter:    opts.Emitter,
		pacing:     opts.Pacing,
		now:        opts.Clock,
		logger:     opts.Logger.With("user_id", opts.UserID, "session_id", opts.SessionID),
		ctx:        ctx,
		stop:       stop,
		state:      State{Stage: StageAwaitingName},
		lastActive: opts.Clock(),
	}

	checkIns := opts.Library.CheckIns
	s.ladder = NewLadder([]Rung{
		{Name: "first", After: opts.Pacing.InactivityFirst, Text: checkIns.First},
		{Name: "second", After: opts.Pacing.InactivitySecond, Text: checkIns.Second},
		{Name: "final", After: opts.Pacing.InactivityFinal, Text: checkIns.Final},
	}, opts.Clock, &s.wg, s.checkIn)
	return s
}

// Start begins a fresh conversation. A complete profile skips onboarding and
// is greeted by name; otherwise the user is asked for their name.
func (s *Session) Start(profile *Profile) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interruptLocked()
	s.gen++
	s.lastActive = s.now()

	if profile != nil && strings.TrimSpace(profile.Name) != "" {
		if age, err := ParseAgeRange(profile.AgeRange); err == nil {
			msg := fmt.Sprintf(greetingFmt, greetingFor(s.now()), strings.TrimSpace(profile.Name))
			s.state = State{
				Stage:                StageChat,
				UserName:             strings.TrimSpace(profile.Name),
				AgeGroup:             age,
				LastAssistantMessage: msg,
			}
			return Reply{Messages: []string{msg}, Stage: StageChat}
		}
	}

	s.state = State{Stage: StageAwaitingName, LastAssistantMessage: namePrompt}
	return Reply{Messages: []string{namePrompt}, Stage: StageAwaitingName}
}

// Restore loads persisted state without emitting anything.
func (s *Session) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.Stage.Valid() {
		st = State{Stage: StageAwaitingName}
	}
	s.state = st
}

// Opening returns the message a returning tab should show for the current
// stage.
func (s *Session) Opening() Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Reply
	switch s.state.Stage {
	case StageAwaitingAge:
		r = Reply{Messages: []string{fmt.Sprintf(agePromptFmt, s.state.UserName)}, Choices: ageChoices()}
	case StageChat:
		r = Reply{Messages: []string{fmt.Sprintf(resumeChatFmt, s.state.UserName)}}
	default:
		r = Reply{Messages: []string{namePrompt}}
	}
	s.state.LastAssistantMessage = r.Messages[0]
	r.Stage = s.state.Stage
	return r
}

// Dispatch runs one user action.
func (s *Session) Dispatch(ctx context.Context, a Action) (Reply, error) {
	switch a := a.(type) {
	case SendMessage:
		return s.ReceiveInput(ctx, a.Text)
	case SelectAge:
		return s.SelectAgeRange(a.Range)
	case ResetConversation:
		return s.Reset()
	default:
		return Reply{}, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
}

// ReceiveInput handles one typed message according to the current stage.
// Whitespace-only input is ignored.
func (s *Session) ReceiveInput(ctx context.Context, text string) (Reply, error) {
	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Reply{}, ErrClosed
	}
	if trimmed == "" {
		r := Reply{Stage: s.state.Stage}
		s.mu.Unlock()
		return r, nil
	}
	if s.busy {
		s.mu.Unlock()
		return Reply{}, ErrBusy
	}

	s.beginUserTurnLocked(trimmed)

	switch s.state.Stage {
	case StageAwaitingName:
		s.state.UserName = trimmed
		s.state.Stage = StageAwaitingAge
		msg := fmt.Sprintf(agePromptFmt, trimmed)
		s.state.LastAssistantMessage = msg
		s.mu.Unlock()
		s.logger.Info("Name collected, awaiting age")
		return Reply{Messages: []string{msg}, Choices: ageChoices(), Stage: StageAwaitingAge}, nil

	case StageAwaitingAge:
		s.state.LastAssistantMessage = ageReminder
		s.mu.Unlock()
		return Reply{Messages: []string{ageReminder}, Choices: ageChoices(), Stage: StageAwaitingAge}, nil
	}

	moodTag := ""
	if m, ok := mood.Classify(trimmed); ok {
		moodTag = string(m)
		s.state.Mood = moodTag
	}

	if mood.DetectCrisis(trimmed) {
		s.state.LastAssistantMessage = mood.CrisisResponse
		s.armLocked()
		s.mu.Unlock()
		s.logger.Warn("Crisis language detected; backend bypassed")
		return Reply{Messages: []string{mood.CrisisResponse}, IsCrisis: true, Mood: moodTag, Stage: StageChat}, nil
	}

	if IsStoryRequest(trimmed) {
		story := s.lib.StoryFor(trimmed)
		s.startPlaybackLocked(storyScript(story.Parts, s.pacing))
		s.mu.Unlock()
		s.logger.Info("Story playback started", "story", story.ID)
		return Reply{Story: story.ID, Mood: moodTag, Stage: StageChat}, nil
	}

	s.busy = true
	gen := s.gen
	req := assistant.Request{
		Message:  trimmed,
		Name:     s.state.UserName,
		AgeRange: s.state.AgeGroup,
		Mood:     moodTag,
	}
	s.mu.Unlock()

	resp, err := s.replier.Reply(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	reply := Reply{Messages: []string{assistant.FallbackMessage}, Mood: moodTag, Stage: StageChat}
	if err != nil {
		s.logger.Warn("Assistant backend failed", "error", err)
	} else {
		reply.Messages = []string{resp.Text}
		reply.IsCrisis = resp.IsCrisis
		if resp.Mood != "" {
			reply.Mood = resp.Mood
		}
	}

	if s.closed || gen != s.gen {
		// Reset while the backend was answering; the reply belongs to the old conversation.
		return Reply{Stage: s.state.Stage}, nil
	}
	if reply.Mood != "" && mood.Valid(mood.Mood(reply.Mood)) {
		s.state.Mood = reply.Mood
	}
	s.state.LastAssistantMessage = reply.Messages[0]
	// Check-ins only follow a real answer, never the fallback.
	if err == nil {
		s.armLocked()
	}
	return reply, nil
}

// SelectAgeRange completes onboarding with one of the fixed age brackets.
func (s *Session) SelectAgeRange(ageRange string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Reply{}, ErrClosed
	}
	if s.state.Stage != StageAwaitingAge {
		return Reply{}, fmt.Errorf("%w: age selection during %s", ErrWrongStage, s.state.Stage)
	}
	age, err := ParseAgeRange(ageRange)
	if err != nil {
		return Reply{}, err
	}

	s.beginUserTurnLocked(ageLabel(age))
	s.state.AgeGroup = age
	s.state.Stage = StageChat
	msg := fmt.Sprintf(closingFmt, s.state.UserName)
	s.state.LastAssistantMessage = msg
	s.armLocked()

	s.logger.Info("Onboarding complete", "age_range", age)
	return Reply{Messages: []string{msg}, Stage: StageChat}, nil
}

// Reset returns the conversation to the name prompt, cancelling playback and
// pending check-ins.
func (s *Session) Reset() (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Reply{}, ErrClosed
	}
	s.interruptLocked()
	s.gen++
	s.lastActive = s.now()
	s.state = State{Stage: StageAwaitingName, LastAssistantMessage: namePrompt}

	s.logger.Info("Conversation reset")
	return Reply{Messages: []string{namePrompt}, Stage: StageAwaitingName}, nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.LastUserInputTime != nil {
		t := *st.LastUserInputTime
		st.LastUserInputTime = &t
	}
	return st
}

// LastActive returns the time of the last user action or start.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// CheckInsPending reports whether the inactivity ladder is armed.
func (s *Session) CheckInsPending() bool {
	return s.ladder.Armed()
}

// Close stops all timers and playback and waits for their goroutines.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.interruptLocked()
	s.stop()
	s.mu.Unlock()

	s.wg.Wait()
}

// beginUserTurnLocked records a user-initiated send. The ladder and any
// playback are cancelled before anything else happens.
func (s *Session) beginUserTurnLocked(text string) {
	s.interruptLocked()
	now := s.now()
	s.state.LastUserInputTime = &now
	s.state.LastUserMessage = text
	s.lastActive = now
}

func (s *Session) interruptLocked() {
	s.ladder.Cancel()
	if s.playCancel != nil {
		s.playCancel()
		s.playCancel = nil
	}
}

func (s *Session) armLocked() {
	if s.state.Stage != StageChat || s.closed {
		return
	}
	s.ladder.Arm(s.ctx, s.now())
}

func (s *Session) startPlaybackLocked(lines []Line) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.playCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		if !s.play(ctx, lines) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.playCancel = nil
		s.armLocked()
	}()
}

// checkIn runs when a ladder rung elapses.
func (s *Session) checkIn(ctx context.Context, r Rung) {
	s.mu.Lock()
	stage, last := s.state.Stage, s.state.LastAssistantMessage
	s.mu.Unlock()

	if stage != StageChat {
		return
	}
	if looksLikeQuestion(last) {
		s.logger.Debug("Check-in suppressed after open question", "rung", r.Name)
		return
	}

	s.logger.Debug("Inactivity check-in", "rung", r.Name)
	s.play(ctx, []Line{
		{Typing: s.pacing.TypingPause, Text: r.Text, Source: SourceCheckIn},
		{Gap: s.pacing.EncourageDelay, Text: s.lib.Encouragement(), Source: SourceEncouragement},
	})
}

func (s *Session) emit(ctx context.Context, ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.closed {
		return false
	}
	s.emitter.Emit(ev)
	return true
}

func (s *Session) emitAlways(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.emitter.Emit(ev)
	}
}

func (s *Session) emitMessage(ctx context.Context, text, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.closed {
		return false
	}
	s.state.LastAssistantMessage = text
	s.emitter.Emit(Event{Type: EventMessage, Text: text, Source: source})
	return true
}

func ageChoices() []AgeChoice {
	out := make([]AgeChoice, len(AgeChoices))
	copy(out, AgeChoices)
	return out
}
