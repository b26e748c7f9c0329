package assistant

import (
	"context"
	"fmt"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/content"
	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/mood"
)

var moodThemes = map[mood.Mood]string{
	mood.Sad:      "sadness",
	mood.Anxious:  "anxiety",
	mood.Lonely:   "comfort",
	mood.Grateful: "hope",
	mood.Angry:    "rest",
	mood.Hopeful:  "hope",
}

var moodOpeners = map[mood.Mood]string{
	mood.Sad:      "I'm so sorry you're carrying this, %s. You don't have to carry it alone.",
	mood.Anxious:  "Take a slow breath with me, %s. God is bigger than what worries you.",
	mood.Lonely:   "You're not alone, %s. I'm right here, and so is He.",
	mood.Grateful: "I love that, %s! Gratitude opens our eyes to God's goodness.",
	mood.Angry:    "It's okay to feel angry, %s. God can handle our honest hearts.",
	mood.Hopeful:  "That hope is beautiful, %s. Hold on to it.",
}

// Offline answers from the content library when no backend is configured.
type Offline struct {
	lib *content.Library
}

// NewOffline creates an offline responder.
func NewOffline(lib *content.Library) *Offline {
	return &Offline{lib: lib}
}

// Reply builds a short mood-aware answer around a verse.
func (o *Offline) Reply(_ context.Context, req Request) (*Response, error) {
	name := req.Name
	if name == "" {
		name = "friend"
	}

	m, ok := mood.Classify(req.Message)
	opener := fmt.Sprintf("Thank you for sharing that with me, %s.", name)
	theme := "hope"
	if ok {
		opener = fmt.Sprintf(moodOpeners[m], name)
		theme = moodThemes[m]
	}

	v := o.lib.VerseForTheme(theme)
	resp := &Response{
		Text: fmt.Sprintf("%s Here's something to hold on to: \"%s\" (%s) 💙", opener, v.Text, v.Reference),
	}
	if ok {
		resp.Mood = string(m)
	}
	return resp, nil
}
