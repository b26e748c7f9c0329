package conversation

// Action is a user command dispatched through Session.Dispatch.
type Action interface {
	actionName() string
}

// SendMessage submits free text typed by the user.
type SendMessage struct {
	Text string
}

// SelectAge picks one of the fixed age brackets.
type SelectAge struct {
	Range string
}

// ResetConversation clears the conversation back to onboarding.
type ResetConversation struct{}

func (SendMessage) actionName() string       { return "send_message" }
func (SelectAge) actionName() string         { return "select_age" }
func (ResetConversation) actionName() string { return "reset" }
