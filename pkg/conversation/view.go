package conversation

// View is what the canvas shows for an active path.
type View struct {
	Code  string    `json:"current_code" yaml:"current_code"`
	Agent AgentType `json:"active_agent" yaml:"active_agent"`
}

// DeriveView scans path from the tail for the newest assistant message
// carrying diagram code. The message's agent wins, otherwise previous is kept.
// A path without diagram code shows an empty DefaultAgent canvas.
func DeriveView(path Conversation, previous AgentType) View {
	for i := len(path) - 1; i >= 0; i-- {
		msg := path[i]
		if !msg.IsAssistant() {
			continue
		}
		code, ok := msg.DiagramCode()
		if !ok {
			continue
		}
		return ViewOf(msg, code, previous)
	}
	return View{Agent: DefaultAgent}
}

// ViewOf is the view of a single message's code.
func ViewOf(msg *Message, code string, previous AgentType) View {
	agent := previous
	if msg.Agent != "" {
		agent = msg.Agent
	}
	return View{Code: code, Agent: agent}
}
