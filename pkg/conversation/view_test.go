package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveViewFromToolEnd(t *testing.T) {
	path := Conversation{
		NewMessage(RoleUser, "draw", WithID(1)),
		NewMessage(RoleAssistant, "", WithID(2), WithParentID(1),
			WithAgent(AgentFlowchart),
			WithSteps(NewStep(StepToolEnd, "", "graph TD; a-->b", StepDone))),
	}

	view := DeriveView(path, AgentMindmap)
	assert.Equal(t, View{Code: "graph TD; a-->b", Agent: AgentFlowchart}, view)
}

func TestDeriveViewSkipsMessagesWithoutCode(t *testing.T) {
	msgs, err := LoadFromFile("testdata/branching.yaml")
	require.NoError(t, err)
	tree := NewTree(msgs...)
	path := tree.ResolvePath(7, Selections{})

	view := DeriveView(path, AgentMindmap)
	assert.Equal(t, View{Code: "graph TD; a-->c", Agent: AgentFlowchart}, view)
}

func TestDeriveViewKeepsPreviousAgentWhenMessageHasNone(t *testing.T) {
	path := Conversation{
		NewMessage(RoleAssistant, "", WithSteps(NewStep(StepToolEnd, "", "{}", StepDone))),
	}
	assert.Equal(t, View{Code: "{}", Agent: AgentCharts}, DeriveView(path, AgentCharts))
}

func TestDeriveViewUsesLatestToolEndOfMessage(t *testing.T) {
	path := Conversation{
		NewMessage(RoleAssistant, "", WithAgent(AgentMermaid), WithSteps(
			NewStep(StepToolEnd, "", "first", StepDone),
			NewStep(StepToolEnd, "", "second", StepDone),
			NewStep(StepToolEnd, "", "", StepDone),
		)),
	}
	assert.Equal(t, "second", DeriveView(path, AgentMindmap).Code)
}

func TestDeriveViewEmpty(t *testing.T) {
	assert.Equal(t, View{Agent: DefaultAgent}, DeriveView(nil, AgentDrawio))

	path := Conversation{
		NewMessage(RoleUser, "hi", WithSteps(NewStep(StepToolEnd, "", "not mine", StepDone))),
	}
	assert.Equal(t, View{Agent: DefaultAgent}, DeriveView(path, AgentDrawio))
}
