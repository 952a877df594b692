package cmds

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const branchingFixture = "../../../pkg/conversation/testdata/branching.yaml"

func runResolve(t *testing.T, args ...string) string {
	cmd := NewResolveCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestResolveDefaultsToLastMessage(t *testing.T) {
	out := runResolve(t, branchingFixture)

	assert.Contains(t, out, "[5] assistant (flowchart) version 2/2")
	assert.Contains(t, out, "[7] assistant")
	assert.NotContains(t, out, "first attempt")
	assert.Contains(t, out, "agent: flowchart")
	assert.Contains(t, out, "graph TD; a-->c")
}

func TestResolveSwitchJSON(t *testing.T) {
	out := runResolve(t, branchingFixture, "--switch", "4", "--output", "json")

	var result struct {
		Messages []struct {
			ID conversation.MessageID `json:"id"`
		} `json:"messages"`
		Versions map[string]string `json:"versions"`
		View     conversation.View `json:"view"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	var ids []conversation.MessageID
	for _, m := range result.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []conversation.MessageID{1, 2, 3, 4}, ids)
	assert.Equal(t, "1/2", result.Versions["4"])
	assert.Equal(t, "graph TD; a-->b", result.View.Code)
	assert.Equal(t, conversation.AgentFlowchart, result.View.Agent)
}

func TestResolveSwitchRoundTrip(t *testing.T) {
	direct := runResolve(t, branchingFixture, "--output", "yaml")
	roundTrip := runResolve(t, branchingFixture, "--switch", "4", "--switch", "5", "--output", "yaml")
	assert.Equal(t, direct, roundTrip)
}

func TestResolveUnknownSwitch(t *testing.T) {
	cmd := NewResolveCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{branchingFixture, "--switch", "42"})
	assert.Error(t, cmd.Execute())
}
