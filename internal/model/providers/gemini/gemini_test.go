package gemini

import (
	"encoding/json"
	"testing"

	"github.com/harunnryd/chorus/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToContents_NamesFunctionResponses(t *testing.T) {
	contents := toContents([]contract.Message{
		{Role: contract.RoleUser, Content: "plan my week"},
		{Role: contract.RoleAssistant, Blocks: []contract.ContentBlock{
			contract.ToolUseBlock(contract.ToolCall{ID: "c1", Name: "recommend_action", Input: json.RawMessage(`{"action":"rest"}`)}),
		}},
		{Role: contract.RoleUser, Blocks: []contract.ContentBlock{
			contract.ToolResultBlock("c1", "not json", true),
		}},
	})

	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "rest", contents[1].Parts[0].FunctionCall.Args["action"])

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "recommend_action", resp.Name)
	assert.Equal(t, "not json", resp.Response["output"])
}
