package tool

import (
	"encoding/json"
	"testing"

	"github.com/harunnryd/chorus/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatResults(t *testing.T) {
	results := []Result{
		{ToolCallID: "c1", ToolName: NameSwitchSpeaker, Success: true, Data: SwitchSpeakerOutcome{NewSpeaker: "taylor", Reason: "blunt feedback"}},
		{ToolCallID: "c2", ToolName: "teleport", Success: false, ErrorMessage: UnknownToolMessage},
	}

	blocks := FormatResults(results)
	require.Len(t, blocks, 2)

	assert.Equal(t, contract.BlockToolResult, blocks[0].Type)
	assert.Equal(t, "c1", blocks[0].ToolUseID)
	assert.False(t, blocks[0].IsError)
	assert.JSONEq(t, `{"success":true,"data":{"newSpeaker":"taylor","reason":"blunt feedback"}}`, blocks[0].Content)

	assert.Equal(t, "c2", blocks[1].ToolUseID)
	assert.True(t, blocks[1].IsError)
	assert.JSONEq(t, `{"success":false,"error":"unknown tool"}`, blocks[1].Content)
}

func TestFormatResults_IsPure(t *testing.T) {
	results := []Result{{ToolCallID: "c1", Success: true, Data: RecommendationOutcome{Action: "rest", Priority: PriorityHigh}}}
	snapshot := results[0]

	first := FormatResults(results)
	second := FormatResults(results)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, results[0])
}

func TestSummarize_OmitsPayload(t *testing.T) {
	summary := Summarize([]Result{
		{ToolName: NameGenerateDocument, Success: true, Data: DocumentOutcome{Body: "secret"}},
		{ToolName: "teleport", Success: false},
	})

	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"generate_document","success":true},{"name":"teleport","success":false}]`, string(raw))
}
