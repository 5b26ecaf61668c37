package tool

import (
	"encoding/json"

	"github.com/harunnryd/chorus/internal/model/contract"
)

type resultBody struct {
	Success bool    `json:"success"`
	Data    Payload `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// FormatResults converts results into the tool_result blocks the model expects
// on continuation, one per result, keyed by the originating call id.
func FormatResults(results []Result) []contract.ContentBlock {
	blocks := make([]contract.ContentBlock, 0, len(results))
	for _, r := range results {
		body := resultBody{Success: r.Success}
		if r.Success {
			body.Data = r.Data
		} else {
			body.Error = r.ErrorMessage
		}

		raw, err := json.Marshal(body)
		if err != nil {
			raw, _ = json.Marshal(resultBody{Error: "unencodable tool result: " + err.Error()})
		}
		blocks = append(blocks, contract.ToolResultBlock(r.ToolCallID, string(raw), !r.Success))
	}
	return blocks
}

// Summary is the payload-free record of one executed call.
type Summary struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

func Summarize(results []Result) []Summary {
	out := make([]Summary, 0, len(results))
	for _, r := range results {
		out = append(out, Summary{Name: r.ToolName, Success: r.Success})
	}
	return out
}
